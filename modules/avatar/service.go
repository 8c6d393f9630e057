package avatar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	fsjetstream "github.com/go-monolith/mono/plugin/fs-jetstream"
	"github.com/google/uuid"
)

const (
	// MaxAvatarBytes is the largest accepted upload.
	MaxAvatarBytes = 2 * 1024 * 1024
	// URLPrefix is the public path avatars are served under.
	URLPrefix = "/avatars/"
)

var (
	// ErrAvatarNotFound is returned when no avatar has the requested id.
	ErrAvatarNotFound = errors.New("avatar not found")
	// ErrInvalidAvatarID is returned when the id is not a UUID.
	ErrInvalidAvatarID = errors.New("invalid avatar id")
	// ErrUnsupportedImage is returned for uploads that are not a known image type.
	ErrUnsupportedImage = errors.New("avatar must be a png, jpeg, gif or webp image")
	// ErrTooLarge is returned for uploads above MaxAvatarBytes.
	ErrTooLarge = errors.New("avatar exceeds maximum size")
	// ErrEmpty is returned for empty uploads.
	ErrEmpty = errors.New("avatar is empty")
	// ErrNotStarted is returned by Module before its bucket is resolved.
	ErrNotStarted = errors.New("avatar module not started")
)

var allowedTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// Avatar describes a stored image.
type Avatar struct {
	ID          string    `json:"id"`
	URL         string    `json:"avatar_url"`
	Owner       string    `json:"owner"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// Service stores avatar images in an fs-jetstream bucket. Objects are keyed
// by a generated UUID.
type Service struct {
	bucket fsjetstream.FileStoragePort
}

// NewService creates a new avatar service with the given storage bucket.
func NewService(bucket fsjetstream.FileStoragePort) *Service {
	return &Service{bucket: bucket}
}

// Upload stores data as owner's avatar. The content type is sniffed from the
// data; the client supplied one is ignored.
func (s *Service) Upload(ctx context.Context, owner string, data []byte) (*Avatar, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if len(data) > MaxAvatarBytes {
		return nil, ErrTooLarge
	}
	contentType := http.DetectContentType(data)
	if !allowedTypes[contentType] {
		return nil, ErrUnsupportedImage
	}

	id := uuid.New().String()
	info, err := s.bucket.Put(ctx, id, data,
		fsjetstream.WithDescription(fmt.Sprintf("Avatar of %s", owner)),
		fsjetstream.WithHeaders(map[string]string{
			"Content-Type": contentType,
			"Owner":        owner,
			"Uploaded-At":  time.Now().Format(time.RFC3339),
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store avatar: %w", err)
	}

	return &Avatar{
		ID:          id,
		URL:         URLPrefix + id,
		Owner:       owner,
		ContentType: contentType,
		Size:        int64(info.Size),
		CreatedAt:   info.ModTime,
	}, nil
}

// Get returns the image bytes and content type of the avatar id.
func (s *Service) Get(_ context.Context, id string) ([]byte, string, error) {
	obj, err := s.find(id)
	if err != nil {
		return nil, "", err
	}
	data, err := s.bucket.Get(obj.Name)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get avatar: %w", err)
	}
	contentType := obj.Headers["Content-Type"]
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// Delete removes the avatar id if owner uploaded it.
func (s *Service) Delete(_ context.Context, id, owner string) error {
	obj, err := s.find(id)
	if err != nil {
		return err
	}
	if obj.Headers["Owner"] != owner {
		return ErrAvatarNotFound
	}
	if err := s.bucket.Delete(obj.Name); err != nil {
		return fmt.Errorf("failed to delete avatar: %w", err)
	}
	return nil
}

// IDFromURL extracts the avatar id from a URL produced by Upload.
func IDFromURL(url string) (string, bool) {
	if !strings.HasPrefix(url, URLPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(url, URLPrefix)
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

func (s *Service) find(id string) (*fsjetstream.ObjectInfo, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAvatarID, id)
	}
	objects, err := s.bucket.List(fsjetstream.WithPrefix(id))
	if err != nil {
		return nil, fmt.Errorf("failed to list avatars: %w", err)
	}
	for i := range objects {
		if objects[i].Name == id {
			return &objects[i], nil
		}
	}
	return nil, ErrAvatarNotFound
}
