// Package presence tracks which display name each live connection uses.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Elpepit0/site-tchat-visio/domain/chat"
	"github.com/Elpepit0/site-tchat-visio/domain/state"
)

// UsersKey is the hash holding one JSON record per connection id.
const UsersKey = "tchat:users"

// AvatarLookup resolves a display name to an avatar URL.
type AvatarLookup interface {
	LookupAvatar(ctx context.Context, username string) (string, error)
}

// Liveness tells which relay processes are still running.
type Liveness interface {
	ID() string
	Alive(ctx context.Context, instance string) (bool, error)
}

// Registry maps connection ids to connected users.
type Registry struct {
	store    state.Store
	liveness Liveness
	now      func() time.Time
}

// NewRegistry creates a presence registry on top of store.
func NewRegistry(store state.Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// SetLiveness makes entries carry the id of the process that added them and
// drops entries of processes that are gone. Call before the first Add.
func (r *Registry) SetLiveness(l Liveness) {
	r.liveness = l
}

// Add records conn under name, overwriting any previous entry.
func (r *Registry) Add(ctx context.Context, conn, name string) error {
	user := chat.ConnectedUser{
		ConnectionID: conn,
		Username:     name,
		ConnectedAt:  r.now().UTC(),
	}
	if r.liveness != nil {
		user.Instance = r.liveness.ID()
	}
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode presence entry: %w", err)
	}
	if err := r.store.HashSet(ctx, UsersKey, conn, data); err != nil {
		return fmt.Errorf("failed to store presence entry: %w", err)
	}
	return nil
}

// Rename changes the display name of conn and refreshes its timestamp.
// An unknown connection is added.
func (r *Registry) Rename(ctx context.Context, conn, name string) error {
	return r.Add(ctx, conn, name)
}

// Remove deletes the entry of conn. It reports whether an entry existed.
func (r *Registry) Remove(ctx context.Context, conn string) (bool, error) {
	n, err := r.store.HashDelete(ctx, UsersKey, conn)
	if err != nil {
		return false, fmt.Errorf("failed to remove presence entry: %w", err)
	}
	return n > 0, nil
}

// Get returns the entry of conn, or state.ErrNotFound.
func (r *Registry) Get(ctx context.Context, conn string) (chat.ConnectedUser, error) {
	data, err := r.store.HashGet(ctx, UsersKey, conn)
	if err != nil {
		return chat.ConnectedUser{}, err
	}
	var user chat.ConnectedUser
	if err := json.Unmarshal(data, &user); err != nil {
		return chat.ConnectedUser{}, fmt.Errorf("failed to decode presence entry: %w", err)
	}
	return user, nil
}

// DisplayName resolves the name conn currently uses. A connection that is no
// longer registered resolves to the default display name.
func (r *Registry) DisplayName(ctx context.Context, conn string) (string, error) {
	user, err := r.Get(ctx, conn)
	if errors.Is(err, state.ErrNotFound) {
		return chat.DefaultDisplayName, nil
	}
	if err != nil {
		return "", err
	}
	return user.Username, nil
}

// Entries returns every connected user ordered by connection time. Entries
// left behind by a process that is gone are deleted and not returned.
func (r *Registry) Entries(ctx context.Context) ([]chat.ConnectedUser, error) {
	users, _, err := r.entries(ctx)
	return users, err
}

// Prune deletes the entries of processes that are gone and returns their
// connection ids.
func (r *Registry) Prune(ctx context.Context) ([]string, error) {
	_, stale, err := r.entries(ctx)
	return stale, err
}

func (r *Registry) entries(ctx context.Context) ([]chat.ConnectedUser, []string, error) {
	raw, err := r.store.HashGetAll(ctx, UsersKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list presence entries: %w", err)
	}

	alive := make(map[string]bool)
	users := make([]chat.ConnectedUser, 0, len(raw))
	var stale []string
	for conn, data := range raw {
		var user chat.ConnectedUser
		if err := json.Unmarshal(data, &user); err != nil {
			continue
		}
		user.ConnectionID = conn

		if r.liveness != nil {
			ok, seen := alive[user.Instance]
			if !seen {
				ok, err = r.liveness.Alive(ctx, user.Instance)
				if err != nil {
					return nil, nil, err
				}
				alive[user.Instance] = ok
			}
			if !ok {
				stale = append(stale, conn)
				continue
			}
		}
		users = append(users, user)
	}

	if len(stale) > 0 {
		sort.Strings(stale)
		if _, err := r.store.HashDelete(ctx, UsersKey, stale...); err != nil {
			return nil, nil, fmt.Errorf("failed to prune presence entries: %w", err)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].ConnectedAt.Equal(users[j].ConnectedAt) {
			return users[i].ConnectionID < users[j].ConnectionID
		}
		return users[i].ConnectedAt.Before(users[j].ConnectedAt)
	})
	return users, stale, nil
}

// List returns the user_list snapshot. Each distinct name is looked up once;
// a failed or empty lookup leaves avatar_url null.
func (r *Registry) List(ctx context.Context, lookup AvatarLookup) ([]chat.UserListEntry, error) {
	users, err := r.Entries(ctx)
	if err != nil {
		return nil, err
	}

	avatars := make(map[string]*string)
	out := make([]chat.UserListEntry, 0, len(users))
	for _, u := range users {
		avatar, seen := avatars[u.Username]
		if !seen {
			avatar = resolveAvatar(ctx, lookup, u.Username)
			avatars[u.Username] = avatar
		}
		out = append(out, chat.UserListEntry{
			ConnectionID: u.ConnectionID,
			Username:     u.Username,
			ConnectedAt:  u.ConnectedAt,
			AvatarURL:    avatar,
		})
	}
	return out, nil
}

// ConnectionsNamed returns the connections currently using name.
func (r *Registry) ConnectionsNamed(ctx context.Context, name string) ([]string, error) {
	users, err := r.Entries(ctx)
	if err != nil {
		return nil, err
	}
	var conns []string
	for _, u := range users {
		if u.Username == name {
			conns = append(conns, u.ConnectionID)
		}
	}
	return conns, nil
}

func resolveAvatar(ctx context.Context, lookup AvatarLookup, name string) *string {
	if lookup == nil || name == chat.DefaultDisplayName {
		return nil
	}
	url, err := lookup.LookupAvatar(ctx, name)
	if err != nil || url == "" {
		return nil
	}
	return &url
}
