package profile

// Error codes carried in responses for expected failures.
const (
	CodeUserExists         = "user_exists"
	CodeInvalidCredentials = "invalid_credentials"
	CodeInvalidInput       = "invalid_input"
	CodeNotFound           = "not_found"
)

// CredentialsRequest is the register and login request.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SessionResponse is the register and login response.
type SessionResponse struct {
	Username  string `json:"username,omitempty"`
	Token     string `json:"token,omitempty"`
	ExpiresIn int64  `json:"expires_in,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ValidateTokenRequest represents a token validation request.
type ValidateTokenRequest struct {
	Token string `json:"token"`
}

// ValidateTokenResponse represents a token validation response.
type ValidateTokenResponse struct {
	Valid    bool   `json:"valid"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Error    string `json:"error,omitempty"`
}

// FindUserRequest looks a user up by name.
type FindUserRequest struct {
	Username string `json:"username"`
}

// ProfileResponse is the public profile of a user.
type ProfileResponse struct {
	Found     bool   `json:"found"`
	Username  string `json:"username,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	IsAdmin   bool   `json:"is_admin,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SetAvatarRequest changes a user's avatar.
type SetAvatarRequest struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}
