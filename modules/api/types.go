package api

// CredentialsRequest is the body of /register and /login.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SessionResponse is returned after a successful register or login. The
// token itself travels in the session cookie.
type SessionResponse struct {
	Message   string `json:"message"`
	Username  string `json:"username"`
	ExpiresIn int64  `json:"expires_in"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// MeResponse describes the logged in user.
type MeResponse struct {
	Username  string `json:"username"`
	IsAdmin   bool   `json:"is_admin"`
	AvatarURL string `json:"avatar_url"`
}

// UserResponse is the public profile of a user.
type UserResponse struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}

// SetAvatarRequest is the body of /set_avatar.
type SetAvatarRequest struct {
	AvatarURL string `json:"avatar_url"`
}

// AvatarResponse is returned after the avatar changed.
type AvatarResponse struct {
	AvatarURL string `json:"avatar_url"`
}

// PingResponse is returned by /ping.
type PingResponse struct {
	Status string `json:"status"`
}

// ActiveVisitorsResponse is returned by /active_visitors.
type ActiveVisitorsResponse struct {
	ActiveVisitors int `json:"active_visitors"`
}

// ErrorResponse is the API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ModuleHealth is the health of one module in HealthResponse.
type ModuleHealth struct {
	Healthy bool           `json:"healthy"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// HealthResponse is the API health check response.
type HealthResponse struct {
	Status  string                  `json:"status"`
	Modules map[string]ModuleHealth `json:"modules,omitempty"`
}
