package models

// AuthState holds the Hugging Face credentials entered in the panel.
// In-memory only; the token is never written to disk.
type AuthState struct {
	Token         string `json:"-"`
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username,omitempty"`
}
