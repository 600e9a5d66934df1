package model

import "time"

// CursorKey is the key of the rotation cursor row inside each pool scope.
const CursorKey = "lastUsedIndex"

// Account is a site credential plus the browser session captured by the
// out-of-band login flow.
type Account struct {
	ID           string       `json:"id"`
	Site         string       `json:"site"`
	Identity     string       `json:"identity"`
	SecretHash   string       `json:"-"`
	SessionState SessionState `json:"session_state"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// SessionState is the persisted authentication state of an Account.
type SessionState struct {
	Cookies   []Cookie `json:"cookies,omitempty"`
	CSRFToken string   `json:"csrf_token,omitempty"`
}

// Empty reports whether there is nothing to restore a session from.
func (s SessionState) Empty() bool {
	return len(s.Cookies) == 0
}

// Cookie mirrors the browser cookie fields needed to restore a session.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"` // seconds since epoch, 0 = session cookie
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}
