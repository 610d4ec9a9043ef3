package domain

import "time"

// SessionToken is serialized MTProto session material. It is the only input
// needed to reconnect an account and is treated as opaque.
type SessionToken string

// String redacts the token so it never leaks through fmt or log output.
func (t SessionToken) String() string {
	if t == "" {
		return ""
	}
	return "[redacted]"
}

type ConversationKind string

const (
	KindGroup   ConversationKind = "group"
	KindChannel ConversationKind = "channel"
)

type Conversation struct {
	ID     int64            `json:"id"`
	Title  string           `json:"title"`
	Kind   ConversationKind `json:"type"`
	Avatar string           `json:"photoUrl,omitempty"` // data URI, empty when unavailable
}

type Message struct {
	ID         int       `json:"messageId"`
	AuthorID   int64     `json:"authorId,omitempty"`
	AuthorName string    `json:"authorName,omitempty"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"date"`
}

// Account is the Telegram user returned by a completed login.
type Account struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// Authorization is the result of a successful sign-in.
type Authorization struct {
	AccountID    int64
	Username     string
	FirstName    string
	SessionToken SessionToken
}

type PendingAuth struct {
	PhoneNumber  string
	CodeHash     string
	SessionToken SessionToken
	State        AuthState
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the login attempt is past its deadline at now.
func (p PendingAuth) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// User is the backend's record of an authorized account.
type User struct {
	ID           int64
	AccountID    int64
	Username     string
	FirstName    string
	PhoneNumber  string
	SessionToken SessionToken
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type AuthState string

const (
	AuthStateIdle             AuthState = "idle"
	AuthStateCodeSent         AuthState = "code_sent"
	AuthStatePasswordRequired AuthState = "password_required"
	AuthStateAuthenticated    AuthState = "authenticated"
)
