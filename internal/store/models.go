package store

import "time"

type User struct {
	ID                    string
	Email                 string
	PasswordHash          string
	DisplayName           string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Customer struct {
	ID          string
	UserID      string
	Name        string
	ProfileData string // JSON blob: {"forms": {...}}
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Agent struct {
	ID        string
	UserID    *string
	Name      string
	Agency    string
	Lines     string
	City      string
	State     string
	Bio       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProfileShare is a token+code protected grant of read or read/edit access
// to a subset of a customer's profile. Status moves active -> revoked or
// active -> expired; pendingStatus tracks the edit approval sub-state and is
// only meaningful while the share is active.
type ProfileShare struct {
	Token                   string
	CodeHash                string
	CustomerID              string
	AgentID                 *string
	RecipientName           string
	RecipientNameNormalized string
	Sections                string // JSON Sections selection
	Snapshot                string // JSON forms baseline, immutable except on accept
	Editable                bool
	Status                  string // active | revoked | expired
	PendingStatus           string // none | pending | accepted | declined
	PendingEdits            string // JSON {"forms": {...}} or empty
	PendingAt               *time.Time
	LastAccessedAt          time.Time
	CreatedAt               time.Time
}

type LegalDocument struct {
	ID          int64
	Type        string
	Version     string
	Content     string
	ContentHash string
	PublishedAt time.Time
}

type UserConsent struct {
	ID           int64
	UserID       string
	Role         string
	DocumentType string
	Version      string
	IPAddress    string
	UserAgent    string
	ConsentItems string
	ConsentedAt  time.Time
}

type Conversation struct {
	ID         string
	CustomerID string
	AgentID    string
	CreatedAt  time.Time
}

type Message struct {
	ID             int64
	ConversationID string
	SenderRole     string
	Body           string
	CreatedAt      time.Time
}
