package model

import "time"

// Account is a connected mailbox together with its OAuth credential.
type Account struct {
	ID           string     `db:"id" json:"id"`
	UserID       string     `db:"user_id" json:"user_id"`
	Provider     string     `db:"provider" json:"provider"`
	Email        string     `db:"email" json:"email"`
	AccessToken  string     `db:"access_token" json:"-"`
	RefreshToken string     `db:"refresh_token" json:"-"`
	ExpiresAt    *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Sync states
const (
	SyncStatusSyncing = "SYNCING"
	SyncStatusOK      = "OK"
	SyncStatusError   = "ERROR"
	SyncStatusExpired = "EXPIRED"
)

// SyncState tracks the last sync of one account.
type SyncState struct {
	AccountID    string     `db:"account_id" json:"account_id"`
	UserID       string     `db:"user_id" json:"user_id"`
	Status       string     `db:"status" json:"status"`
	LastError    string     `db:"last_error" json:"last_error,omitempty"`
	LastSyncedAt *time.Time `db:"last_synced_at" json:"last_synced_at,omitempty"`
	MessagesSeen int        `db:"messages_seen" json:"messages_seen"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// OAuthState is a pending authorization request. It is single use.
type OAuthState struct {
	State     string    `db:"state"`
	UserID    string    `db:"user_id"`
	Provider  string    `db:"provider"`
	CreatedAt time.Time `db:"created_at"`
	ExpiresAt time.Time `db:"expires_at"`
}

// OutboxEvent is an event waiting to be published to the message bus.
type OutboxEvent struct {
	ID      int64  `db:"id"`
	UserID  string `db:"user_id"`
	Subject string `db:"subject"`
	Type    string `db:"event_type"`
	Payload []byte `db:"payload"`
	MsgID   string `db:"msg_id"`
	Retries int    `db:"retries"`
}
