package model

import "time"

// Message is one stored mailbox message. (AccountID, MessageID) is unique.
type Message struct {
	ID           string  `db:"id" json:"id"`
	UserID       string  `db:"user_id" json:"user_id"`
	AccountID    string  `db:"account_id" json:"account_id" validate:"required"`
	MessageID    string  `db:"message_id" json:"message_id" validate:"required"`
	LeadID       *string `db:"lead_id" json:"lead_id"`
	ThreadID     string  `db:"thread_id" json:"thread_id,omitempty"`
	Owner        string  `db:"owner" json:"owner,omitempty" validate:"max=255"`
	Sender       string  `db:"sender" json:"sender,omitempty" validate:"max=255"`
	Receiver     string  `db:"receiver" json:"receiver,omitempty"`
	Subject      string  `db:"subject" json:"subject,omitempty"`
	Body         string  `db:"body" json:"body,omitempty"`
	Summary      string  `db:"summary" json:"summary,omitempty"`
	IsRead       bool    `db:"is_read" json:"is_read"`
	Folder       string  `db:"folder" json:"folder,omitempty"`
	InternalDate int64   `db:"internal_date" json:"internal_date,omitempty"`
	// HistoryID is the provider revision marker: Gmail historyId or Outlook changeKey.
	HistoryID string    `db:"history_id" json:"history_id,omitempty"`
	RawData   RawJSON   `db:"raw_data" json:"raw_data,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// MessageFilter narrows ListMessages. Zero values mean no filter.
type MessageFilter struct {
	AccountID  string
	Folder     string
	LeadID     string
	UnreadOnly bool
	Search     string
	Offset     int
	Limit      int
}

// SyncStatus is the per-user summary of stored mail.
type SyncStatus struct {
	TotalMessages  int            `json:"total_messages"`
	UnreadMessages int            `json:"unread_messages"`
	FolderCounts   map[string]int `json:"folder_counts"`
	LatestSync     *time.Time     `json:"latest_sync"`
	Accounts       []SyncState    `json:"accounts"`
}
