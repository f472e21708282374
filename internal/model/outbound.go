package model

import "time"

// Draft states
const (
	DraftStatusDraft = "draft"
	DraftStatusSent  = "sent"
)

// SentEmail is one entry of the sent history. The provider message id is
// empty for Outlook, whose sendMail call does not report one.
type SentEmail struct {
	ID                string     `db:"id" json:"id"`
	UserID            string     `db:"user_id" json:"user_id"`
	AccountID         string     `db:"account_id" json:"account_id"`
	ProviderMessageID string     `db:"provider_message_id" json:"provider_message_id,omitempty"`
	DraftID           *string    `db:"draft_id" json:"draft_id,omitempty"`
	Subject           string     `db:"subject" json:"subject"`
	Recipients        StringList `db:"recipients" json:"recipients"`
	Cc                StringList `db:"cc_recipients" json:"cc"`
	Bcc               StringList `db:"bcc_recipients" json:"bcc"`
	BodyPreview       string     `db:"body_preview" json:"body_preview"`
	SentAt            time.Time  `db:"sent_at" json:"sent_at"`
}

// SentFilter narrows ListSent. Zero values mean no filter.
type SentFilter struct {
	AccountID string
	Limit     int
}

// Draft is an unsent message kept for later editing.
type Draft struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"user_id"`
	AccountID string     `db:"account_id" json:"account_id" validate:"required"`
	To        StringList `db:"to_emails" json:"to" validate:"dive,email"`
	Cc        StringList `db:"cc_emails" json:"cc" validate:"dive,email"`
	Bcc       StringList `db:"bcc_emails" json:"bcc" validate:"dive,email"`
	Subject   string     `db:"subject" json:"subject" validate:"max=998"`
	Body      string     `db:"body" json:"body"`
	IsHTML    bool       `db:"is_html" json:"is_html"`
	Status    string     `db:"status" json:"status"`
	SentAt    *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// DraftUpdate is a partial update. Nil fields are left unchanged.
type DraftUpdate struct {
	To      *[]string `json:"to" validate:"omitempty,dive,email"`
	Cc      *[]string `json:"cc" validate:"omitempty,dive,email"`
	Bcc     *[]string `json:"bcc" validate:"omitempty,dive,email"`
	Subject *string   `json:"subject" validate:"omitempty,max=998"`
	Body    *string   `json:"body"`
	IsHTML  *bool     `json:"is_html"`
}

// Apply copies the set fields of u onto d.
func (u DraftUpdate) Apply(d *Draft) {
	if u.To != nil {
		d.To = StringList(*u.To)
	}
	if u.Cc != nil {
		d.Cc = StringList(*u.Cc)
	}
	if u.Bcc != nil {
		d.Bcc = StringList(*u.Bcc)
	}
	setString(&d.Subject, u.Subject)
	setString(&d.Body, u.Body)
	if u.IsHTML != nil {
		d.IsHTML = *u.IsHTML
	}
}

// DraftFilter narrows ListDrafts. Search matches subject or body.
type DraftFilter struct {
	AccountID string
	Search    string
	Limit     int
}
