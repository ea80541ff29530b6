package repository

import (
	"time"
)

// Email is one stored message record. One inbound transaction with N
// recipients produces N independent rows: each inbox owns its own copy,
// so deleting one can never affect another's.
type Email struct {
	ID         int64     `db:"id" json:"id"`
	Inbox      string    `db:"inbox" json:"inbox"`
	Sender     string    `db:"sender" json:"sender"`
	Subject    string    `db:"subject" json:"subject"`
	BodyText   string    `db:"body_text" json:"bodyText"`
	BodyHTML   string    `db:"body_html" json:"bodyHtml"`
	ReceivedAt time.Time `db:"received_at" json:"receivedAt"`
}

// NewEmail holds the caller-supplied fields for one record. Identity and
// received_at are assigned by the store.
type NewEmail struct {
	Inbox    string
	Sender   string
	Subject  string
	BodyText string
	BodyHTML string
}
