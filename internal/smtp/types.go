package smtp

import (
	"time"
)

// Config holds SMTP server configuration
type Config struct {
	Port     int
	Hostname string
	// AcceptedDomain restricts recipients to one domain when non-empty.
	AcceptedDomain    string
	MaxConnections    int
	ConnectionTimeout time.Duration
	MaxMessageSize    int64
	MaxRecipients     int
}

// DefaultConfig returns default SMTP configuration
func DefaultConfig() *Config {
	return &Config{
		Port:              2525,
		Hostname:          "dispomail.local",
		MaxConnections:    100,
		ConnectionTimeout: 5 * time.Minute,
		MaxMessageSize:    25 * 1024 * 1024,
		MaxRecipients:     100,
	}
}

// Recipient is one accepted RCPT TO target
type Recipient struct {
	// Address is the full address as received on the wire.
	Address string
	// Inbox is the lowercased local-part the message is filed under.
	Inbox string
}

// Envelope carries the sender/recipient metadata for one mail transaction.
// It is created at MAIL FROM, appended to at each accepted RCPT TO, and
// discarded once DATA completes or the session resets.
type Envelope struct {
	Sender     string
	Recipients []Recipient
}

// SMTP response codes
const (
	CodeServiceReady       = 220
	CodeServiceClosing     = 221
	CodeOK                 = 250
	CodeStartMailInput     = 354
	CodeServiceUnavailable = 421
	CodeSyntaxError        = 500
	CodeSyntaxErrorParams  = 501
	CodeNotImplemented     = 502
	CodeBadSequence        = 503
	CodeMailboxUnavailable = 550
	CodeMessageTooLarge    = 552
	CodeTransactionFailed  = 554
)

// Response messages for bare status replies
var responses = map[int]string{
	CodeServiceReady:       "ESMTP",
	CodeServiceClosing:     "Bye",
	CodeOK:                 "OK",
	CodeStartMailInput:     "Start mail input; end with <CRLF>.<CRLF>",
	CodeServiceUnavailable: "Service not available",
	CodeSyntaxError:        "Syntax error",
	CodeSyntaxErrorParams:  "Syntax error in parameters",
	CodeNotImplemented:     "Command not implemented",
	CodeBadSequence:        "Bad sequence of commands",
	CodeMailboxUnavailable: "Mailbox unavailable",
	CodeMessageTooLarge:    "Message too large",
	CodeTransactionFailed:  "Transaction failed",
}
