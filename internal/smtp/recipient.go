package smtp

import (
	"fmt"
	"strings"
)

// RejectionError is a per-recipient policy rejection carrying the SMTP
// status to return. Rejections never abort the session.
type RejectionError struct {
	Code    int
	Message string
}

// Error implements the error interface
func (e *RejectionError) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

// Resolver maps RCPT TO addresses to inbox identifiers.
//
// In open mode (empty acceptedDomain) any syntactically valid address is
// accepted. In domain-restricted mode only addresses on the configured
// domain are, compared case-insensitively.
type Resolver struct {
	acceptedDomain string
}

// NewResolver creates a Resolver. An empty acceptedDomain selects open mode.
func NewResolver(acceptedDomain string) *Resolver {
	return &Resolver{acceptedDomain: strings.ToLower(strings.TrimSpace(acceptedDomain))}
}

// Open reports whether the resolver accepts mail for any domain
func (r *Resolver) Open() bool {
	return r.acceptedDomain == ""
}

// AcceptedDomain returns the configured recipient domain, "" in open mode
func (r *Resolver) AcceptedDomain() string {
	return r.acceptedDomain
}

// Resolve validates a recipient address and derives its inbox identifier,
// the lowercased local-part. A rejection is returned as *RejectionError.
func (r *Resolver) Resolve(address string) (string, error) {
	local, domain, ok := splitAddress(address)
	if !ok {
		return "", &RejectionError{
			Code:    CodeSyntaxErrorParams,
			Message: "Invalid recipient address",
		}
	}

	// An empty local-part must never become an empty-string inbox.
	if local == "" {
		return "", &RejectionError{
			Code:    CodeMailboxUnavailable,
			Message: "Mailbox unavailable",
		}
	}

	if r.acceptedDomain != "" && strings.ToLower(domain) != r.acceptedDomain {
		return "", &RejectionError{
			Code:    CodeMailboxUnavailable,
			Message: fmt.Sprintf("Only @%s addresses are accepted", r.acceptedDomain),
		}
	}

	return strings.ToLower(local), nil
}

// splitAddress splits local@domain, requiring exactly one @ and a domain
func splitAddress(address string) (local, domain string, ok bool) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", "", false
	}

	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return "", "", false
	}

	return address[:at], address[at+1:], true
}
