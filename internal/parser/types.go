package parser

// ParsedMessage represents a decoded inbound message
type ParsedMessage struct {
	// Sender is the address taken from the From header, display form.
	Sender string `json:"sender"`
	// SenderName is the display name from the From header, if any.
	SenderName string `json:"sender_name"`
	// Subject is the decoded Subject header, trimmed. Empty when the
	// header is absent or blank; callers decide on a placeholder.
	Subject string `json:"subject"`
	// BodyText is the text/plain part, empty string when none exists.
	BodyText string `json:"body_text"`
	// BodyHTML is the text/html part. Always "" when HasHTML is false;
	// a missing HTML part must never leak a sentinel value downstream.
	BodyHTML string `json:"body_html"`
	// HasHTML distinguishes an empty HTML part from no HTML part at all.
	HasHTML bool `json:"has_html"`
}

// ParseError represents an error decoding a message
type ParseError struct {
	Stage   string // which parsing stage failed
	Message string
}

// Error implements the error interface
func (e *ParseError) Error() string {
	return e.Message
}

// Content type constants
const (
	contentTypePlain = "text/plain"
	contentTypeHTML  = "text/html"
)

// Transfer encoding constants
const (
	encodingQuotedPrintable = "quoted-printable"
	encodingBase64          = "base64"
)

// Header constants
const (
	headerFrom        = "From"
	headerSubject     = "Subject"
	headerContentType = "Content-Type"
	headerEncoding    = "Content-Transfer-Encoding"
	headerDisposition = "Content-Disposition"
)
