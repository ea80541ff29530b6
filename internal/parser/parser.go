// Package parser decodes raw SMTP DATA payloads into structured messages.
package parser

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

// Parser implements message parsing for inbound mail
type Parser struct{}

// New creates a new Parser instance
func New() *Parser {
	return &Parser{}
}

// Parse decodes a raw RFC 5322 message into a ParsedMessage.
// It is a pure transform: a failure yields no partial result, and the
// caller is expected to reject the SMTP transaction.
func (p *Parser) Parse(raw []byte) (*ParsedMessage, error) {
	if len(raw) == 0 {
		return nil, &ParseError{Stage: "read", Message: "empty message data"}
	}

	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, &ParseError{
			Stage:   "headers",
			Message: fmt.Sprintf("failed to parse message: %v", err),
		}
	}

	sender, senderName := p.extractFrom(msg.Header.Get(headerFrom))
	subject := strings.TrimSpace(p.decodeHeader(msg.Header.Get(headerSubject)))

	text, html, hasHTML, err := p.extractBody(msg)
	if err != nil {
		return nil, &ParseError{
			Stage:   "body",
			Message: fmt.Sprintf("failed to decode body: %v", err),
		}
	}

	return &ParsedMessage{
		Sender:     sender,
		SenderName: senderName,
		Subject:    subject,
		BodyText:   text,
		BodyHTML:   html,
		HasHTML:    hasHTML,
	}, nil
}

// extractFrom extracts address and display name from the From header
func (p *Parser) extractFrom(from string) (address, name string) {
	if from == "" {
		return "", ""
	}

	from = p.decodeHeader(from)
	addr, err := mail.ParseAddress(from)
	if err != nil {
		// Keep the raw value rather than dropping the sender entirely
		return strings.TrimSpace(from), ""
	}
	return addr.Address, addr.Name
}

// decodeHeader decodes MIME encoded words in a header value
func (p *Parser) decodeHeader(value string) string {
	if value == "" {
		return ""
	}

	decoder := new(mime.WordDecoder)
	decoded, err := decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

// extractBody extracts the plain-text and HTML bodies from a message.
// hasHTML reports whether a text/html part existed at all.
func (p *Parser) extractBody(msg *mail.Message) (text, html string, hasHTML bool, err error) {
	contentType := msg.Header.Get(headerContentType)
	if contentType == "" {
		contentType = contentTypePlain
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// No usable content type; treat the body as plain text
		body, readErr := p.readPart(msg.Body, msg.Header.Get(headerEncoding))
		if readErr != nil {
			return "", "", false, readErr
		}
		return body, "", false, nil
	}

	switch {
	case mediaType == contentTypePlain:
		body, err := p.readPart(msg.Body, msg.Header.Get(headerEncoding))
		if err != nil {
			return "", "", false, err
		}
		return body, "", false, nil

	case mediaType == contentTypeHTML:
		body, err := p.readPart(msg.Body, msg.Header.Get(headerEncoding))
		if err != nil {
			return "", "", false, err
		}
		return "", body, true, nil

	case strings.HasPrefix(mediaType, "multipart/"):
		boundary := params["boundary"]
		if boundary == "" {
			return "", "", false, fmt.Errorf("missing boundary for %s", mediaType)
		}
		return p.extractMultipart(msg.Body, boundary)

	default:
		// Unknown single-part type; best effort as text
		body, err := p.readPart(msg.Body, msg.Header.Get(headerEncoding))
		if err != nil {
			return "", "", false, err
		}
		return body, "", false, nil
	}
}

// extractMultipart walks a multipart body collecting the first text/plain
// and text/html parts. Attachment parts are skipped; nested multiparts
// (alternative inside mixed) are descended into.
func (p *Parser) extractMultipart(body io.Reader, boundary string) (text, html string, hasHTML bool, err error) {
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", "", false, err
		}

		if strings.HasPrefix(part.Header.Get(headerDisposition), "attachment") {
			continue
		}

		mediaType, params, _ := mime.ParseMediaType(part.Header.Get(headerContentType))

		switch {
		case mediaType == contentTypePlain || mediaType == "":
			if text != "" {
				continue
			}
			body, err := p.readPart(part, part.Header.Get(headerEncoding))
			if err != nil {
				continue
			}
			text = body

		case mediaType == contentTypeHTML:
			if hasHTML {
				continue
			}
			body, err := p.readPart(part, part.Header.Get(headerEncoding))
			if err != nil {
				continue
			}
			html = body
			hasHTML = true

		case strings.HasPrefix(mediaType, "multipart/"):
			if nested := params["boundary"]; nested != "" {
				nestedText, nestedHTML, nestedHas, _ := p.extractMultipart(part, nested)
				if text == "" {
					text = nestedText
				}
				if !hasHTML && nestedHas {
					html = nestedHTML
					hasHTML = true
				}
			}
		}
	}

	return text, html, hasHTML, nil
}

// readPart reads a body or part, applying its transfer encoding
func (p *Parser) readPart(r io.Reader, encoding string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case encodingQuotedPrintable:
		r = quotedprintable.NewReader(r)
	case encodingBase64:
		r = base64.NewDecoder(base64.StdEncoding, newBase64CleanReader(r))
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// base64CleanReader strips whitespace so line-wrapped base64 bodies decode
type base64CleanReader struct {
	r io.Reader
}

func newBase64CleanReader(r io.Reader) *base64CleanReader {
	return &base64CleanReader{r: r}
}

func (c *base64CleanReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n == 0 {
		return n, err
	}

	kept := 0
	for _, b := range p[:n] {
		switch b {
		case ' ', '\t', '\r', '\n':
		default:
			p[kept] = b
			kept++
		}
	}
	return kept, err
}

// IsParseError reports whether err is a *ParseError
func IsParseError(err error) bool {
	_, ok := err.(*ParseError)
	return ok
}
