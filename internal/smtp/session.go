package smtp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"
)

// sessionState tracks where a session is in the mail transaction cycle.
// Command legality is enforced by state, not by flag checks: DATA before
// an accepted RCPT is impossible by construction.
type sessionState int

const (
	// stateReady: greeting sent, no transaction open
	stateReady sessionState = iota
	// stateAwaitingRecipient: MAIL FROM recorded, no recipient accepted yet
	stateAwaitingRecipient
	// stateAwaitingData: at least one recipient accepted
	stateAwaitingData
)

// MessageHandler processes a completed DATA payload for an envelope
type MessageHandler interface {
	Handle(ctx context.Context, env *Envelope, raw []byte) (queueID string, err error)
}

// Session handles a single SMTP connection. A session may carry several
// independent MAIL FROM ... DATA transactions before closing.
type Session struct {
	conn     net.Conn
	reader   *bufio.Reader
	writer   *bufio.Writer
	config   *Config
	resolver *Resolver
	handler  MessageHandler
	logger   *slog.Logger

	state    sessionState
	envelope *Envelope
	remoteIP string
}

// NewSession creates a session for an accepted connection
func NewSession(conn net.Conn, cfg *Config, resolver *Resolver, handler MessageHandler, remoteIP string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		writer:   bufio.NewWriter(conn),
		config:   cfg,
		resolver: resolver,
		handler:  handler,
		logger:   logger,
		state:    stateReady,
		remoteIP: remoteIP,
	}
}

// Run drives the session command loop until QUIT or disconnect
func (s *Session) Run() {
	defer s.conn.Close()

	s.reply(CodeServiceReady, fmt.Sprintf("%s %s", s.config.Hostname, responses[CodeServiceReady]))

	for {
		s.conn.SetDeadline(time.Now().Add(s.config.ConnectionTimeout))

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("session read failed",
					slog.String("remote_ip", s.remoteIP),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		cmd, args := parseCommand(line)
		if s.handleCommand(cmd, args) {
			return
		}
	}
}

// parseCommand splits an SMTP command line into verb and arguments
func parseCommand(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	cmd := strings.ToUpper(parts[0])
	args := ""
	if len(parts) > 1 {
		args = parts[1]
	}
	return cmd, args
}

// handleCommand dispatches one command; returns true when the session ends
func (s *Session) handleCommand(cmd, args string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, args)
	case "MAIL":
		s.handleMAILFROM(args)
	case "RCPT":
		s.handleRCPTTO(args)
	case "DATA":
		s.handleDATA()
	case "RSET":
		s.resetTransaction()
		s.reply(CodeOK, responses[CodeOK])
	case "NOOP":
		s.reply(CodeOK, responses[CodeOK])
	case "AUTH":
		// Inbound-only open relay: senders are untrusted internet hosts,
		// not service users, so authentication is refused outright.
		s.reply(CodeNotImplemented, "Authentication not required")
	case "QUIT":
		s.reply(CodeServiceClosing, responses[CodeServiceClosing])
		return true
	default:
		s.reply(CodeSyntaxError, "Command not recognized")
	}
	return false
}

// handleEHLO answers EHLO/HELO and advertises capabilities
func (s *Session) handleEHLO(cmd, domain string) {
	if domain == "" {
		s.reply(CodeSyntaxErrorParams, responses[CodeSyntaxErrorParams])
		return
	}

	s.resetTransaction()

	if cmd == "HELO" {
		s.reply(CodeOK, s.config.Hostname)
		return
	}

	capabilities := []string{
		s.config.Hostname,
		fmt.Sprintf("SIZE %d", s.config.MaxMessageSize),
		"8BITMIME",
	}
	for i, capability := range capabilities {
		if i == len(capabilities)-1 {
			s.reply(CodeOK, capability)
		} else {
			s.replyMultiline(CodeOK, capability)
		}
	}
}

// handleMAILFROM opens a new transaction. Senders are never validated
// beyond syntax; an empty reverse-path is allowed.
func (s *Session) handleMAILFROM(args string) {
	if s.state != stateReady {
		s.reply(CodeBadSequence, "Nested MAIL command")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(args), "FROM:") {
		s.reply(CodeSyntaxErrorParams, responses[CodeSyntaxErrorParams])
		return
	}

	address := strings.TrimSpace(args[len("FROM:"):])

	// Drop ESMTP parameters such as SIZE=
	if idx := strings.Index(address, " "); idx != -1 {
		param := address[idx+1:]
		address = address[:idx]
		if strings.HasPrefix(strings.ToUpper(param), "SIZE=") {
			var size int64
			fmt.Sscanf(param[5:], "%d", &size)
			if size > s.config.MaxMessageSize {
				s.reply(CodeMessageTooLarge, responses[CodeMessageTooLarge])
				return
			}
		}
	}

	address = strings.TrimPrefix(address, "<")
	address = strings.TrimSuffix(address, ">")

	s.envelope = &Envelope{Sender: address}
	s.state = stateAwaitingRecipient
	s.reply(CodeOK, responses[CodeOK])
}

// handleRCPTTO resolves one recipient. Rejection is per-recipient: a
// rejected address never affects recipients already accepted.
func (s *Session) handleRCPTTO(args string) {
	if s.state == stateReady {
		s.reply(CodeBadSequence, "Send MAIL FROM first")
		return
	}

	if len(s.envelope.Recipients) >= s.config.MaxRecipients {
		s.reply(CodeTransactionFailed, "Too many recipients")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(args), "TO:") {
		s.reply(CodeSyntaxErrorParams, responses[CodeSyntaxErrorParams])
		return
	}

	address := strings.TrimSpace(args[len("TO:"):])
	address = strings.TrimPrefix(address, "<")
	address = strings.TrimSuffix(address, ">")

	inbox, err := s.resolver.Resolve(address)
	if err != nil {
		if rej, ok := err.(*RejectionError); ok {
			s.reply(rej.Code, rej.Message)
		} else {
			s.reply(CodeMailboxUnavailable, responses[CodeMailboxUnavailable])
		}
		return
	}

	// The recipient set is a set; a repeated address is acknowledged
	// without adding a second fan-out target.
	for _, rcpt := range s.envelope.Recipients {
		if strings.EqualFold(rcpt.Address, address) {
			s.reply(CodeOK, responses[CodeOK])
			return
		}
	}

	s.envelope.Recipients = append(s.envelope.Recipients, Recipient{
		Address: address,
		Inbox:   inbox,
	})
	s.state = stateAwaitingData
	s.reply(CodeOK, responses[CodeOK])
}

// handleDATA streams the message body and hands it to the handler
func (s *Session) handleDATA() {
	switch s.state {
	case stateReady:
		s.reply(CodeBadSequence, "Send MAIL FROM first")
		return
	case stateAwaitingRecipient:
		s.reply(CodeTransactionFailed, "No valid recipients")
		return
	}

	s.reply(CodeStartMailInput, responses[CodeStartMailInput])

	data, err := s.readData()
	if err != nil {
		// Size violations are answered inside readData; an aborted
		// connection mid-DATA discards everything without a write.
		return
	}

	envelope := s.envelope
	s.resetTransaction()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	queueID, err := s.handler.Handle(ctx, envelope, data)
	if err != nil {
		s.logger.Warn("message rejected",
			slog.String("remote_ip", s.remoteIP),
			slog.String("sender", envelope.Sender),
			slog.String("error", err.Error()),
		)
		s.reply(CodeTransactionFailed, "Failed to parse message")
		return
	}

	s.reply(CodeOK, fmt.Sprintf("OK queued as %s", queueID))
}

// readData reads the message body until <CRLF>.<CRLF>, removing
// dot-stuffing (RFC 5321 section 4.5.2) and enforcing the size cap
func (s *Session) readData() ([]byte, error) {
	var data []byte

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			return nil, err
		}

		if isEndOfData(line) {
			break
		}

		if len(line) > 0 && line[0] == '.' {
			line = line[1:]
		}

		data = append(data, line...)

		if int64(len(data)) > s.config.MaxMessageSize {
			s.reply(CodeMessageTooLarge, responses[CodeMessageTooLarge])
			s.resetTransaction()
			return nil, fmt.Errorf("message exceeds %d bytes", s.config.MaxMessageSize)
		}
	}

	return data, nil
}

// isEndOfData checks for the end-of-data marker, tolerating bare LF
func isEndOfData(line []byte) bool {
	if len(line) == 3 && line[0] == '.' && line[1] == '\r' && line[2] == '\n' {
		return true
	}
	if len(line) == 2 && line[0] == '.' && line[1] == '\n' {
		return true
	}
	return false
}

// resetTransaction discards the open envelope, if any
func (s *Session) resetTransaction() {
	s.envelope = nil
	s.state = stateReady
}

// reply sends a single-line SMTP response
func (s *Session) reply(code int, message string) {
	fmt.Fprintf(s.writer, "%d %s\r\n", code, message)
	s.writer.Flush()
}

// replyMultiline sends one continuation line of a multi-line response
func (s *Session) replyMultiline(code int, message string) {
	fmt.Fprintf(s.writer, "%d-%s\r\n", code, message)
	s.writer.Flush()
}
