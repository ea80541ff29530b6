package smtp

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/welldanyogia/dispomail/internal/metrics"
	"github.com/welldanyogia/dispomail/internal/parser"
	"github.com/welldanyogia/dispomail/internal/repository"
)

// NoSubjectPlaceholder is stored when a message carries no usable Subject
const NoSubjectPlaceholder = "(No Subject)"

// MessageStore is the slice of the storage writer the processor needs
type MessageStore interface {
	Create(ctx context.Context, msg repository.NewEmail) (*repository.Email, error)
}

// Processor turns one completed DATA payload into stored records, one per
// accepted recipient inbox.
//
// Persistence is best-effort: once the payload parses, the
// sending MTA gets a success response even if individual writes fail.
// Failures are logged and counted per recipient so one inbox's storage
// trouble cannot silently lose delivery to the others.
type Processor struct {
	parser *parser.Parser
	store  MessageStore
	logger *slog.Logger
}

// NewProcessor creates a Processor
func NewProcessor(p *parser.Parser, store MessageStore, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		parser: p,
		store:  store,
		logger: logger,
	}
}

// Handle parses the payload and fans it out across the envelope's
// recipients. A parse failure returns an error and persists nothing; the
// session rejects the transaction. Store failures do not.
func (p *Processor) Handle(ctx context.Context, env *Envelope, raw []byte) (string, error) {
	msg, err := p.parser.Parse(raw)
	if err != nil {
		metrics.SMTPMessagesRejected.WithLabelValues("parse_error").Inc()
		return "", err
	}

	queueID := uuid.New().String()
	metrics.SMTPMessagesReceived.Inc()

	sender := env.Sender
	if sender == "" {
		sender = "unknown"
	}

	subject := msg.Subject
	if subject == "" {
		subject = NoSubjectPlaceholder
	}

	bodyHTML := ""
	if msg.HasHTML {
		bodyHTML = msg.BodyHTML
	}

	for _, rcpt := range env.Recipients {
		stored, err := p.store.Create(ctx, repository.NewEmail{
			Inbox:    rcpt.Inbox,
			Sender:   sender,
			Subject:  subject,
			BodyText: msg.BodyText,
			BodyHTML: bodyHTML,
		})
		if err != nil {
			metrics.SMTPStoreFailures.Inc()
			p.logger.Error("failed to store message for recipient",
				slog.String("queue_id", queueID),
				slog.String("inbox", rcpt.Inbox),
				slog.String("sender", sender),
				slog.String("error", err.Error()),
			)
			continue
		}

		metrics.SMTPMessagesStored.Inc()
		p.logger.Info("message stored",
			slog.String("queue_id", queueID),
			slog.Int64("email_id", stored.ID),
			slog.String("inbox", rcpt.Inbox),
			slog.String("sender", sender),
		)
	}

	return queueID, nil
}
