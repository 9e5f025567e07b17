// Package mail provides stand-in implementations of the outbound mail
// port. The production transport lives outside this repository.
package mail

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coverloop/coverloop/internal/domain/export"
)

// LogSender logs resolved messages instead of sending them. Useful for
// development environments without a mail transport.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a sender writing to logger.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg export.MailMessage) error {
	s.logger.Info("mail message resolved",
		"email_id", msg.EmailID,
		"from", msg.From,
		"to", msg.To,
		"subject", msg.Subject,
		"attachments", len(msg.Attachments))
	return nil
}

// RecordingSender captures every message for later inspection.
type RecordingSender struct {
	mu       sync.Mutex
	messages []export.MailMessage
}

// NewRecordingSender creates an empty recorder.
func NewRecordingSender() *RecordingSender {
	return &RecordingSender{}
}

func (s *RecordingSender) Send(ctx context.Context, msg export.MailMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

// Messages returns a copy of everything sent so far.
func (s *RecordingSender) Messages() []export.MailMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]export.MailMessage, len(s.messages))
	copy(out, s.messages)
	return out
}
