package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/ahandley/textline/internal/domain"
)

// Recipient is one member of a scheduled fan-out.
type Recipient struct {
	HouseholdID string `json:"household_id"`
	PhoneNumber string `json:"phone_number"`
	OptedIn     bool   `json:"opted_in"`
}

// Scheduler spreads large announcement fan-outs over time so a weekly
// send does not arrive as one traffic spike.
type Scheduler struct {
	dispatcher *Dispatcher
	chunkSize  int
	pause      time.Duration
	logger     *slog.Logger
}

// NewScheduler creates a Scheduler. chunkSize households are messaged
// per round, with pause between rounds.
func NewScheduler(dispatcher *Dispatcher, chunkSize int, pause time.Duration, logger *slog.Logger) *Scheduler {
	if chunkSize <= 0 {
		chunkSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{dispatcher: dispatcher, chunkSize: chunkSize, pause: pause, logger: logger}
}

// SendAnnouncement delivers body to every opted-in recipient, chunked.
// Returns the merged accounting across all chunks.
func (s *Scheduler) SendAnnouncement(ctx context.Context, recipients []Recipient, body string) (*BatchResult, error) {
	merged := &BatchResult{}

	for start := 0; start < len(recipients); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(recipients) {
			end = len(recipients)
		}

		var messages []domain.OutboundMessage
		for _, r := range recipients[start:end] {
			if !r.OptedIn {
				continue
			}
			messages = append(messages, domain.OutboundMessage{
				To:            r.PhoneNumber,
				Body:          body,
				CorrelationID: "announce_" + r.HouseholdID,
			})
		}
		if len(messages) == 0 {
			continue
		}

		result, err := s.dispatcher.SendBatch(ctx, messages)
		if result != nil {
			merged.Success = append(merged.Success, result.Success...)
			merged.Failed = append(merged.Failed, result.Failed...)
		}
		if err != nil {
			return merged, err
		}

		if end < len(recipients) && s.pause > 0 {
			select {
			case <-time.After(s.pause):
			case <-ctx.Done():
				return merged, ctx.Err()
			}
		}
	}

	s.logger.Info("announcement complete",
		slog.Int("recipients", len(recipients)),
		slog.Int("sent", len(merged.Success)),
		slog.Int("failed", len(merged.Failed)),
	)
	return merged, nil
}
