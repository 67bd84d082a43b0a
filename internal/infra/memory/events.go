package memory

import (
	"context"
	"log"
	"sync"

	"live-quiz-service/internal/domain"
)

// EventRecorder keeps attempt-ended notifications in memory and optionally logs them.
type EventRecorder struct {
	logger *log.Logger

	mu    sync.Mutex
	ended []domain.Attempt
}

func NewEventRecorder(logger *log.Logger) *EventRecorder {
	return &EventRecorder{logger: logger}
}

func (r *EventRecorder) AttemptEnded(_ context.Context, a domain.Attempt) error {
	r.mu.Lock()
	r.ended = append(r.ended, a)
	r.mu.Unlock()
	if r.logger != nil {
		r.logger.Printf("attempt %d of session %d ended (%s)", a.ID, a.SessionID, a.Status)
	}
	return nil
}

// Ended returns the recorded attempts in notification order.
func (r *EventRecorder) Ended() []domain.Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Attempt(nil), r.ended...)
}
