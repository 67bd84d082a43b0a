package app

import (
	"math"
	"time"

	"live-quiz-service/internal/domain"
)

// StatusPayload renders a snapshot as the poll response clients consume.
// delay is the number of seconds until the current question opens and goes negative once it has.
func StatusPayload(snap domain.StatusSnapshot, now time.Time) map[string]any {
	if !snap.Open {
		return map[string]any{"status": "sessionclosed"}
	}
	if snap.Status != domain.StatusRunning {
		return map[string]any{"status": string(snap.Status)}
	}
	delay := snap.NextStartTime.Sub(now).Seconds()
	return map[string]any{
		"status":          string(domain.StatusRunning),
		"currentquestion": snap.CurrentSlot,
		"questiontime":    snap.QuestionTime,
		"delay":           int(math.Round(delay)),
		"questionnumber":  snap.QuestionNumber,
		"lastquestion":    snap.LastQuestion,
		"showhistory":     snap.ShowHistory,
	}
}
