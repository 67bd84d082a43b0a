package postgres

import (
	"testing"
	"time"

	"live-quiz-service/internal/domain"
)

func TestAttemptRowKeepsIdentityKind(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, owner := range []domain.Identity{domain.RealUser{ID: 10}, domain.AnonymousUser{SyntheticID: -3}} {
		a := domain.Attempt{
			ID:        4,
			SessionID: 2,
			Owner:     owner,
			Number:    1,
			Status:    domain.AttemptInProgress,
			Started:   at,
			UsageRef:  "usage-1",
			Layout:    []domain.SlotRef{{Slot: 1, QuestionID: 7}},
		}
		row := attemptFromDomain(a)
		if row.Anonymous != domain.IsAnonymous(owner) || row.UserID != owner.StoredID() {
			t.Fatalf("unexpected row owner %d anonymous=%v", row.UserID, row.Anonymous)
		}
		back := row.toDomain()
		if back.Owner != owner {
			t.Fatalf("expected owner %#v, got %#v", owner, back.Owner)
		}
		if len(back.Layout) != 1 || back.Layout[0].QuestionID != 7 {
			t.Fatalf("layout lost: %+v", back.Layout)
		}
	}
}

func TestInstanceRowCopiesOrder(t *testing.T) {
	inst := domain.QuizInstance{ID: 1, GradeMethod: domain.GradeAverage, ReviewAfter: domain.ReviewOption(3), QuestionOrder: []int64{5, 6}}
	row := instanceFromDomain(inst)
	inst.QuestionOrder[0] = 99
	if row.QuestionOrder[0] != 5 {
		t.Fatalf("row shares the order slice with the instance")
	}
	back := row.toDomain()
	if back.GradeMethod != domain.GradeAverage || back.ReviewAfter != 3 {
		t.Fatalf("unexpected round trip %+v", back)
	}
}
