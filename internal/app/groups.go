package app

import (
	"context"
	"fmt"
	"sort"

	"live-quiz-service/internal/domain"
)

// Groups resolves membership, display names and attendance for group mode.
type Groups struct {
	repo Repository
	dir  GroupDirectory
}

func NewGroups(d Deps) *Groups {
	return &Groups{repo: d.Repo, dir: d.Groups}
}

// NameOf returns a group's display name.
func (g *Groups) NameOf(ctx context.Context, groupID int64) (string, error) {
	return g.dir.NameOf(ctx, groupID)
}

// Members returns a group's current members, resolved live.
func (g *Groups) Members(ctx context.Context, groupID int64) ([]int64, error) {
	return g.dir.MembersOf(ctx, groupID)
}

// IsMember reports whether userID currently belongs to groupID.
func (g *Groups) IsMember(ctx context.Context, groupID, userID int64) (bool, error) {
	return g.dir.IsMember(ctx, groupID, userID)
}

// UserGroups lists the groups of a grouping that userID may attempt as.
func (g *Groups) UserGroups(ctx context.Context, userID, groupingID int64) ([]int64, error) {
	return g.dir.GroupsOf(ctx, userID, groupingID)
}

// ResolveAttendees validates the members declared present for a group attempt.
// The initiating user is always present.
func (g *Groups) ResolveAttendees(ctx context.Context, groupID, initiator int64, declared []int64) ([]int64, error) {
	set := map[int64]bool{initiator: true}
	for _, u := range declared {
		set[u] = true
	}
	out := make([]int64, 0, len(set))
	for u := range set {
		ok, err := g.dir.IsMember(ctx, groupID, u)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.ErrNotGroupMember
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// DisplayName is how an attempt's owner is shown to the controller.
func (g *Groups) DisplayName(ctx context.Context, inst domain.QuizInstance, a domain.Attempt) (string, error) {
	if inst.GroupMode && a.GroupID != 0 {
		return g.dir.NameOf(ctx, a.GroupID)
	}
	switch owner := a.Owner.(type) {
	case domain.AnonymousUser:
		return "Anonymous", nil
	case domain.RealUser:
		name, err := g.dir.UserName(ctx, owner.ID)
		if err != nil || name == "" {
			return fmt.Sprintf("User %d", owner.ID), nil
		}
		return name, nil
	default:
		return "", nil
	}
}

// Attendees returns the users recorded as present for an attempt.
func (g *Groups) Attendees(ctx context.Context, attemptID int64) ([]int64, error) {
	return g.attendees(ctx, g.repo, attemptID)
}

func (g *Groups) attendees(ctx context.Context, repo Repository, attemptID int64) ([]int64, error) {
	recs, err := repo.ListAttendance(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.UserID)
	}
	return out, nil
}

func (g *Groups) recordAttendance(ctx context.Context, tx Repository, inst domain.QuizInstance, a domain.Attempt, users []int64) error {
	for _, u := range users {
		rec := domain.GroupAttendanceRecord{
			InstanceID: inst.ID,
			SessionID:  a.SessionID,
			AttemptID:  a.ID,
			GroupID:    a.GroupID,
			UserID:     u,
		}
		if err := tx.InsertAttendance(ctx, &rec); err != nil {
			return err
		}
	}
	return nil
}
