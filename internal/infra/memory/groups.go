package memory

import (
	"context"
	"sort"
	"sync"

	"live-quiz-service/internal/domain"
)

// Group is one entry of a StaticDirectory.
type Group struct {
	ID         int64
	GroupingID int64
	Name       string
	Members    []int64
}

// StaticDirectory is a mutable in-memory group directory.
type StaticDirectory struct {
	mu     sync.RWMutex
	groups map[int64]Group
	users  map[int64]string
}

func NewStaticDirectory(groups []Group, users map[int64]string) *StaticDirectory {
	d := &StaticDirectory{groups: make(map[int64]Group), users: make(map[int64]string)}
	for _, g := range groups {
		g.Members = append([]int64(nil), g.Members...)
		d.groups[g.ID] = g
	}
	for id, name := range users {
		d.users[id] = name
	}
	return d
}

// SetMembers replaces a group's membership.
func (d *StaticDirectory) SetMembers(groupID int64, members []int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g := d.groups[groupID]
	g.ID = groupID
	g.Members = append([]int64(nil), members...)
	d.groups[groupID] = g
}

func (d *StaticDirectory) MembersOf(_ context.Context, groupID int64) ([]int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[groupID]
	if !ok {
		return nil, domain.ErrGroupNotFound
	}
	return append([]int64(nil), g.Members...), nil
}

func (d *StaticDirectory) GroupsOf(_ context.Context, userID, groupingID int64) ([]int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []int64
	for _, g := range d.groups {
		if groupingID != 0 && g.GroupingID != groupingID {
			continue
		}
		for _, m := range g.Members {
			if m == userID {
				out = append(out, g.ID)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (d *StaticDirectory) NameOf(_ context.Context, groupID int64) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[groupID]
	if !ok {
		return "", domain.ErrGroupNotFound
	}
	return g.Name, nil
}

func (d *StaticDirectory) IsMember(_ context.Context, groupID, userID int64) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[groupID]
	if !ok {
		return false, domain.ErrGroupNotFound
	}
	for _, m := range g.Members {
		if m == userID {
			return true, nil
		}
	}
	return false, nil
}

func (d *StaticDirectory) UserName(_ context.Context, userID int64) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.users[userID], nil
}
