package app

import (
	"context"
	"log"
	"time"

	"live-quiz-service/internal/domain"
)

// Deps carries the collaborators shared by every component of the core.
// It is built once per process and passed to each constructor explicitly.
type Deps struct {
	Repo      Repository
	Engine    QuestionEngine
	Bank      QuestionBank
	Groups    GroupDirectory
	Exporter  GradeExporter
	Events    EventSink
	AnonIDs   AnonymousIDs
	Status    StatusCache
	Modifiers *ModifierRegistry
	Logger    *log.Logger
	Now       func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = log.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Exporter == nil {
		d.Exporter = NopExporter{}
	}
	if d.Events == nil {
		d.Events = NopEvents{}
	}
	if d.Modifiers == nil {
		d.Modifiers = DefaultModifiers()
	}
	return d
}

// Core bundles the components wired over one set of Deps.
type Core struct {
	Instances  *Instances
	Catalog    *Catalog
	Questions  *QuestionOrder
	Attempts   *Attempts
	Sessions   *Sessions
	Grader     *Grader
	Groups     *Groups
	Dispatcher *Dispatcher
}

// New wires every component of the core.
func New(deps Deps) *Core {
	d := deps.withDefaults()
	catalog := NewCatalog(d.Bank)
	groups := NewGroups(d)
	grader := NewGrader(d, groups)
	questions := NewQuestionOrder(d, catalog, grader)
	attempts := NewAttempts(d, catalog, questions)
	sessions := NewSessions(d, catalog, questions, attempts, grader, groups)
	return &Core{
		Instances:  NewInstances(d, grader),
		Catalog:    catalog,
		Questions:  questions,
		Attempts:   attempts,
		Sessions:   sessions,
		Grader:     grader,
		Groups:     groups,
		Dispatcher: NewDispatcher(sessions, attempts),
	}
}

// NopExporter discards grade exports.
type NopExporter struct{}

func (NopExporter) Export(context.Context, int64, []domain.Grade) error { return nil }

// NopEvents discards attempt notifications.
type NopEvents struct{}

func (NopEvents) AttemptEnded(context.Context, domain.Attempt) error { return nil }

func requireController(actor domain.Actor) error {
	if !actor.IsController() {
		return domain.ErrPermission
	}
	return nil
}
