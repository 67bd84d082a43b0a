package app

import (
	"context"
	"errors"

	"live-quiz-service/internal/domain"
)

// Request is one action posted to the session RPC surface.
type Request struct {
	SessionID      int64             `json:"sessionid"`
	AttemptID      int64             `json:"attemptid"`
	Action         string            `json:"action"`
	QuestionID     int               `json:"questionid,omitempty"` // slot of the question being answered
	QuestionNumber int               `json:"questionnumber,omitempty"`
	Submission     domain.Submission `json:"submission,omitempty"`
}

// Result is the structured reply to a Request.
type Result map[string]any

// Dispatcher routes RPC actions to the session and attempt components.
type Dispatcher struct {
	sessions *Sessions
	attempts *Attempts
}

func NewDispatcher(sessions *Sessions, attempts *Attempts) *Dispatcher {
	return &Dispatcher{sessions: sessions, attempts: attempts}
}

// Dispatch runs one action. It never returns a Go error: failures come back as
// {status: "error"} results. Every action except savequestion requires a controller.
func (d *Dispatcher) Dispatch(ctx context.Context, actor domain.Actor, req Request) Result {
	if req.Action != "savequestion" && !actor.IsController() {
		return errorResult(domain.ErrInvalidAction)
	}
	payload, err := d.dispatch(ctx, actor, req)
	if err != nil {
		return errorResult(err)
	}
	out := Result{}
	for k, v := range payload {
		out[k] = v
	}
	out["status"] = "success"
	return out
}

func (d *Dispatcher) dispatch(ctx context.Context, actor domain.Actor, req Request) (Result, error) {
	if req.SessionID <= 0 {
		return nil, domain.Invalid("sessionid")
	}
	switch req.Action {
	case "startquiz":
		s, err := d.sessions.Start(ctx, actor, req.SessionID, req.AttemptID)
		return d.question(ctx, s, err)
	case "nextquestion":
		s, err := d.sessions.Next(ctx, actor, req.SessionID, req.AttemptID)
		return d.question(ctx, s, err)
	case "repollquestion":
		s, err := d.sessions.Repoll(ctx, actor, req.SessionID, req.AttemptID)
		return d.question(ctx, s, err)
	case "gotoquestion":
		if req.QuestionNumber <= 0 {
			return nil, domain.Invalid("questionnumber")
		}
		s, err := d.sessions.GoToQuestion(ctx, actor, req.SessionID, req.AttemptID, req.QuestionNumber)
		return d.question(ctx, s, err)
	case "endquestion":
		if _, err := d.sessions.EndQuestion(ctx, actor, req.SessionID); err != nil {
			return nil, err
		}
		return nil, nil
	case "savequestion":
		a, err := d.attempts.SubmitResponse(ctx, actor, req.AttemptID, req.QuestionID, req.Submission)
		if err != nil {
			return nil, err
		}
		return Result{"responded": a.RespondedCount}, nil
	case "getresults":
		view, err := d.sessions.Results(ctx, actor, req.SessionID)
		if err != nil {
			return nil, err
		}
		return Result{"results": view}, nil
	case "getcurrentresults":
		counts, err := d.sessions.CurrentCounts(ctx, actor, req.SessionID)
		if err != nil {
			return nil, err
		}
		return Result{"responded": counts.Responded, "total": counts.Total}, nil
	case "getnotresponded":
		names, err := d.sessions.NotResponded(ctx, actor, req.SessionID)
		if err != nil {
			return nil, err
		}
		return Result{"notresponded": names}, nil
	case "getrightresponse":
		html, err := d.sessions.RightResponse(ctx, actor, req.SessionID, req.AttemptID)
		if err != nil {
			return nil, err
		}
		return Result{"rightanswer": html}, nil
	case "closesession":
		if _, err := d.sessions.Close(ctx, actor, req.SessionID); err != nil {
			return nil, err
		}
		return nil, nil
	case "listquestions":
		list, err := d.sessions.ListQuestions(ctx, actor, req.SessionID, req.AttemptID)
		if err != nil {
			return nil, err
		}
		return Result{"questions": list}, nil
	default:
		return nil, domain.ErrInvalidAction
	}
}

// question is the reply to every action that activates a question.
func (d *Dispatcher) question(ctx context.Context, s domain.Session, err error) (Result, error) {
	if err != nil {
		return nil, err
	}
	snap, err := d.sessions.Status(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	out := Result(StatusPayload(snap, d.sessions.now()))
	out["sessionstatus"] = out["status"]
	return out, nil
}

func errorResult(err error) Result {
	msg := err.Error()
	if errors.Is(err, domain.ErrPermission) {
		msg = "invalidaction"
	}
	return Result{"status": "error", "error": domain.Code(err), "message": msg}
}
