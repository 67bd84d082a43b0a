package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

type instanceBody struct {
	Name                string  `json:"name"`
	DefaultQuestionTime int     `json:"defaultQuestionTime"`
	WaitDelay           int     `json:"waitDelay"`
	Scale               float64 `json:"scale"`
	GradeMethod         int     `json:"gradeMethod"`
	GroupMode           bool    `json:"groupMode"`
	GroupingID          int64   `json:"groupingId"`
	GroupAttendance     bool    `json:"groupAttendance"`
	AnonymizeResponses  bool    `json:"anonymizeResponses"`
	FullAnonymize       bool    `json:"fullAnonymize"`
	ReviewAfter         int     `json:"reviewAfter"`
}

func (b instanceBody) toDomain(id int64) domain.QuizInstance {
	return domain.QuizInstance{
		ID:                  id,
		Name:                b.Name,
		DefaultQuestionTime: b.DefaultQuestionTime,
		WaitDelay:           b.WaitDelay,
		Scale:               b.Scale,
		GradeMethod:         domain.GradeMethod(b.GradeMethod),
		GroupMode:           b.GroupMode,
		GroupingID:          b.GroupingID,
		GroupAttendance:     b.GroupAttendance,
		AnonymizeResponses:  b.AnonymizeResponses,
		FullAnonymize:       b.FullAnonymize,
		ReviewAfter:         domain.ReviewOption(b.ReviewAfter),
	}
}

type instanceView struct {
	ID int64 `json:"id"`
	instanceBody
	QuestionOrder []int64 `json:"questionOrder"`
}

func viewInstance(inst domain.QuizInstance) instanceView {
	return instanceView{
		ID: inst.ID,
		instanceBody: instanceBody{
			Name:                inst.Name,
			DefaultQuestionTime: inst.DefaultQuestionTime,
			WaitDelay:           inst.WaitDelay,
			Scale:               inst.Scale,
			GradeMethod:         int(inst.GradeMethod),
			GroupMode:           inst.GroupMode,
			GroupingID:          inst.GroupingID,
			GroupAttendance:     inst.GroupAttendance,
			AnonymizeResponses:  inst.AnonymizeResponses,
			FullAnonymize:       inst.FullAnonymize,
			ReviewAfter:         int(inst.ReviewAfter),
		},
		QuestionOrder: append([]int64{}, inst.QuestionOrder...),
	}
}

type questionBody struct {
	QuestionRef  string  `json:"questionRef"`
	NoTime       bool    `json:"noTime"`
	QuestionTime int     `json:"questionTime"`
	Tries        int     `json:"tries"`
	Points       float64 `json:"points"`
	ShowHistory  bool    `json:"showHistory"`
}

type questionView struct {
	ID         int64 `json:"id"`
	InstanceID int64 `json:"instanceId"`
	questionBody
}

func viewQuestion(q domain.QuestionSpec) questionView {
	return questionView{
		ID:         q.ID,
		InstanceID: q.InstanceID,
		questionBody: questionBody{
			QuestionRef:  q.QuestionRef,
			NoTime:       q.NoTime,
			QuestionTime: q.QuestionTime,
			Tries:        q.Tries,
			Points:       q.Points,
			ShowHistory:  q.ShowHistory,
		},
	}
}

type sessionView struct {
	ID                 int64  `json:"id"`
	InstanceID         int64  `json:"instanceId"`
	Name               string `json:"name"`
	Open               bool   `json:"open"`
	Status             string `json:"status"`
	AnonymizeResponses bool   `json:"anonymizeResponses"`
	FullAnonymize      bool   `json:"fullAnonymize"`
}

func viewSession(s domain.Session) sessionView {
	return sessionView{
		ID:                 s.ID,
		InstanceID:         s.InstanceID,
		Name:               s.Name,
		Open:               s.Open,
		Status:             string(s.Status),
		AnonymizeResponses: s.AnonymizeResponses,
		FullAnonymize:      s.FullAnonymize,
	}
}

type attemptView struct {
	ID        int64            `json:"id"`
	SessionID int64            `json:"sessionId"`
	GroupID   int64            `json:"groupId,omitempty"`
	Number    int              `json:"number"`
	Status    string           `json:"status"`
	Preview   bool             `json:"preview"`
	Layout    []domain.SlotRef `json:"layout"`
}

func viewAttempt(a domain.Attempt) attemptView {
	return attemptView{
		ID:        a.ID,
		SessionID: a.SessionID,
		GroupID:   a.GroupID,
		Number:    a.Number,
		Status:    string(a.Status),
		Preview:   a.Preview,
		Layout:    a.Layout,
	}
}

// quizData is the polling RPC endpoint; it always answers 200 with a structured result.
func (s *Server) quizData(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var req app.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, app.Result{"status": "error", "error": "invalidrequest", "message": "bad json"})
		return
	}
	res := s.core.Dispatcher.Dispatch(r.Context(), actor, req)
	if res["status"] == "error" {
		s.logger.Printf("quizdata %s on session %d by user %d: %v", req.Action, req.SessionID, actor.UserID, res["message"])
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) createInstance(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var body instanceBody
	if !decode(w, r, &body) {
		return
	}
	inst, err := s.core.Instances.Create(r.Context(), actor, body.toDomain(0))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewInstance(inst))
}

func (s *Server) getInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	inst, err := s.core.Instances.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewInstance(inst))
}

func (s *Server) updateInstance(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body instanceBody
	if !decode(w, r, &body) {
		return
	}
	inst, err := s.core.Instances.Update(r.Context(), actor, body.toDomain(id))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewInstance(inst))
}

func (s *Server) listQuestions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	specs, err := s.core.Questions.List(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]questionView, 0, len(specs))
	for _, q := range specs {
		out = append(out, viewQuestion(q))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) addQuestion(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body questionBody
	if !decode(w, r, &body) {
		return
	}
	q, err := s.core.Questions.Add(r.Context(), actor, id, body.QuestionRef, domain.QuestionConfig{
		NoTime:       body.NoTime,
		QuestionTime: body.QuestionTime,
		Tries:        body.Tries,
		Points:       body.Points,
		ShowHistory:  body.ShowHistory,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewQuestion(q))
}

func (s *Server) reorderQuestions(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Order []int64 `json:"order"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.core.Questions.Reorder(r.Context(), actor, id, body.Order); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) moveQuestion(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Direction string `json:"direction"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.core.Questions.Move(r.Context(), actor, id, app.Direction(body.Direction)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) updatePoints(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Points float64 `json:"points"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.core.Questions.UpdatePoints(r.Context(), actor, id, body.Points); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) removeQuestion(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.core.Questions.Remove(r.Context(), actor, id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Name               string `json:"name"`
		AnonymizeResponses *bool  `json:"anonymizeResponses"`
		FullAnonymize      *bool  `json:"fullAnonymize"`
	}
	if !decode(w, r, &body) {
		return
	}
	sess, err := s.core.Sessions.Create(r.Context(), actor, id, app.SessionOptions{
		Name:               body.Name,
		AnonymizeResponses: body.AnonymizeResponses,
		FullAnonymize:      body.FullAnonymize,
	})
	if errors.Is(err, domain.ErrSessionAlreadyOpen) {
		// the open session is returned so clients can redirect to it
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   domain.Code(err),
			"message": err.Error(),
			"session": viewSession(sess),
		})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewSession(sess))
}

func (s *Server) sessionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	snap, err := s.core.Sessions.Status(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app.StatusPayload(snap, s.now()))
}

func (s *Server) joinSession(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		GroupID   int64   `json:"groupId"`
		Attendees []int64 `json:"attendees"`
	}
	if r.ContentLength != 0 && !decode(w, r, &body) {
		return
	}
	a, err := s.core.Sessions.Join(r.Context(), actor, id, app.JoinOptions{GroupID: body.GroupID, Attendees: body.Attendees})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewAttempt(a))
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sess, err := s.core.Sessions.Close(r.Context(), actor, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSession(sess))
}

func (s *Server) reviewAttempt(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	pages, err := s.core.Attempts.Review(r.Context(), actor, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": pages})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalidrequest", "message": "bad id"})
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalidrequest", "message": "bad json"})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Printf("request failed: %v", err)
	}
	msg := err.Error()
	if errors.Is(err, domain.ErrPermission) {
		msg = "invalidaction"
	}
	writeJSON(w, code, map[string]string{"error": domain.Code(err), "message": msg})
}

func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.ErrValidation:
		return http.StatusBadRequest
	case domain.ErrPermission:
		return http.StatusForbidden
	case domain.ErrNotFound:
		return http.StatusNotFound
	case domain.ErrStateConflict:
		return http.StatusConflict
	case domain.ErrExternalEngine:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
