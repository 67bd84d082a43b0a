package domain

import "time"

// SessionStatus is the internal state of an open session.
type SessionStatus string

const (
	StatusNotRunning  SessionStatus = "notrunning"
	StatusRunning     SessionStatus = "running"
	StatusEndQuestion SessionStatus = "endquestion"
	StatusReviewing   SessionStatus = "reviewing"
)

// AttemptStatus tracks one participant's traversal of a session.
type AttemptStatus string

const (
	AttemptNotStarted AttemptStatus = "notstarted"
	AttemptInProgress AttemptStatus = "inprogress"
	AttemptAbandoned  AttemptStatus = "abandoned"
	AttemptFinished   AttemptStatus = "finished"
)

// Live reports whether the attempt can still receive responses or transitions.
func (s AttemptStatus) Live() bool {
	return s == AttemptNotStarted || s == AttemptInProgress
}

// GradeMethod selects how per-session grades are combined into one instance grade.
type GradeMethod int

const (
	GradeHighest GradeMethod = 1
	GradeAverage GradeMethod = 2
	GradeFirst   GradeMethod = 3
	GradeLast    GradeMethod = 4
)

// ReviewOption is a bitmask of what a participant may see when reviewing a finished attempt.
type ReviewOption uint

const (
	ReviewAttempt ReviewOption = 1 << iota
	ReviewCorrectness
	ReviewMarks
	ReviewFeedback
	ReviewRightAnswer
	ReviewHistory
)

// Has reports whether every bit of o is set.
func (r ReviewOption) Has(o ReviewOption) bool { return r&o == o }

// QuizInstance is the configured quiz shared by all of its sessions.
type QuizInstance struct {
	ID                  int64
	Name                string
	DefaultQuestionTime int // seconds
	WaitDelay           int // seconds before a question opens
	Scale               float64
	GradeMethod         GradeMethod
	GroupMode           bool
	GroupingID          int64
	GroupAttendance     bool
	AnonymizeResponses  bool
	FullAnonymize       bool
	ReviewAfter         ReviewOption
	QuestionOrder       []int64
	Modified            time.Time
}

// QuestionSpec is one question attached to a quiz instance.
type QuestionSpec struct {
	ID           int64
	InstanceID   int64
	QuestionRef  string // opaque question-bank reference
	NoTime       bool
	QuestionTime int // seconds, 0 falls back to the instance default
	Tries        int // 0 means unlimited
	Points       float64
	ShowHistory  bool
}

// QuestionConfig carries the per-question settings supplied when attaching a question.
type QuestionConfig struct {
	NoTime       bool
	QuestionTime int
	Tries        int
	Points       float64
	ShowHistory  bool
}

// Session is one live run of a quiz instance.
type Session struct {
	ID                 int64
	InstanceID         int64
	Name               string
	Open               bool
	Status             SessionStatus
	CurrentIndex       int // 1-based, 0 when no question is active
	CurrentSlot        int
	QuestionTime       int
	NextStartTime      time.Time
	AnonymizeResponses bool
	FullAnonymize      bool
	Created            time.Time
}

// SlotRef binds an engine slot to the question it was seeded from.
type SlotRef struct {
	Slot       int   `json:"slot"`
	QuestionID int64 `json:"questionId"`
}

// Attempt is one participant's (or group's) run through a session.
type Attempt struct {
	ID             int64
	SessionID      int64
	Owner          Identity
	GroupID        int64 // 0 when the attempt is not a group attempt
	Number         int
	Status         AttemptStatus
	Preview        bool
	Responded      bool
	RespondedCount int
	Started        time.Time
	Finished       time.Time
	Modified       time.Time
	UsageRef       string
	Layout         []SlotRef

	// IsLast is set by question lookups for display and is never persisted.
	IsLast bool
}

// SlotAt returns the slot at a 1-based question number.
func (a Attempt) SlotAt(number int) (SlotRef, bool) {
	if number < 1 || number > len(a.Layout) {
		return SlotRef{}, false
	}
	return a.Layout[number-1], true
}

// SlotFor returns the slot seeded from questionID.
func (a Attempt) SlotFor(questionID int64) (SlotRef, bool) {
	for _, ref := range a.Layout {
		if ref.QuestionID == questionID {
			return ref, true
		}
	}
	return SlotRef{}, false
}

// Grade is the persisted scaled grade of one user for one quiz instance.
type Grade struct {
	InstanceID int64     `json:"instanceId"`
	UserID     int64     `json:"userId"`
	Value      float64   `json:"grade"`
	Modified   time.Time `json:"modified"`
}

// GroupAttendanceRecord records that a group member was present for a group attempt.
type GroupAttendanceRecord struct {
	ID         int64
	InstanceID int64
	SessionID  int64
	AttemptID  int64
	GroupID    int64
	UserID     int64
}

// SlotQuestion is the question shown at a numbered position of an attempt.
type SlotQuestion struct {
	Number int
	Slot   int
	Spec   QuestionSpec
	IsLast bool
}

// Choice is one option of a choice-based question.
type Choice struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	Fraction float64 `json:"fraction"`
}

// QuestionDef is a question definition as loaded from the question bank.
type QuestionDef struct {
	Ref       string   `json:"ref"`
	Name      string   `json:"name"`
	Type      string   `json:"type"` // multichoice, truefalse, numerical, shortanswer
	Text      string   `json:"text"`
	Choices   []Choice `json:"choices,omitempty"`
	Answer    string   `json:"answer,omitempty"`
	Tolerance float64  `json:"tolerance,omitempty"`
}

// SlotResponse is the posted data for one slot.
type SlotResponse struct {
	Sequence int               `json:"sequence"`
	Fields   map[string]string `json:"fields"`
}

// Submission is the set of slot responses posted by one request.
type Submission struct {
	Slots map[int]SlotResponse `json:"slots"`
}

// DisplayOptions controls how the question engine renders a slot.
type DisplayOptions struct {
	ReadOnly    bool
	Correctness bool
	Marks       bool
	Feedback    bool
	RightAnswer bool
	History     bool
}

// DisplayOptionsFor maps review bits to render options.
func DisplayOptionsFor(r ReviewOption) DisplayOptions {
	return DisplayOptions{
		ReadOnly:    true,
		Correctness: r.Has(ReviewCorrectness),
		Marks:       r.Has(ReviewMarks),
		Feedback:    r.Has(ReviewFeedback),
		RightAnswer: r.Has(ReviewRightAnswer),
		History:     r.Has(ReviewHistory),
	}
}

// StatusSnapshot is what participants poll for.
type StatusSnapshot struct {
	SessionID      int64         `json:"sessionId"`
	Open           bool          `json:"open"`
	Status         SessionStatus `json:"status"`
	CurrentSlot    int           `json:"currentSlot"`
	QuestionNumber int           `json:"questionNumber"`
	QuestionTime   int           `json:"questionTime"`
	NextStartTime  time.Time     `json:"nextStartTime"`
	LastQuestion   bool          `json:"lastQuestion"`
	ShowHistory    bool          `json:"showHistory"`
}

// ResponseLine is one participant's response summary for a slot.
type ResponseLine struct {
	Name     string `json:"name,omitempty"`
	Response string `json:"response"`
}

// ResultsView is the instructor's aggregated view of the current question.
type ResultsView struct {
	Question  string         `json:"question"`
	Type      string         `json:"type"`
	Responses []ResponseLine `json:"responses"`
	Tally     map[string]int `json:"tally,omitempty"`
}

// QuestionListing is one entry of the controller's jump menu.
type QuestionListing struct {
	Number int    `json:"number"`
	Slot   int    `json:"slot"`
	Name   string `json:"name"`
}
