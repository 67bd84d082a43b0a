package domain

// Identity is the owner of an attempt: a real user or a synthetic anonymous id.
type Identity interface {
	// StoredID is the id persisted in attempt records.
	StoredID() int64
	isIdentity()
}

// RealUser is an authenticated participant.
type RealUser struct {
	ID int64
}

func (u RealUser) StoredID() int64 { return u.ID }
func (RealUser) isIdentity()       {}

// AnonymousUser is a fully anonymized participant. It never receives grades.
type AnonymousUser struct {
	SyntheticID int64
}

func (u AnonymousUser) StoredID() int64 { return u.SyntheticID }
func (AnonymousUser) isIdentity()       {}

// IdentityFrom rebuilds an identity from its stored form.
func IdentityFrom(id int64, anonymous bool) Identity {
	if anonymous {
		return AnonymousUser{SyntheticID: id}
	}
	return RealUser{ID: id}
}

// IsAnonymous reports whether id is an AnonymousUser.
func IsAnonymous(id Identity) bool {
	_, ok := id.(AnonymousUser)
	return ok
}

// Role is the capability a request is made with.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
)

// Actor is the request-scoped caller: who is asking and under which login session.
type Actor struct {
	UserID       int64
	Role         Role
	LoginSession string
}

// IsController reports whether the actor may drive sessions.
func (a Actor) IsController() bool { return a.Role == RoleInstructor }
