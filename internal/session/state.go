package session

import "github.com/and161185/sessionkit/internal/model"

// Status is the restoration/authentication state of the session.
type Status int

const (
	StatusUninitialized Status = iota
	StatusRestoring
	// StatusPendingProfile: credentials were restored from the vault but the
	// user record has not been fetched yet.
	StatusPendingProfile
	StatusAuthenticated
	StatusUnauthenticated
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusRestoring:
		return "restoring"
	case StatusPendingProfile:
		return "pending_profile"
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// State is a snapshot of the session. User is a copy; mutating it does not
// affect the store.
type State struct {
	User       *model.User
	IsLoggedIn bool
	IsLoading  bool
	Status     Status
}

func (s State) clone() State {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

func initialState() State {
	return State{IsLoading: true, Status: StatusUninitialized}
}

func loggedOut() State {
	return State{Status: StatusUnauthenticated}
}
