package sysgroup

import (
	"context"
	"errors"
	"sync"
)

// Call records one invocation of the fake primitive.
type Call struct {
	User    string
	GroupID int
	Enable  bool
}

// Fake is an in-memory Membership for tests. FailEnable and FailDisable
// inject persistent failures; DisableFailures fails only the first N
// disable calls, which exercises the revocation retry path. Calls exposes
// the invocation history.
type Fake struct {
	mu      sync.Mutex
	calls   []Call
	members map[string]bool

	FailEnable      error
	FailDisable     error
	DisableFailures int
}

var errInjectedDisable = errors.New("injected disable failure")

func NewFake() *Fake {
	return &Fake{members: make(map[string]bool)}
}

func (f *Fake) SetAdminMembership(_ context.Context, user string, groupID int, enable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{User: user, GroupID: groupID, Enable: enable})

	if enable {
		if f.FailEnable != nil {
			return f.FailEnable
		}
		f.members[user] = true
		return nil
	}

	if f.DisableFailures > 0 {
		f.DisableFailures--
		return errInjectedDisable
	}
	if f.FailDisable != nil {
		return f.FailDisable
	}
	delete(f.members, user)
	return nil
}

// IsMember reports whether the fake considers user an admin.
func (f *Fake) IsMember(user string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[user]
}

// Calls returns a copy of the invocation history.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}
