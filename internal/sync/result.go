package sync

import "fmt"

// ConvError is a per-conversation failure accumulated during a run. Work
// committed before the failure is kept.
type ConvError struct {
	ThreadID string
	Err      error
}

func (e ConvError) Error() string {
	return fmt.Sprintf("conversation %s: %v", e.ThreadID, e.Err)
}

func (e ConvError) Unwrap() error { return e.Err }

// Result summarizes one historical sync run. Success is false only for
// account-level failures (auth, cancellation); per-conversation errors leave
// Success true with Errors populated.
type Result struct {
	RunID               string
	AccountID           string
	Success             bool
	ConversationsSynced int
	MessagesSynced      int
	AttendeesSynced     int
	Errors              []ConvError
}
