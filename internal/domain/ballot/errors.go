package ballot

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized        = errors.New("caller is not the ballot authority")
	ErrAlreadyVoted        = errors.New("caller already voted this round")
	ErrInvalidProposal     = errors.New("proposal id is out of range")
	ErrInactiveProposal    = errors.New("proposal was excluded by a prior tie round")
	ErrNoProposals         = errors.New("session has no proposals")
	ErrSessionNotFinalized = errors.New("session has not been tallied")
	ErrHasNotVoted         = errors.New("voter has not voted in this session")
	ErrUnknownSession      = errors.New("unknown session")
)

// PhaseMismatchError reports an operation attempted outside its phase.
type PhaseMismatchError struct {
	Expected Phase
	Actual   Phase
}

func (e *PhaseMismatchError) Error() string {
	return fmt.Sprintf("phase mismatch: expected %s, current %s", e.Expected, e.Actual)
}

// NotEnrolledError reports a caller without an enrollment for the session.
type NotEnrolledError struct {
	Voter string
}

func (e *NotEnrolledError) Error() string {
	return fmt.Sprintf("voter %s is not enrolled for this session", e.Voter)
}
