package ballot

import (
	"slices"

	"github.com/ballot-engine/ballot-engine/internal/domain/entropy"
)

// session is one isolated enroll-propose-vote-tally round. Sessions are
// append-only: Reset opens a new one but never discards history.
type session struct {
	voters    map[string]*Voter
	proposals []*Proposal
	winner    int
	finalized bool
}

func newSession() *session {
	return &session{voters: make(map[string]*Voter)}
}

// Coordinator owns the session arena, the workflow phase machine and the tie
// scratch state. It is strictly sequential: callers must not interleave
// operations. Every operation either fully applies and emits its events or
// fails before any mutation.
type Coordinator struct {
	authority string
	entropy   entropy.Source
	sink      EventSink

	phase    Phase
	current  int
	sessions []*session

	// tie scratch, scoped to the current session's voting rounds
	mostVoted     []int
	lastTieLength int
	voterLog      []string
}

// NewCoordinator creates a coordinator with session 0 open for voter
// registration. The sink may be nil.
func NewCoordinator(authority string, src entropy.Source, sink EventSink) *Coordinator {
	return &Coordinator{
		authority: authority,
		entropy:   src,
		sink:      sink,
		phase:     PhaseRegisteringVoters,
		sessions:  []*session{newSession()},
	}
}

// Authority returns the privileged identity fixed at construction.
func (c *Coordinator) Authority() string { return c.authority }

// Phase returns the current workflow phase.
func (c *Coordinator) Phase() Phase { return c.phase }

// CurrentSession returns the id of the session in progress.
func (c *Coordinator) CurrentSession() int { return c.current }

// SessionCount returns how many sessions exist, finished or not.
func (c *Coordinator) SessionCount() int { return len(c.sessions) }

func (c *Coordinator) emit(ev Event) {
	if c.sink != nil {
		c.sink(ev)
	}
}

func (c *Coordinator) requireAuthority(caller string) error {
	if caller != c.authority {
		return ErrUnauthorized
	}
	return nil
}

func (c *Coordinator) requirePhase(expected Phase) error {
	if c.phase != expected {
		return &PhaseMismatchError{Expected: expected, Actual: c.phase}
	}
	return nil
}

// advance moves the phase machine from one phase to the next and emits the
// change. Callers validate authority first.
func (c *Coordinator) advance(actor string, from, to Phase) error {
	if err := c.requirePhase(from); err != nil {
		return err
	}
	c.phase = to
	c.emit(Event{Type: EventPhaseChanged, Session: c.current, Actor: actor, OldPhase: from, NewPhase: to})
	return nil
}

// StartProposalsRegistration closes enrollment and opens proposal intake.
func (c *Coordinator) StartProposalsRegistration(caller string) error {
	if err := c.requireAuthority(caller); err != nil {
		return err
	}
	return c.advance(caller, PhaseRegisteringVoters, PhaseProposalsRegistrationStarted)
}

// EndProposalsRegistration freezes the proposal list, marks every proposal
// active, and snapshots the list length as the tie comparison baseline for
// the first tally.
func (c *Coordinator) EndProposalsRegistration(caller string) error {
	if err := c.requireAuthority(caller); err != nil {
		return err
	}
	if err := c.advance(caller, PhaseProposalsRegistrationStarted, PhaseProposalsRegistrationEnded); err != nil {
		return err
	}
	s := c.sessions[c.current]
	for _, p := range s.proposals {
		p.Active = true
	}
	c.lastTieLength = len(s.proposals)
	return nil
}

// StartVotingSession opens vote casting.
func (c *Coordinator) StartVotingSession(caller string) error {
	if err := c.requireAuthority(caller); err != nil {
		return err
	}
	return c.advance(caller, PhaseProposalsRegistrationEnded, PhaseVotingSessionStarted)
}

// EndVotingSession closes vote casting; tallying becomes legal.
func (c *Coordinator) EndVotingSession(caller string) error {
	if err := c.requireAuthority(caller); err != nil {
		return err
	}
	return c.advance(caller, PhaseVotingSessionStarted, PhaseVotingSessionEnded)
}

// ReopenVoting is the tie back-edge: after a narrowing tie the authority
// reopens voting restricted to the still-active proposals.
func (c *Coordinator) ReopenVoting(caller string) error {
	if err := c.requireAuthority(caller); err != nil {
		return err
	}
	if err := c.requirePhase(PhaseVotingSessionEnded); err != nil {
		return err
	}
	c.phase = PhaseVotingSessionStarted
	c.emit(Event{Type: EventPhaseChanged, Session: c.current, Actor: caller, OldPhase: PhaseVotingSessionEnded, NewPhase: PhaseVotingSessionStarted})
	return nil
}

// EnrollVoters marks each id enrolled for the current session. Re-enrolling
// is a silent no-op; the enrollment event fires only when state changes.
func (c *Coordinator) EnrollVoters(caller string, ids ...string) error {
	if err := c.requireAuthority(caller); err != nil {
		return err
	}
	if err := c.requirePhase(PhaseRegisteringVoters); err != nil {
		return err
	}
	s := c.sessions[c.current]
	for _, id := range ids {
		v := s.voters[id]
		if v == nil {
			v = &Voter{}
			s.voters[id] = v
		}
		if v.Enrolled {
			continue
		}
		v.Enrolled = true
		c.emit(Event{Type: EventParticipantEnrolled, Session: c.current, Actor: caller, Voter: id})
	}
	return nil
}

// RevokeVoters removes enrollment for each id. Unknown ids are ignored.
func (c *Coordinator) RevokeVoters(caller string, ids ...string) error {
	if err := c.requireAuthority(caller); err != nil {
		return err
	}
	if err := c.requirePhase(PhaseRegisteringVoters); err != nil {
		return err
	}
	s := c.sessions[c.current]
	for _, id := range ids {
		v := s.voters[id]
		if v == nil || !v.Enrolled {
			continue
		}
		v.Enrolled = false
		c.emit(Event{Type: EventParticipantRevoked, Session: c.current, Actor: caller, Voter: id})
	}
	return nil
}

// IsEnrolled reports whether id holds an enrollment for the given session.
func (c *Coordinator) IsEnrolled(id string, sessionID int) bool {
	s, err := c.sessionByID(sessionID)
	if err != nil {
		return false
	}
	v := s.voters[id]
	return v != nil && v.Enrolled
}

func (c *Coordinator) requireEnrolled(id string, s *session) error {
	v := s.voters[id]
	if v == nil || !v.Enrolled {
		return &NotEnrolledError{Voter: id}
	}
	return nil
}

// SubmitProposal appends a proposal and returns its index. Identical
// descriptions are allowed and create separate entries.
func (c *Coordinator) SubmitProposal(caller, description string) (int, error) {
	if err := c.requirePhase(PhaseProposalsRegistrationStarted); err != nil {
		return 0, err
	}
	s := c.sessions[c.current]
	if err := c.requireEnrolled(caller, s); err != nil {
		return 0, err
	}
	s.proposals = append(s.proposals, &Proposal{Description: description})
	id := len(s.proposals) - 1
	c.emit(Event{Type: EventProposalSubmitted, Session: c.current, Actor: caller, ProposalID: id})
	return id, nil
}

// Proposals returns a copy of the proposal list for a session.
func (c *Coordinator) Proposals(sessionID int) ([]Proposal, error) {
	s, err := c.sessionByID(sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]Proposal, len(s.proposals))
	for i, p := range s.proposals {
		out[i] = *p
	}
	return out, nil
}

// CastVote records the caller's single-choice vote. All guards run before
// any mutation.
func (c *Coordinator) CastVote(caller string, proposalID int) error {
	if err := c.requirePhase(PhaseVotingSessionStarted); err != nil {
		return err
	}
	s := c.sessions[c.current]
	if err := c.requireEnrolled(caller, s); err != nil {
		return err
	}
	v := s.voters[caller]
	if v.HasVoted {
		return ErrAlreadyVoted
	}
	if proposalID < 0 || proposalID >= len(s.proposals) {
		return ErrInvalidProposal
	}
	p := s.proposals[proposalID]
	if !p.Active {
		return ErrInactiveProposal
	}
	v.HasVoted = true
	v.VotedProposal = proposalID
	p.VoteCount++
	c.voterLog = append(c.voterLog, caller)
	c.emit(Event{Type: EventVoteCast, Session: c.current, Actor: caller, Voter: caller, ProposalID: proposalID})
	return nil
}

// TallyVotes computes the maximum vote count among active proposals and
// either finalizes the session, narrows a tie for a re-vote, or breaks a
// repeated tie with the entropy source.
//
// The tie comparison baseline on the very first tally is the proposal count
// snapshotted when registration ended, so a round-1 tie spanning every
// proposal is classified as repeated and resolved randomly immediately.
func (c *Coordinator) TallyVotes(caller string) (TallyOutcome, error) {
	if err := c.requireAuthority(caller); err != nil {
		return TallyOutcome{}, err
	}
	if err := c.requirePhase(PhaseVotingSessionEnded); err != nil {
		return TallyOutcome{}, err
	}
	s := c.sessions[c.current]
	if len(s.proposals) == 0 {
		return TallyOutcome{}, ErrNoProposals
	}

	maxVote := -1
	for _, p := range s.proposals {
		if p.Active && p.VoteCount > maxVote {
			maxVote = p.VoteCount
		}
	}
	c.mostVoted = c.mostVoted[:0]
	for id, p := range s.proposals {
		if p.Active && p.VoteCount == maxVote {
			c.mostVoted = append(c.mostVoted, id)
		}
	}

	if len(c.mostVoted) == 1 {
		return c.finalize(caller, s, c.mostVoted[0], false)
	}

	tied := slices.Clone(c.mostVoted)
	c.emit(Event{Type: EventTieDetected, Session: c.current, Actor: caller, TiedIDs: tied})

	if len(c.mostVoted) < c.lastTieLength {
		// Narrowing tie: exclude everything else and re-run the vote.
		for id, p := range s.proposals {
			if p.Active && !slices.Contains(c.mostVoted, id) {
				p.Active = false
			}
			p.VoteCount = 0
		}
		for _, voter := range c.voterLog {
			if v := s.voters[voter]; v != nil {
				v.HasVoted = false
				v.VotedProposal = 0
			}
		}
		c.voterLog = c.voterLog[:0]
		c.lastTieLength = len(c.mostVoted)
		c.mostVoted = c.mostVoted[:0]
		return TallyOutcome{TiedIDs: tied}, nil
	}

	// Repeated tie: no progress since the previous round, force a decision.
	pick := tied[int(c.entropy.Draw(caller)%uint64(len(tied)))]
	out, err := c.finalize(caller, s, pick, true)
	if err != nil {
		return out, err
	}
	out.TiedIDs = tied
	return out, nil
}

func (c *Coordinator) finalize(actor string, s *session, winner int, random bool) (TallyOutcome, error) {
	if err := c.advance(actor, PhaseVotingSessionEnded, PhaseVotesTallied); err != nil {
		return TallyOutcome{}, err
	}
	s.winner = winner
	s.finalized = true
	c.mostVoted = c.mostVoted[:0]
	c.emit(Event{Type: EventWinnerDeclared, Session: c.current, Actor: actor, ProposalID: winner, RandomPick: random})
	return TallyOutcome{Finalized: true, Winner: winner, RandomPick: random}, nil
}

// Reset opens a fresh session in any phase and clears the tie scratch state.
// Prior sessions stay queryable.
func (c *Coordinator) Reset(caller string) (int, error) {
	if err := c.requireAuthority(caller); err != nil {
		return 0, err
	}
	old := c.phase
	c.sessions = append(c.sessions, newSession())
	c.current = len(c.sessions) - 1
	c.phase = PhaseRegisteringVoters
	c.mostVoted = nil
	c.lastTieLength = 0
	c.voterLog = nil
	c.emit(Event{Type: EventSessionReset, Session: c.current, Actor: caller})
	c.emit(Event{Type: EventPhaseChanged, Session: c.current, Actor: caller, OldPhase: old, NewPhase: PhaseRegisteringVoters})
	return c.current, nil
}

// WinnerOf returns the winning proposal id of a finalized session.
func (c *Coordinator) WinnerOf(sessionID int) (int, error) {
	s, err := c.sessionByID(sessionID)
	if err != nil {
		return 0, err
	}
	if !s.finalized {
		return 0, ErrSessionNotFinalized
	}
	return s.winner, nil
}

// ChoiceOf returns the caller's own recorded vote in a session.
func (c *Coordinator) ChoiceOf(caller string, sessionID int) (int, error) {
	s, err := c.sessionByID(sessionID)
	if err != nil {
		return 0, err
	}
	if err := c.requireEnrolled(caller, s); err != nil {
		return 0, err
	}
	v := s.voters[caller]
	if !v.HasVoted {
		return 0, ErrHasNotVoted
	}
	return v.VotedProposal, nil
}

func (c *Coordinator) sessionByID(sessionID int) (*session, error) {
	if sessionID < 0 || sessionID >= len(c.sessions) {
		return nil, ErrUnknownSession
	}
	return c.sessions[sessionID], nil
}
