package ballot

// Phase represents one stage of the ballot workflow.
type Phase string

const (
	PhaseRegisteringVoters            Phase = "REGISTERING_VOTERS"
	PhaseProposalsRegistrationStarted Phase = "PROPOSALS_REGISTRATION_STARTED"
	PhaseProposalsRegistrationEnded   Phase = "PROPOSALS_REGISTRATION_ENDED"
	PhaseVotingSessionStarted         Phase = "VOTING_SESSION_STARTED"
	PhaseVotingSessionEnded           Phase = "VOTING_SESSION_ENDED"
	PhaseVotesTallied                 Phase = "VOTES_TALLIED"
)

// CanTransitionTo validates a forward phase transition. The back-edge from
// VOTING_SESSION_ENDED to VOTING_SESSION_STARTED is reserved for tie re-votes
// and is not part of the forward order; Reset bypasses this table entirely.
func (p Phase) CanTransitionTo(target Phase) bool {
	transitions := map[Phase][]Phase{
		PhaseRegisteringVoters:            {PhaseProposalsRegistrationStarted},
		PhaseProposalsRegistrationStarted: {PhaseProposalsRegistrationEnded},
		PhaseProposalsRegistrationEnded:   {PhaseVotingSessionStarted},
		PhaseVotingSessionStarted:         {PhaseVotingSessionEnded},
		PhaseVotingSessionEnded:           {PhaseVotesTallied},
		PhaseVotesTallied:                 {},
	}
	for _, next := range transitions[p] {
		if next == target {
			return true
		}
	}
	return false
}

// Voter is one participant slot in a session. VotedProposal is meaningful
// only while HasVoted is true.
type Voter struct {
	Enrolled      bool `json:"enrolled"`
	HasVoted      bool `json:"hasVoted"`
	VotedProposal int  `json:"votedProposal"`
}

// Proposal is one candidate entry, identified by its zero-based insertion
// index within a session. Active becomes false when a tie round excludes the
// proposal; an inactive proposal can never receive votes again.
type Proposal struct {
	Description string `json:"description"`
	VoteCount   int    `json:"voteCount"`
	Active      bool   `json:"active"`
}

// EventType describes a ballot notification.
type EventType string

const (
	EventParticipantEnrolled EventType = "PARTICIPANT_ENROLLED"
	EventParticipantRevoked  EventType = "PARTICIPANT_REVOKED"
	EventPhaseChanged        EventType = "PHASE_CHANGED"
	EventProposalSubmitted   EventType = "PROPOSAL_SUBMITTED"
	EventVoteCast            EventType = "VOTE_CAST"
	EventTieDetected         EventType = "TIE_DETECTED"
	EventWinnerDeclared      EventType = "WINNER_DECLARED"
	EventSessionReset        EventType = "SESSION_RESET"
)

// Event is one discrete notification emitted by the coordinator, in call
// order. Only the fields relevant to the event type are populated.
type Event struct {
	Type       EventType `json:"type"`
	Session    int       `json:"session"`
	Actor      string    `json:"actor,omitempty"`
	Voter      string    `json:"voter,omitempty"`
	OldPhase   Phase     `json:"oldPhase,omitempty"`
	NewPhase   Phase     `json:"newPhase,omitempty"`
	ProposalID int       `json:"proposalId,omitempty"`
	TiedIDs    []int     `json:"tiedIds,omitempty"`
	RandomPick bool      `json:"randomPick,omitempty"`
}

// EventSink consumes coordinator events synchronously. Delivery beyond the
// sink (journals, stream buffers) is the consumer's concern.
type EventSink func(Event)

// TallyOutcome reports what a tally attempt decided.
type TallyOutcome struct {
	Finalized  bool  `json:"finalized"`
	Winner     int   `json:"winner"`
	TiedIDs    []int `json:"tiedIds,omitempty"`
	RandomPick bool  `json:"randomPick"`
}
