package ballot

import "slices"

// SessionState is the serializable form of one session.
type SessionState struct {
	Voters    map[string]Voter `json:"voters"`
	Proposals []Proposal       `json:"proposals"`
	Winner    int              `json:"winner"`
	Finalized bool             `json:"finalized"`
}

// State is a deep copy of everything a coordinator owns. It exists so a
// replicated host can snapshot and restore the engine.
type State struct {
	Phase         Phase          `json:"phase"`
	Current       int            `json:"current"`
	Sessions      []SessionState `json:"sessions"`
	MostVoted     []int          `json:"mostVoted,omitempty"`
	LastTieLength int            `json:"lastTieLength"`
	VoterLog      []string       `json:"voterLog,omitempty"`
}

// Snapshot exports a deep copy of the coordinator state.
func (c *Coordinator) Snapshot() State {
	st := State{
		Phase:         c.phase,
		Current:       c.current,
		Sessions:      make([]SessionState, len(c.sessions)),
		MostVoted:     slices.Clone(c.mostVoted),
		LastTieLength: c.lastTieLength,
		VoterLog:      slices.Clone(c.voterLog),
	}
	for i, s := range c.sessions {
		ss := SessionState{
			Voters:    make(map[string]Voter, len(s.voters)),
			Proposals: make([]Proposal, len(s.proposals)),
			Winner:    s.winner,
			Finalized: s.finalized,
		}
		for id, v := range s.voters {
			ss.Voters[id] = *v
		}
		for j, p := range s.proposals {
			ss.Proposals[j] = *p
		}
		st.Sessions[i] = ss
	}
	return st
}

// Restore replaces the coordinator state with a previously exported snapshot.
func (c *Coordinator) Restore(st State) {
	c.phase = st.Phase
	c.current = st.Current
	c.mostVoted = slices.Clone(st.MostVoted)
	c.lastTieLength = st.LastTieLength
	c.voterLog = slices.Clone(st.VoterLog)
	c.sessions = make([]*session, len(st.Sessions))
	for i, ss := range st.Sessions {
		s := newSession()
		for id, v := range ss.Voters {
			voter := v
			s.voters[id] = &voter
		}
		s.proposals = make([]*Proposal, len(ss.Proposals))
		for j, p := range ss.Proposals {
			proposal := p
			s.proposals[j] = &proposal
		}
		s.winner = ss.Winner
		s.finalized = ss.Finalized
		c.sessions[i] = s
	}
	if len(c.sessions) == 0 {
		c.sessions = []*session{newSession()}
		c.current = 0
		c.phase = PhaseRegisteringVoters
	}
}
