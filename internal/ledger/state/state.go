package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ballot-engine/ballot-engine/internal/domain/ballot"
	"github.com/ballot-engine/ballot-engine/internal/domain/entropy"
	"github.com/ballot-engine/ballot-engine/internal/ledger/protocol"
)

// Event is one committed ballot event with replication provenance. Event IDs
// derive from the tx id and emission sequence so every replica logs the same
// ids.
type Event struct {
	EventID    string           `json:"eventId"`
	Session    int              `json:"session"`
	Type       ballot.EventType `json:"type"`
	Actor      string           `json:"actor"`
	Payload    json.RawMessage  `json:"payload,omitempty"`
	TxID       string           `json:"txId"`
	CommitTime time.Time        `json:"commitTime"`
	LogIndex   uint64           `json:"logIndex"`
}

// ApplyResult reports what one committed tx decided.
type ApplyResult struct {
	Op         protocol.Operation   `json:"op"`
	ProposalID *int                 `json:"proposalId,omitempty"`
	Session    *int                 `json:"session,omitempty"`
	Tally      *ballot.TallyOutcome `json:"tally,omitempty"`
}

// commitSource draws tie-break entropy from the commit context of the tx
// being applied. Every replica sees the same timestamp, log index and actor,
// so every replica draws the same value. Weak by construction, like the rest
// of the tie-break path.
type commitSource struct {
	at    time.Time
	index uint64
}

func (c *commitSource) Draw(actor string) uint64 {
	return entropy.Mix(c.at.UnixNano(), c.index, actor)
}

// Machine is the deterministic replicated ballot engine. The authority is the
// key fingerprint fixed at construction; every mutation arrives as a signed
// tx whose actor must match its key.
type Machine struct {
	mu        sync.RWMutex
	authority string
	src       *commitSource
	coord     *ballot.Coordinator
	appliedTx map[string]bool
	events    []Event

	// scratch for the event sink, valid only inside ApplyTx
	curTxID string
	curSeq  int
}

func NewMachine(authority string) *Machine {
	m := &Machine{
		authority: strings.TrimSpace(authority),
		src:       &commitSource{},
		appliedTx: map[string]bool{},
	}
	m.coord = ballot.NewCoordinator(m.authority, m.src, m.record)
	return m
}

func (m *Machine) record(ev ballot.Event) {
	m.curSeq++
	payload, _ := json.Marshal(ev)
	m.events = append(m.events, Event{
		EventID:    fmt.Sprintf("%s:%06d", m.curTxID, m.curSeq),
		Session:    ev.Session,
		Type:       ev.Type,
		Actor:      ev.Actor,
		Payload:    payload,
		TxID:       m.curTxID,
		CommitTime: m.src.at,
		LogIndex:   m.src.index,
	})
}

// ApplyTx validates and applies one signed transaction at the given raft log
// index. Replaying an already applied tx id is a no-op.
func (m *Machine) ApplyTx(tx protocol.Tx, logIndex uint64) (*ApplyResult, error) {
	if err := tx.Verify(); err != nil {
		return nil, err
	}
	fp, err := protocol.Fingerprint(tx.PublicKey)
	if err != nil {
		return nil, err
	}
	if fp != strings.TrimSpace(tx.Actor) {
		return nil, errors.New("actor does not match key fingerprint")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appliedTx[tx.TxID] {
		return &ApplyResult{Op: tx.Op}, nil
	}

	m.curTxID = strings.TrimSpace(tx.TxID)
	m.curSeq = 0
	m.src.at = tx.Timestamp.UTC()
	m.src.index = logIndex

	result := &ApplyResult{Op: tx.Op}
	switch tx.Op {
	case protocol.OpEnrollVoters:
		payload, perr := protocol.DecodePayload[protocol.EnrollVotersPayload](tx.Payload)
		if perr != nil {
			return nil, perr
		}
		if len(payload.Voters) == 0 {
			return nil, errors.New("voters are required")
		}
		err = m.coord.EnrollVoters(tx.Actor, payload.Voters...)
	case protocol.OpRevokeVoters:
		payload, perr := protocol.DecodePayload[protocol.RevokeVotersPayload](tx.Payload)
		if perr != nil {
			return nil, perr
		}
		if len(payload.Voters) == 0 {
			return nil, errors.New("voters are required")
		}
		err = m.coord.RevokeVoters(tx.Actor, payload.Voters...)
	case protocol.OpStartProposals:
		err = m.coord.StartProposalsRegistration(tx.Actor)
	case protocol.OpEndProposals:
		err = m.coord.EndProposalsRegistration(tx.Actor)
	case protocol.OpStartVoting:
		err = m.coord.StartVotingSession(tx.Actor)
	case protocol.OpEndVoting:
		err = m.coord.EndVotingSession(tx.Actor)
	case protocol.OpReopenVoting:
		err = m.coord.ReopenVoting(tx.Actor)
	case protocol.OpSubmitProposal:
		payload, perr := protocol.DecodePayload[protocol.SubmitProposalPayload](tx.Payload)
		if perr != nil {
			return nil, perr
		}
		var id int
		id, err = m.coord.SubmitProposal(tx.Actor, payload.Description)
		if err == nil {
			result.ProposalID = &id
		}
	case protocol.OpCastVote:
		payload, perr := protocol.DecodePayload[protocol.CastVotePayload](tx.Payload)
		if perr != nil {
			return nil, perr
		}
		err = m.coord.CastVote(tx.Actor, payload.ProposalID)
	case protocol.OpTallyVotes:
		var out ballot.TallyOutcome
		out, err = m.coord.TallyVotes(tx.Actor)
		if err == nil {
			result.Tally = &out
		}
	case protocol.OpReset:
		var id int
		id, err = m.coord.Reset(tx.Actor)
		if err == nil {
			result.Session = &id
		}
	default:
		err = fmt.Errorf("unsupported op: %s", tx.Op)
	}
	if err != nil {
		return nil, err
	}
	m.appliedTx[tx.TxID] = true
	return result, nil
}

type snapshot struct {
	Authority string       `json:"authority"`
	Engine    ballot.State `json:"engine"`
	AppliedTx []string     `json:"appliedTx"`
	Events    []Event      `json:"events"`
}

// Marshal serializes the current machine snapshot.
func (m *Machine) Marshal() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := snapshot{
		Authority: m.authority,
		Engine:    m.coord.Snapshot(),
		AppliedTx: make([]string, 0, len(m.appliedTx)),
		Events:    append([]Event(nil), m.events...),
	}
	for txID := range m.appliedTx {
		s.AppliedTx = append(s.AppliedTx, txID)
	}
	sort.Strings(s.AppliedTx)
	return json.Marshal(s)
}

// Unmarshal restores machine state from a snapshot payload.
func (m *Machine) Unmarshal(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty snapshot")
	}
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(s.Authority) != "" {
		m.authority = strings.TrimSpace(s.Authority)
		m.coord = ballot.NewCoordinator(m.authority, m.src, m.record)
	}
	m.coord.Restore(s.Engine)
	m.appliedTx = make(map[string]bool, len(s.AppliedTx))
	for _, txID := range s.AppliedTx {
		m.appliedTx[txID] = true
	}
	m.events = append([]Event(nil), s.Events...)
	return nil
}

func (m *Machine) Authority() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.authority
}

func (m *Machine) Phase() ballot.Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.coord.Phase()
}

func (m *Machine) CurrentSession() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.coord.CurrentSession()
}

func (m *Machine) Proposals(session int) ([]ballot.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.coord.Proposals(session)
}

func (m *Machine) WinnerOf(session int) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.coord.WinnerOf(session)
}

func (m *Machine) IsEnrolled(id string, session int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.coord.IsEnrolled(id, session)
}

// ListEvents returns committed events, newest first.
func (m *Machine) ListEvents(limit, offset int) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	total := len(m.events)
	if offset >= total {
		return []Event{}
	}
	out := make([]Event, 0, limit)
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		ev := m.events[i]
		if ev.Payload != nil {
			ev.Payload = append([]byte(nil), ev.Payload...)
		}
		out = append(out, ev)
	}
	return out
}

type Stats struct {
	Authority string       `json:"authority"`
	Phase     ballot.Phase `json:"phase"`
	Session   int          `json:"session"`
	Sessions  int          `json:"sessions"`
	Events    int          `json:"events"`
	AppliedTx int          `json:"appliedTx"`
}

func (m *Machine) StateStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Authority: m.authority,
		Phase:     m.coord.Phase(),
		Session:   m.coord.CurrentSession(),
		Sessions:  m.coord.SessionCount(),
		Events:    len(m.events),
		AppliedTx: len(m.appliedTx),
	}
}
