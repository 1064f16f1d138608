package ballot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ballot-engine/ballot-engine/internal/domain/ballot"
	"github.com/ballot-engine/ballot-engine/internal/domain/entropy"
	"github.com/ballot-engine/ballot-engine/internal/domain/feed"
)

// ErrNotEligible rejects enrollment of a voter whose attributes fail the
// configured eligibility rule.
var ErrNotEligible = errors.New("voter does not satisfy the eligibility rule")

// Service serializes access to the ballot coordinator and fans its events out
// to the journal, the SSE stream and the log. The coordinator itself is not
// safe for concurrent use; the service mutex is the single entry gate.
type Service struct {
	mu     sync.Mutex
	coord  *ballot.Coordinator
	repo   ballot.Repository
	hub    feed.Hub
	rule   string
	logger zerolog.Logger
}

// NewService creates a ballot service around a fresh coordinator. The rule is
// a govaluate expression over voter attributes; empty admits everyone.
func NewService(
	authority string,
	src entropy.Source,
	repo ballot.Repository,
	hub feed.Hub,
	rule string,
	logger zerolog.Logger,
) *Service {
	s := &Service{
		repo:   repo,
		hub:    hub,
		rule:   rule,
		logger: logger.With().Str("service", "ballot").Logger(),
	}
	s.coord = ballot.NewCoordinator(authority, src, s.dispatch)
	return s
}

// dispatch journals, streams and logs one coordinator event. It runs inside
// the service mutex, synchronously with the operation that produced it.
func (s *Service) dispatch(ev ballot.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error().Err(err).Str("type", string(ev.Type)).Msg("failed to encode event")
		payload = nil
	}

	record := &ballot.EventRecord{
		EventID:   uuid.New(),
		Session:   ev.Session,
		Type:      ev.Type,
		Actor:     ev.Actor,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.AppendEvent(context.Background(), record); err != nil {
		s.logger.Error().Err(err).Str("type", string(ev.Type)).Msg("failed to journal event")
	}

	if s.hub != nil {
		if data, err := json.Marshal(record); err == nil {
			s.hub.Broadcast(feed.NewStreamMessage("ballot", data))
		}
	}

	s.logger.Info().
		Str("type", string(ev.Type)).
		Int("session", ev.Session).
		Str("actor", ev.Actor).
		Msg("ballot event")
}

// EnrollInput is one enrollment request entry. Attributes feed the
// eligibility rule and are not retained afterwards.
type EnrollInput struct {
	ID         string          `json:"id"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

// EnrollVoters checks each candidate against the eligibility rule and enrolls
// the batch. A single ineligible candidate rejects the whole batch before any
// enrollment happens.
func (s *Service) EnrollVoters(ctx context.Context, caller string, voters []EnrollInput) error {
	ids := make([]string, 0, len(voters))
	for _, v := range voters {
		ok, err := EvaluateRule(s.rule, v.Attributes)
		if err != nil {
			return fmt.Errorf("eligibility rule: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotEligible, v.ID)
		}
		ids = append(ids, v.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord.EnrollVoters(caller, ids...)
}

func (s *Service) RevokeVoters(ctx context.Context, caller string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord.RevokeVoters(caller, ids...)
}

func (s *Service) StartProposalsRegistration(ctx context.Context, caller string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord.StartProposalsRegistration(caller)
}

func (s *Service) EndProposalsRegistration(ctx context.Context, caller string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord.EndProposalsRegistration(caller)
}

func (s *Service) StartVotingSession(ctx context.Context, caller string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord.StartVotingSession(caller)
}

func (s *Service) EndVotingSession(ctx context.Context, caller string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord.EndVotingSession(caller)
}

func (s *Service) ReopenVoting(ctx context.Context, caller string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord.ReopenVoting(caller)
}

func (s *Service) SubmitProposal(ctx context.Context, caller, description string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord.SubmitProposal(caller, description)
}

func (s *Service) CastVote(ctx context.Context, caller string, proposalID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord.CastVote(caller, proposalID)
}

// TallyVotes runs one tally round. A finalized outcome is archived to the
// result store so winners survive restarts.
func (s *Service) TallyVotes(ctx context.Context, caller string) (ballot.TallyOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.coord.CurrentSession()
	out, err := s.coord.TallyVotes(caller)
	if err != nil {
		return out, err
	}
	if !out.Finalized {
		return out, nil
	}

	description := ""
	if proposals, perr := s.coord.Proposals(session); perr == nil && out.Winner < len(proposals) {
		description = proposals[out.Winner].Description
	}
	record := &ballot.ResultRecord{
		Session:           session,
		WinningProposalID: out.Winner,
		WinnerDescription: description,
		RandomTieBreak:    out.RandomPick,
		FinalizedAt:       time.Now().UTC(),
	}
	if err := s.repo.SaveResult(ctx, record); err != nil {
		s.logger.Error().Err(err).Int("session", session).Msg("failed to archive result")
	}
	return out, nil
}

func (s *Service) Reset(ctx context.Context, caller string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord.Reset(caller)
}

// Status is a point-in-time snapshot of the engine's public state.
type Status struct {
	Authority      string       `json:"authority"`
	Phase          ballot.Phase `json:"phase"`
	CurrentSession int          `json:"currentSession"`
	SessionCount   int          `json:"sessionCount"`
}

func (s *Service) Status(ctx context.Context) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Authority:      s.coord.Authority(),
		Phase:          s.coord.Phase(),
		CurrentSession: s.coord.CurrentSession(),
		SessionCount:   s.coord.SessionCount(),
	}
}

func (s *Service) Proposals(ctx context.Context, session int) ([]ballot.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord.Proposals(session)
}

// WinnerOf resolves a session winner. The live coordinator is authoritative;
// sessions it no longer knows about fall back to the archived result.
func (s *Service) WinnerOf(ctx context.Context, session int) (*ballot.ResultRecord, error) {
	s.mu.Lock()
	winner, err := s.coord.WinnerOf(session)
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, ballot.ErrUnknownSession) {
			return s.repo.GetResult(ctx, session)
		}
		return nil, err
	}
	description := ""
	if proposals, perr := s.coord.Proposals(session); perr == nil && winner < len(proposals) {
		description = proposals[winner].Description
	}
	s.mu.Unlock()

	if archived, aerr := s.repo.GetResult(ctx, session); aerr == nil {
		return archived, nil
	}
	return &ballot.ResultRecord{
		Session:           session,
		WinningProposalID: winner,
		WinnerDescription: description,
	}, nil
}

func (s *Service) ChoiceOf(ctx context.Context, caller string, session int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord.ChoiceOf(caller, session)
}

func (s *Service) IsEnrolled(ctx context.Context, id string, session int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord.IsEnrolled(id, session)
}

func (s *Service) ListEvents(ctx context.Context, session, limit, offset int) ([]*ballot.EventRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListEvents(ctx, session, limit, offset)
}

func (s *Service) ListResults(ctx context.Context) ([]*ballot.ResultRecord, error) {
	return s.repo.ListResults(ctx)
}
