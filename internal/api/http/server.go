package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	appBallot "github.com/ballot-engine/ballot-engine/internal/application/ballot"
	"github.com/ballot-engine/ballot-engine/internal/domain/ballot"
	"github.com/ballot-engine/ballot-engine/internal/domain/feed"
	"github.com/ballot-engine/ballot-engine/internal/infrastructure/sse"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	ballotSvc          *appBallot.Service
	sseHub             *sse.Hub
	authority          string
	authorityTokenHash string
}

func NewServer(ballotSvc *appBallot.Service, sseHub *sse.Hub, authority, authorityTokenHash string) *Server {
	return &Server{
		ballotSvc:          ballotSvc,
		sseHub:             sseHub,
		authority:          authority,
		authorityTokenHash: authorityTokenHash,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.healthz)

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.requireCaller)

			r.Post("/voters", s.enrollVoters)
			r.Delete("/voters", s.revokeVoters)

			r.Post("/phases/proposals/start", s.startProposals)
			r.Post("/phases/proposals/end", s.endProposals)
			r.Post("/phases/voting/start", s.startVoting)
			r.Post("/phases/voting/end", s.endVoting)
			r.Post("/phases/voting/reopen", s.reopenVoting)

			r.Post("/proposals", s.submitProposal)
			r.Post("/votes", s.castVote)
			r.Post("/tally", s.tally)
			r.Post("/reset", s.reset)

			r.Get("/sessions/{sessionId}/choice", s.getChoice)
		})

		r.Get("/sessions/current", s.getCurrentSession)
		r.Get("/sessions/{sessionId}/winner", s.getWinner)
		r.Get("/proposals", s.listProposals)
		r.Get("/proposals/{proposalId}", s.getProposal)
		r.Get("/results", s.listResults)
		r.Get("/events", s.listEvents)
		r.Get("/events/stream", s.streamEvents)
	})

	return r
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// respondDomainError maps engine errors onto HTTP statuses.
func respondDomainError(w http.ResponseWriter, err error) {
	var phaseErr *ballot.PhaseMismatchError
	var enrollErr *ballot.NotEnrolledError
	switch {
	case errors.Is(err, ballot.ErrUnauthorized):
		respondError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, appBallot.ErrNotEligible):
		respondError(w, http.StatusForbidden, "NOT_ELIGIBLE", err.Error())
	case errors.As(err, &enrollErr):
		respondError(w, http.StatusForbidden, "NOT_ENROLLED", err.Error())
	case errors.As(err, &phaseErr):
		respondError(w, http.StatusConflict, "PHASE_MISMATCH", err.Error())
	case errors.Is(err, ballot.ErrAlreadyVoted),
		errors.Is(err, ballot.ErrInactiveProposal),
		errors.Is(err, ballot.ErrNoProposals),
		errors.Is(err, ballot.ErrSessionNotFinalized):
		respondError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, ballot.ErrInvalidProposal):
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
	case errors.Is(err, ballot.ErrUnknownSession),
		errors.Is(err, ballot.ErrHasNotVoted):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func parseIntParam(r *http.Request, key string) (int, error) {
	return strconv.Atoi(chi.URLParam(r, key))
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil {
			offset = o
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

// Voter handlers

type enrollRequest struct {
	Voters []appBallot.EnrollInput `json:"voters"`
}

func (s *Server) enrollVoters(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if len(req.Voters) == 0 {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "voters required")
		return
	}
	caller := callerFromContext(r.Context())
	if err := s.ballotSvc.EnrollVoters(r.Context(), caller, req.Voters); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"enrolled": len(req.Voters)})
}

type revokeRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) revokeVoters(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	caller := callerFromContext(r.Context())
	if err := s.ballotSvc.RevokeVoters(r.Context(), caller, req.IDs); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"revoked": len(req.IDs)})
}

// Phase handlers

func (s *Server) startProposals(w http.ResponseWriter, r *http.Request) {
	s.phaseChange(w, r, s.ballotSvc.StartProposalsRegistration)
}

func (s *Server) endProposals(w http.ResponseWriter, r *http.Request) {
	s.phaseChange(w, r, s.ballotSvc.EndProposalsRegistration)
}

func (s *Server) startVoting(w http.ResponseWriter, r *http.Request) {
	s.phaseChange(w, r, s.ballotSvc.StartVotingSession)
}

func (s *Server) endVoting(w http.ResponseWriter, r *http.Request) {
	s.phaseChange(w, r, s.ballotSvc.EndVotingSession)
}

func (s *Server) reopenVoting(w http.ResponseWriter, r *http.Request) {
	s.phaseChange(w, r, s.ballotSvc.ReopenVoting)
}

func (s *Server) phaseChange(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, caller string) error) {
	caller := callerFromContext(r.Context())
	if err := op(r.Context(), caller); err != nil {
		respondDomainError(w, err)
		return
	}
	st := s.ballotSvc.Status(r.Context())
	respondJSON(w, http.StatusOK, st)
}

// Proposal and vote handlers

type proposalRequest struct {
	Description string `json:"description"`
}

func (s *Server) submitProposal(w http.ResponseWriter, r *http.Request) {
	var req proposalRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	caller := callerFromContext(r.Context())
	id, err := s.ballotSvc.SubmitProposal(r.Context(), caller, req.Description)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"proposalId": id})
}

type voteRequest struct {
	ProposalID int `json:"proposalId"`
}

func (s *Server) castVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	caller := callerFromContext(r.Context())
	if err := s.ballotSvc.CastVote(r.Context(), caller, req.ProposalID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"proposalId": req.ProposalID, "status": "CAST"})
}

func (s *Server) tally(w http.ResponseWriter, r *http.Request) {
	caller := callerFromContext(r.Context())
	out, err := s.ballotSvc.TallyVotes(r.Context(), caller)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	caller := callerFromContext(r.Context())
	id, err := s.ballotSvc.Reset(r.Context(), caller)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"session": id})
}

// Read handlers

func (s *Server) getCurrentSession(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.ballotSvc.Status(r.Context()))
}

func (s *Server) getWinner(w http.ResponseWriter, r *http.Request) {
	session, err := parseIntParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid sessionId")
		return
	}
	res, err := s.ballotSvc.WinnerOf(r.Context(), session)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) getChoice(w http.ResponseWriter, r *http.Request) {
	session, err := parseIntParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid sessionId")
		return
	}
	caller := callerFromContext(r.Context())
	choice, err := s.ballotSvc.ChoiceOf(r.Context(), caller, session)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"session": session, "proposalId": choice})
}

type proposalResponse struct {
	ProposalID  int    `json:"proposalId"`
	Description string `json:"description"`
	VoteCount   int    `json:"voteCount"`
	Active      bool   `json:"active"`
}

func (s *Server) sessionFromQuery(r *http.Request) int {
	if v := r.URL.Query().Get("session"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			return id
		}
	}
	return s.ballotSvc.Status(r.Context()).CurrentSession
}

func (s *Server) listProposals(w http.ResponseWriter, r *http.Request) {
	session := s.sessionFromQuery(r)
	proposals, err := s.ballotSvc.Proposals(r.Context(), session)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	out := make([]proposalResponse, len(proposals))
	for i, p := range proposals {
		out[i] = proposalResponse{ProposalID: i, Description: p.Description, VoteCount: p.VoteCount, Active: p.Active}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"session": session, "proposals": out})
}

func (s *Server) getProposal(w http.ResponseWriter, r *http.Request) {
	id, err := parseIntParam(r, "proposalId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid proposalId")
		return
	}
	session := s.sessionFromQuery(r)
	proposals, err := s.ballotSvc.Proposals(r.Context(), session)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if id < 0 || id >= len(proposals) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "proposal not found")
		return
	}
	p := proposals[id]
	respondJSON(w, http.StatusOK, proposalResponse{ProposalID: id, Description: p.Description, VoteCount: p.VoteCount, Active: p.Active})
}

func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.ballotSvc.ListResults(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	session := s.sessionFromQuery(r)
	limit, offset := parseLimitOffset(r, 50, 200)
	events, err := s.ballotSvc.ListEvents(r.Context(), session, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"session": session, "events": events})
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	client := feed.NewStreamClient(clientID)
	s.sseHub.Register(client)
	defer s.sseHub.Unregister(clientID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}
	// Send an initial comment to flush headers and keep the connection alive.
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case msg := <-client.MessageChan:
			if msg == nil {
				return
			}
			payload, _ := json.Marshal(msg)
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
