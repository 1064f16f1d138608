package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	appBallot "github.com/ballot-engine/ballot-engine/internal/application/ballot"
	"github.com/ballot-engine/ballot-engine/internal/domain/entropy"
	"github.com/ballot-engine/ballot-engine/internal/infrastructure/memory"
	"github.com/ballot-engine/ballot-engine/internal/infrastructure/sse"
)

const authority = "chair"

func newTestRouter(t *testing.T, tokenHash string) http.Handler {
	t.Helper()
	hub := sse.NewHub()
	t.Cleanup(hub.Stop)
	svc := appBallot.NewService(authority, entropy.Fixed(0), memory.NewRepository(), hub, "", zerolog.Nop())
	return NewServer(svc, hub, authority, tokenHash).Router()
}

func doJSON(t *testing.T, router http.Handler, method, path, caller string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != "" {
		req.Header.Set("X-Caller-Id", caller)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func enrollBody(ids ...string) map[string]interface{} {
	voters := make([]map[string]interface{}, len(ids))
	for i, id := range ids {
		voters[i] = map[string]interface{}{"id": id}
	}
	return map[string]interface{}{"voters": voters}
}

func TestMissingCallerRejected(t *testing.T) {
	router := newTestRouter(t, "")

	rec := doJSON(t, router, http.MethodPost, "/v1/voters", "", enrollBody("alice"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNonAuthorityForbidden(t *testing.T) {
	router := newTestRouter(t, "")

	rec := doJSON(t, router, http.MethodPost, "/v1/voters", "alice", enrollBody("alice"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthorityTokenRequired(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	router := newTestRouter(t, string(hash))

	rec := doJSON(t, router, http.MethodPost, "/v1/voters", authority, enrollBody("alice"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/voters", bytes.NewBufferString(`{"voters":[{"id":"alice"}]}`))
	req.Header.Set("X-Caller-Id", authority)
	req.Header.Set("Authorization", "Bearer s3cret")
	out := httptest.NewRecorder()
	router.ServeHTTP(out, req)
	assert.Equal(t, http.StatusOK, out.Code)
}

func TestFullWorkflowOverHTTP(t *testing.T) {
	router := newTestRouter(t, "")

	rec := doJSON(t, router, http.MethodPost, "/v1/voters", authority, enrollBody("alice", "bob"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/phases/proposals/start", authority, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/proposals", "alice", map[string]string{"description": "tea"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, router, http.MethodPost, "/v1/proposals", "bob", map[string]string{"description": "coffee"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/phases/proposals/end", authority, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, router, http.MethodPost, "/v1/phases/voting/start", authority, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/votes", "alice", map[string]int{"proposalId": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, router, http.MethodPost, "/v1/votes", "bob", map[string]int{"proposalId": 1})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/phases/voting/end", authority, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/tally", authority, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var outcome struct {
		Finalized bool `json:"finalized"`
		Winner    int  `json:"winner"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.True(t, outcome.Finalized)
	assert.Equal(t, 1, outcome.Winner)

	rec = doJSON(t, router, http.MethodGet, "/v1/sessions/0/winner", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result struct {
		WinningProposalID int    `json:"winningProposalId"`
		WinnerDescription string `json:"winnerDescription"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.WinningProposalID)
	assert.Equal(t, "coffee", result.WinnerDescription)

	rec = doJSON(t, router, http.MethodGet, "/v1/sessions/0/choice", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/v1/events?session=0", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events struct {
		Events []json.RawMessage `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.NotEmpty(t, events.Events)
}

func TestErrorMapping(t *testing.T) {
	router := newTestRouter(t, "")

	// Voting before the voting phase is a conflict.
	rec := doJSON(t, router, http.MethodPost, "/v1/votes", "alice", map[string]int{"proposalId": 0})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Winner of a session that was never finalized.
	rec = doJSON(t, router, http.MethodGet, "/v1/sessions/0/winner", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Unknown session is not found.
	rec = doJSON(t, router, http.MethodGet, "/v1/sessions/9/winner", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Proposal lookups out of range.
	rec = doJSON(t, router, http.MethodGet, "/v1/proposals/3", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProposalListingShowsActiveFlags(t *testing.T) {
	router := newTestRouter(t, "")

	doJSON(t, router, http.MethodPost, "/v1/voters", authority, enrollBody("alice"))
	doJSON(t, router, http.MethodPost, "/v1/phases/proposals/start", authority, nil)
	for _, d := range []string{"a", "b", "c"} {
		doJSON(t, router, http.MethodPost, "/v1/proposals", "alice", map[string]string{"description": d})
	}
	doJSON(t, router, http.MethodPost, "/v1/phases/proposals/end", authority, nil)

	rec := doJSON(t, router, http.MethodGet, "/v1/proposals", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Proposals []struct {
			ProposalID  int    `json:"proposalId"`
			Description string `json:"description"`
			Active      bool   `json:"active"`
		} `json:"proposals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Proposals, 3)
	for i, p := range listing.Proposals {
		assert.Equal(t, i, p.ProposalID)
		assert.True(t, p.Active, fmt.Sprintf("proposal %d should be active", i))
	}
}

func TestResetViaHTTP(t *testing.T) {
	router := newTestRouter(t, "")

	rec := doJSON(t, router, http.MethodPost, "/v1/reset", authority, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Session int `json:"session"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Session)

	rec = doJSON(t, router, http.MethodGet, "/v1/sessions/current", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st struct {
		Phase          string `json:"phase"`
		CurrentSession int    `json:"currentSession"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "REGISTERING_VOTERS", st.Phase)
	assert.Equal(t, 1, st.CurrentSession)
}
