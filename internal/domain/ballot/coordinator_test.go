package ballot

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ballot-engine/ballot-engine/internal/domain/entropy"
)

const authority = "chair"

func newTestCoordinator(t *testing.T, src entropy.Source) (*Coordinator, *[]Event) {
	t.Helper()
	events := &[]Event{}
	c := NewCoordinator(authority, src, func(ev Event) {
		*events = append(*events, ev)
	})
	return c, events
}

// runToVoting enrolls the voters, registers the proposals and opens voting.
func runToVoting(t *testing.T, c *Coordinator, voters []string, proposals []string) {
	t.Helper()
	require.NoError(t, c.EnrollVoters(authority, voters...))
	require.NoError(t, c.StartProposalsRegistration(authority))
	for _, text := range proposals {
		_, err := c.SubmitProposal(voters[0], text)
		require.NoError(t, err)
	}
	require.NoError(t, c.EndProposalsRegistration(authority))
	require.NoError(t, c.StartVotingSession(authority))
}

func TestPhaseOrderEnforced(t *testing.T) {
	c, _ := newTestCoordinator(t, entropy.Fixed(0))

	err := c.StartVotingSession(authority)
	var mismatch *PhaseMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, PhaseProposalsRegistrationEnded, mismatch.Expected)
	assert.Equal(t, PhaseRegisteringVoters, mismatch.Actual)

	require.NoError(t, c.StartProposalsRegistration(authority))
	assert.Equal(t, PhaseProposalsRegistrationStarted, c.Phase())

	// skipping a phase fails and leaves the phase unchanged
	require.Error(t, c.StartVotingSession(authority))
	assert.Equal(t, PhaseProposalsRegistrationStarted, c.Phase())
}

func TestOnlyAuthorityDrivesPhases(t *testing.T) {
	c, _ := newTestCoordinator(t, entropy.Fixed(0))

	require.ErrorIs(t, c.StartProposalsRegistration("mallory"), ErrUnauthorized)
	require.ErrorIs(t, c.EnrollVoters("mallory", "alice"), ErrUnauthorized)
	_, err := c.TallyVotes("mallory")
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = c.Reset("mallory")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestEnrollmentIdempotentAndRevocable(t *testing.T) {
	c, events := newTestCoordinator(t, entropy.Fixed(0))

	require.NoError(t, c.EnrollVoters(authority, "alice", "bob"))
	require.NoError(t, c.EnrollVoters(authority, "alice")) // no-op
	enrolled := 0
	for _, ev := range *events {
		if ev.Type == EventParticipantEnrolled {
			enrolled++
		}
	}
	assert.Equal(t, 2, enrolled)

	require.NoError(t, c.RevokeVoters(authority, "bob", "nobody"))
	assert.True(t, c.IsEnrolled("alice", 0))
	assert.False(t, c.IsEnrolled("bob", 0))

	// enrollment is phase-gated
	require.NoError(t, c.StartProposalsRegistration(authority))
	require.Error(t, c.EnrollVoters(authority, "carol"))
}

func TestSubmitProposalRequiresEnrollment(t *testing.T) {
	c, _ := newTestCoordinator(t, entropy.Fixed(0))
	require.NoError(t, c.EnrollVoters(authority, "alice"))
	require.NoError(t, c.StartProposalsRegistration(authority))

	_, err := c.SubmitProposal("outsider", "nope")
	var notEnrolled *NotEnrolledError
	require.ErrorAs(t, err, &notEnrolled)
	assert.Equal(t, "outsider", notEnrolled.Voter)

	id, err := c.SubmitProposal("alice", "repave the road")
	require.NoError(t, err)
	assert.Equal(t, 0, id)

	// duplicates are distinct entries
	id, err = c.SubmitProposal("alice", "repave the road")
	require.NoError(t, err)
	assert.Equal(t, 1, id)
}

func TestVoteGuards(t *testing.T) {
	c, _ := newTestCoordinator(t, entropy.Fixed(0))
	voters := []string{"alice", "bob"}
	runToVoting(t, c, voters, []string{"a", "b"})

	require.ErrorIs(t, c.CastVote("alice", 5), ErrInvalidProposal)
	require.ErrorIs(t, c.CastVote("alice", -1), ErrInvalidProposal)

	var notEnrolled *NotEnrolledError
	require.ErrorAs(t, c.CastVote("outsider", 0), &notEnrolled)

	require.NoError(t, c.CastVote("alice", 0))
	require.ErrorIs(t, c.CastVote("alice", 1), ErrAlreadyVoted)

	// failed vote mutated nothing
	props, err := c.Proposals(0)
	require.NoError(t, err)
	assert.Equal(t, 1, props[0].VoteCount)
	assert.Equal(t, 0, props[1].VoteCount)
}

func TestSingleWinner(t *testing.T) {
	c, _ := newTestCoordinator(t, entropy.Fixed(0))
	voters := []string{"alice", "bob", "carol"}
	runToVoting(t, c, voters, []string{"a", "b", "c"})

	require.NoError(t, c.CastVote("alice", 0))
	require.NoError(t, c.CastVote("bob", 0))
	require.NoError(t, c.CastVote("carol", 1))
	require.NoError(t, c.EndVotingSession(authority))

	out, err := c.TallyVotes(authority)
	require.NoError(t, err)
	assert.True(t, out.Finalized)
	assert.Equal(t, 0, out.Winner)
	assert.False(t, out.RandomPick)
	assert.Equal(t, PhaseVotesTallied, c.Phase())

	winner, err := c.WinnerOf(0)
	require.NoError(t, err)
	assert.Equal(t, 0, winner)
}

func TestNarrowingTieThenRepeatedTie(t *testing.T) {
	c, events := newTestCoordinator(t, entropy.Fixed(7))
	voters := []string{"alice", "bob"}
	runToVoting(t, c, voters, []string{"a", "b", "c"})

	// round 1: 1/1/0 -> tie of 2 against baseline 3 -> narrowing
	require.NoError(t, c.CastVote("alice", 0))
	require.NoError(t, c.CastVote("bob", 1))
	require.NoError(t, c.EndVotingSession(authority))

	out, err := c.TallyVotes(authority)
	require.NoError(t, err)
	assert.False(t, out.Finalized)
	assert.Equal(t, []int{0, 1}, out.TiedIDs)
	assert.Equal(t, PhaseVotingSessionEnded, c.Phase())

	props, err := c.Proposals(0)
	require.NoError(t, err)
	assert.True(t, props[0].Active)
	assert.True(t, props[1].Active)
	assert.False(t, props[2].Active)
	for _, p := range props {
		assert.Zero(t, p.VoteCount)
	}

	// voters were reset and may vote again in the tie round
	require.NoError(t, c.ReopenVoting(authority))
	require.ErrorIs(t, c.CastVote("alice", 2), ErrInactiveProposal)
	require.NoError(t, c.CastVote("alice", 0))
	require.NoError(t, c.CastVote("bob", 1))
	require.NoError(t, c.EndVotingSession(authority))

	// round 2: tie of 2 equals previous tie length -> random pick, 7%2=1
	out, err = c.TallyVotes(authority)
	require.NoError(t, err)
	assert.True(t, out.Finalized)
	assert.True(t, out.RandomPick)
	assert.Equal(t, 1, out.Winner)
	assert.Equal(t, PhaseVotesTallied, c.Phase())

	ties := 0
	for _, ev := range *events {
		if ev.Type == EventTieDetected {
			ties++
			assert.Equal(t, []int{0, 1}, ev.TiedIDs)
		}
	}
	assert.Equal(t, 2, ties)
}

func TestZeroVoteTallyTiesEveryProposal(t *testing.T) {
	// nobody votes: maxVote = 0, every active proposal ties, and the tie
	// size equals the registration baseline, so it resolves randomly.
	c, _ := newTestCoordinator(t, entropy.Fixed(5))
	runToVoting(t, c, []string{"alice"}, []string{"a", "b", "c"})
	require.NoError(t, c.EndVotingSession(authority))

	out, err := c.TallyVotes(authority)
	require.NoError(t, err)
	assert.True(t, out.Finalized)
	assert.True(t, out.RandomPick)
	assert.Equal(t, []int{0, 1, 2}, out.TiedIDs)
	assert.Equal(t, 2, out.Winner) // 5 % 3
}

func TestTallyWithoutProposals(t *testing.T) {
	c, _ := newTestCoordinator(t, entropy.Fixed(0))
	require.NoError(t, c.EnrollVoters(authority, "alice"))
	require.NoError(t, c.StartProposalsRegistration(authority))
	require.NoError(t, c.EndProposalsRegistration(authority))
	require.NoError(t, c.StartVotingSession(authority))
	require.NoError(t, c.EndVotingSession(authority))

	_, err := c.TallyVotes(authority)
	require.ErrorIs(t, err, ErrNoProposals)
	assert.Equal(t, PhaseVotingSessionEnded, c.Phase())
}

func TestResetIsolatesSessionsAndKeepsHistory(t *testing.T) {
	c, _ := newTestCoordinator(t, entropy.Fixed(0))
	voters := []string{"alice", "bob"}
	runToVoting(t, c, voters, []string{"a", "b"})
	require.NoError(t, c.CastVote("alice", 0))
	require.NoError(t, c.CastVote("bob", 0))
	require.NoError(t, c.EndVotingSession(authority))
	_, err := c.TallyVotes(authority)
	require.NoError(t, err)

	next, err := c.Reset(authority)
	require.NoError(t, err)
	assert.Equal(t, 1, next)
	assert.Equal(t, PhaseRegisteringVoters, c.Phase())

	// prior session result is immutable and still queryable
	winner, err := c.WinnerOf(0)
	require.NoError(t, err)
	assert.Equal(t, 0, winner)

	// prior enrollment does not leak into the new session
	assert.True(t, c.IsEnrolled("alice", 0))
	assert.False(t, c.IsEnrolled("alice", 1))
	require.NoError(t, c.StartProposalsRegistration(authority))
	_, err = c.SubmitProposal("alice", "again")
	var notEnrolled *NotEnrolledError
	require.ErrorAs(t, err, &notEnrolled)

	_, err = c.WinnerOf(1)
	require.ErrorIs(t, err, ErrSessionNotFinalized)
}

func TestResetMidVoteClearsTieScratch(t *testing.T) {
	c, _ := newTestCoordinator(t, entropy.Fixed(0))
	runToVoting(t, c, []string{"alice", "bob"}, []string{"a", "b", "c"})
	require.NoError(t, c.CastVote("alice", 0))
	require.NoError(t, c.CastVote("bob", 1))
	require.NoError(t, c.EndVotingSession(authority))
	_, err := c.TallyVotes(authority) // narrowing tie, scratch populated
	require.NoError(t, err)

	_, err = c.Reset(authority)
	require.NoError(t, err)

	// fresh session runs a clean three-way baseline again
	runToVoting(t, c, []string{"carol"}, []string{"x"})
	require.NoError(t, c.CastVote("carol", 0))
	require.NoError(t, c.EndVotingSession(authority))
	out, err := c.TallyVotes(authority)
	require.NoError(t, err)
	assert.True(t, out.Finalized)
	assert.Equal(t, 0, out.Winner)
	assert.False(t, out.RandomPick)
}

func TestChoiceOf(t *testing.T) {
	c, _ := newTestCoordinator(t, entropy.Fixed(0))
	runToVoting(t, c, []string{"alice", "bob"}, []string{"a", "b"})

	_, err := c.ChoiceOf("alice", 0)
	require.ErrorIs(t, err, ErrHasNotVoted)

	require.NoError(t, c.CastVote("alice", 1))
	choice, err := c.ChoiceOf("alice", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, choice)

	_, err = c.ChoiceOf("outsider", 0)
	var notEnrolled *NotEnrolledError
	require.ErrorAs(t, err, &notEnrolled)

	_, err = c.ChoiceOf("alice", 9)
	require.ErrorIs(t, err, ErrUnknownSession)
}

func TestTieShrinkConvergence(t *testing.T) {
	// 4 proposals, tie of 3, then tie of 2, then repeated tie of 2.
	c, _ := newTestCoordinator(t, entropy.Fixed(0))
	voters := []string{"v1", "v2", "v3"}
	runToVoting(t, c, voters, []string{"a", "b", "c", "d"})

	require.NoError(t, c.CastVote("v1", 0))
	require.NoError(t, c.CastVote("v2", 1))
	require.NoError(t, c.CastVote("v3", 2))
	require.NoError(t, c.EndVotingSession(authority))
	out, err := c.TallyVotes(authority)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, out.TiedIDs)

	props, _ := c.Proposals(0)
	active := 0
	for _, p := range props {
		if p.Active {
			active++
		}
	}
	require.Equal(t, 3, active)

	require.NoError(t, c.ReopenVoting(authority))
	require.NoError(t, c.CastVote("v1", 0))
	require.NoError(t, c.CastVote("v2", 1))
	require.NoError(t, c.CastVote("v3", 1))
	require.NoError(t, c.EndVotingSession(authority))
	out, err = c.TallyVotes(authority)
	require.NoError(t, err)
	require.True(t, out.Finalized)
	require.Equal(t, 1, out.Winner)
	require.False(t, out.RandomPick)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	c, _ := newTestCoordinator(t, entropy.Fixed(3))
	runToVoting(t, c, []string{"alice", "bob"}, []string{"a", "b", "c"})
	require.NoError(t, c.CastVote("alice", 0))
	require.NoError(t, c.CastVote("bob", 1))
	require.NoError(t, c.EndVotingSession(authority))
	_, err := c.TallyVotes(authority)
	require.NoError(t, err)

	st := c.Snapshot()

	restored := NewCoordinator(authority, entropy.Fixed(3), nil)
	restored.Restore(st)
	assert.Equal(t, c.Phase(), restored.Phase())
	assert.Equal(t, c.CurrentSession(), restored.CurrentSession())

	// the restored coordinator continues the tie round identically
	require.NoError(t, restored.ReopenVoting(authority))
	require.ErrorIs(t, restored.CastVote("alice", 2), ErrInactiveProposal)
	require.NoError(t, restored.CastVote("alice", 0))
	require.NoError(t, restored.CastVote("bob", 1))
	require.NoError(t, restored.EndVotingSession(authority))
	out, err := restored.TallyVotes(authority)
	require.NoError(t, err)
	assert.True(t, out.Finalized)
	assert.True(t, out.RandomPick)
	assert.Equal(t, 1, out.Winner) // 3 % 2
}

func TestRejectedCallsLeaveStateUnchanged(t *testing.T) {
	c, events := newTestCoordinator(t, entropy.Fixed(0))
	runToVoting(t, c, []string{"alice"}, []string{"a"})
	before := c.Snapshot()
	n := len(*events)

	require.Error(t, c.CastVote("outsider", 0))
	require.Error(t, c.CastVote("alice", 7))
	require.Error(t, c.StartVotingSession(authority))
	_, err := c.TallyVotes(authority)
	require.Error(t, err)

	assert.Equal(t, before, c.Snapshot())
	assert.Len(t, *events, n, "rejected calls must not emit events")
}

func TestWinnerOfUnknownSession(t *testing.T) {
	c, _ := newTestCoordinator(t, entropy.Fixed(0))
	_, err := c.WinnerOf(3)
	require.True(t, errors.Is(err, ErrUnknownSession))
}
