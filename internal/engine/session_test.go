package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/apply-engine/internal/scrape"
)

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{name: "pending to inline modal", from: StatusPending, to: StatusInlineModal, want: true},
		{name: "pending to ats opened", from: StatusPending, to: StatusATSOpened, want: true},
		{name: "pending straight to complete", from: StatusPending, to: StatusATSComplete, want: true},
		{name: "inline modal to ats opened", from: StatusInlineModal, to: StatusATSOpened, want: true},
		{name: "ats opened to filling", from: StatusATSOpened, to: StatusATSFilling, want: true},
		{name: "filling to complete", from: StatusATSFilling, to: StatusATSComplete, want: true},
		{name: "no going backwards", from: StatusATSOpened, to: StatusInlineModal, want: false},
		{name: "no self loop", from: StatusPending, to: StatusPending, want: false},
		{name: "failed from pending", from: StatusPending, to: StatusFailed, want: true},
		{name: "failed from filling", from: StatusATSFilling, to: StatusFailed, want: true},
		{name: "complete is terminal", from: StatusATSComplete, to: StatusFailed, want: false},
		{name: "failed is terminal", from: StatusFailed, to: StatusATSComplete, want: false},
		{name: "failed cannot re-fail", from: StatusFailed, to: StatusFailed, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusATSComplete.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusATSFilling.Terminal())
}

func TestJobSession_BindATSTabIsImmutable(t *testing.T) {
	sess := newSession(scrape.Job{ID: "j1"}, "tab-1", time.Now())

	require.NoError(t, sess.bindATSTab("ats-1"))
	assert.NoError(t, sess.bindATSTab("ats-1"), "rebinding the same tab is a no-op")
	assert.Error(t, sess.bindATSTab("ats-2"))
	assert.Equal(t, "ats-1", sess.ATSTabID)
}

func TestJobSession_TransitionRejectsIllegalMove(t *testing.T) {
	sess := newSession(scrape.Job{ID: "j1"}, "tab-1", time.Now())

	require.NoError(t, sess.transition(StatusATSOpened))
	err := sess.transition(StatusInlineModal)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal transition")
	assert.Equal(t, StatusATSOpened, sess.Status, "state unchanged on rejection")
}

func TestOrchestratorState_ClaimATSTab(t *testing.T) {
	st := newOrchestratorState()
	st.Sessions["j1"] = newSession(scrape.Job{ID: "j1"}, "tab-1", time.Now())
	st.Sessions["j2"] = newSession(scrape.Job{ID: "j2"}, "tab-2", time.Now())

	require.NoError(t, st.claimATSTab("ats-1", "j1"))
	assert.Error(t, st.claimATSTab("ats-1", "j2"), "live owner blocks a second claim")
	assert.NoError(t, st.claimATSTab("ats-1", "j1"), "re-claim by the owner is fine")

	owner, ok := st.jobForATSTab("ats-1")
	require.True(t, ok)
	assert.Equal(t, "j1", owner)
}

func TestOrchestratorState_ClaimReapsTerminalOwner(t *testing.T) {
	st := newOrchestratorState()
	dead := newSession(scrape.Job{ID: "j1"}, "tab-1", time.Now())
	dead.Status = StatusFailed
	st.Sessions["j1"] = dead
	st.Sessions["j2"] = newSession(scrape.Job{ID: "j2"}, "tab-2", time.Now())
	st.atsTabs["ats-1"] = "j1"

	assert.NoError(t, st.claimATSTab("ats-1", "j2"), "a terminal owner's stale claim is reaped")

	owner, _ := st.jobForATSTab("ats-1")
	assert.Equal(t, "j2", owner)
}

func TestOrchestratorState_ReleaseOnlyByOwner(t *testing.T) {
	st := newOrchestratorState()
	st.Sessions["j1"] = newSession(scrape.Job{ID: "j1"}, "tab-1", time.Now())
	require.NoError(t, st.claimATSTab("ats-1", "j1"))

	st.releaseATSTab("ats-1", "someone-else")
	_, ok := st.jobForATSTab("ats-1")
	assert.True(t, ok, "a non-owner release is ignored")

	st.releaseATSTab("ats-1", "j1")
	_, ok = st.jobForATSTab("ats-1")
	assert.False(t, ok)
}

func TestPlatformState_EnqueueDeduplicates(t *testing.T) {
	ps := newPlatformState(scrape.PlatformLinkedIn)

	added := ps.enqueue([]scrape.Job{{ID: "a"}, {ID: "b"}, {ID: "a"}, {ID: ""}})
	assert.Equal(t, 2, added)

	added = ps.enqueue([]scrape.Job{{ID: "b"}, {ID: "c"}})
	assert.Equal(t, 1, added)

	ids := []string{}
	for {
		job, ok := ps.nextJob()
		if !ok {
			break
		}
		ids = append(ids, job.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}
