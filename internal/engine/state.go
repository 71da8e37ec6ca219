package engine

import (
	"fmt"

	"github.com/jonathan/apply-engine/internal/scrape"
)

// Phase is the engine-wide run state surfaced to the control API.
type Phase string

const (
	PhaseStopped Phase = "stopped"
	PhaseRunning Phase = "running"
	PhasePaused  Phase = "paused"
)

// OrchestratorState is everything the engine owns. It lives inside the run
// loop and is never handed out; snapshots copy what callers may see.
type OrchestratorState struct {
	Phase      Phase
	StatusLine string

	Sessions  map[string]*JobSession
	Platforms map[scrape.Platform]*PlatformState

	// atsTabs maps an external tab to the one non-terminal session bound
	// to it.
	atsTabs map[string]string
}

func newOrchestratorState() *OrchestratorState {
	return &OrchestratorState{
		Phase:      PhaseStopped,
		StatusLine: "Stopped",
		Sessions:   make(map[string]*JobSession),
		Platforms:  make(map[scrape.Platform]*PlatformState),
		atsTabs:    make(map[string]string),
	}
}

// session returns the session for a job id, nil if absent.
func (s *OrchestratorState) session(jobID string) *JobSession {
	return s.Sessions[jobID]
}

// liveSession returns the session only while it is non-terminal.
func (s *OrchestratorState) liveSession(jobID string) *JobSession {
	sess := s.Sessions[jobID]
	if sess == nil || sess.Status.Terminal() {
		return nil
	}
	return sess
}

// platform returns state for a platform, creating it on first sight.
func (s *OrchestratorState) platform(p scrape.Platform) *PlatformState {
	ps, ok := s.Platforms[p]
	if !ok {
		ps = newPlatformState(p)
		s.Platforms[p] = ps
	}
	return ps
}

// claimATSTab binds tabID to jobID, enforcing at most one non-terminal
// session per external tab.
func (s *OrchestratorState) claimATSTab(tabID, jobID string) error {
	if owner, ok := s.atsTabs[tabID]; ok && owner != jobID {
		if live := s.liveSession(owner); live != nil {
			return fmt.Errorf("ats tab %s already owned by job %s", tabID, owner)
		}
		// Terminal owner never released its claim; reap it.
		delete(s.atsTabs, tabID)
	}
	s.atsTabs[tabID] = jobID
	return nil
}

// releaseATSTab drops the claim held by jobID, if any.
func (s *OrchestratorState) releaseATSTab(tabID, jobID string) {
	if owner, ok := s.atsTabs[tabID]; ok && owner == jobID {
		delete(s.atsTabs, tabID)
	}
}

// jobForATSTab resolves an external tab to its owning job id.
func (s *OrchestratorState) jobForATSTab(tabID string) (string, bool) {
	jobID, ok := s.atsTabs[tabID]
	return jobID, ok
}

// sourcePlatform finds the platform whose listing tab is tabID.
func (s *OrchestratorState) sourcePlatform(tabID string) *PlatformState {
	for _, ps := range s.Platforms {
		if ps.TabID != "" && ps.TabID == tabID {
			return ps
		}
	}
	return nil
}

// liveSessions returns every non-terminal session.
func (s *OrchestratorState) liveSessions() []*JobSession {
	var live []*JobSession
	for _, sess := range s.Sessions {
		if !sess.Status.Terminal() {
			live = append(live, sess)
		}
	}
	return live
}
