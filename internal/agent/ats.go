package agent

import (
	"context"

	"github.com/jonathan/apply-engine/internal/engine"
	"github.com/jonathan/apply-engine/internal/navigate"
)

const docReadyJS = `document.readyState === "interactive" || document.readyState === "complete"`

// runATS drives one external applicant-tracking tab from adoption to a
// terminal verdict. Runs on its own goroutine per tab; the tab is closed by
// the orchestrator's teardown, not here, except when adoption itself fails
// and nothing upstream knows the tab.
func (s *Supervisor) runATS(ctx context.Context, jobID, targetID string) {
	log := s.log.With("job_id", jobID, "tab", targetID)

	adoptCtx, cancel := context.WithTimeout(ctx, s.opts.opTimeout)
	tab, err := s.session.AdoptTab(adoptCtx, targetID)
	cancel()
	if err != nil {
		log.Errorw("could not attach to ats tab", "error", err)
		s.post(engine.ATSComplete{JobID: jobID, Success: false, Error: "ats_attach_failed"})
		s.CloseTab(targetID)
		return
	}

	// External sites redirect through application gateways; wait for a
	// settled document before classifying anything.
	readyCtx, cancel := context.WithTimeout(ctx, s.opts.readyWait)
	if err := tab.WaitFunc(readyCtx, docReadyJS, s.opts.readyWait); err != nil {
		log.Debugw("ats document never settled", "error", err)
	}
	cancel()

	s.post(engine.ATSContentReady{JobID: jobID})

	outcome := navigate.New(tab, s.filler, s.opts.navigator).Run(ctx)
	if outcome.Success {
		log.Infow("ats application submitted", "steps", outcome.Steps, "final", outcome.Final)
		s.post(engine.ATSComplete{JobID: jobID, Success: true})
		return
	}
	log.Warnw("ats application failed", "reason", outcome.Reason, "steps", outcome.Steps)
	s.post(engine.ATSComplete{JobID: jobID, Success: false, Error: outcome.Reason})
}
