package engine

import "github.com/jonathan/apply-engine/internal/scrape"

// PlatformState is the orchestrator's view of one source listing tab.
type PlatformState struct {
	Platform      scrape.Platform
	TabID         string
	CurrentPage   int
	JobsScraped   int
	JobsProcessed int
	HasNextPage   bool
	IsActive      bool
	SignedIn      bool

	// queue holds scraped jobs not yet turned into sessions. activeJobID
	// is the single in-flight session for this tab; the next job is not
	// popped until it resolves.
	queue         []scrape.Job
	activeJobID   string
	seenJobs      map[string]bool
	scrapePending bool
}

func newPlatformState(platform scrape.Platform) *PlatformState {
	return &PlatformState{
		Platform:    platform,
		CurrentPage: 1,
		seenJobs:    make(map[string]bool),
	}
}

// enqueue adds jobs not seen on earlier pages and returns how many were new.
// Listing pages repeat cards across paginations often enough that blind
// queueing would double-apply.
func (p *PlatformState) enqueue(jobs []scrape.Job) int {
	added := 0
	for _, job := range jobs {
		if job.ID == "" || p.seenJobs[job.ID] {
			continue
		}
		p.seenJobs[job.ID] = true
		p.queue = append(p.queue, job)
		added++
	}
	return added
}

// nextJob pops the head of the queue.
func (p *PlatformState) nextJob() (scrape.Job, bool) {
	if len(p.queue) == 0 {
		return scrape.Job{}, false
	}
	job := p.queue[0]
	p.queue = p.queue[1:]
	return job, true
}

// deactivate takes the platform out of the pagination loop. Queued jobs are
// dropped; an in-flight session is the caller's problem.
func (p *PlatformState) deactivate() {
	p.IsActive = false
	p.queue = nil
	p.scrapePending = false
}

// reset returns the platform to its pre-discovery shape, keeping only the
// identity. Used when the tab closes or the engine stops.
func (p *PlatformState) reset() {
	p.TabID = ""
	p.CurrentPage = 1
	p.HasNextPage = false
	p.IsActive = false
	p.SignedIn = false
	p.queue = nil
	p.activeJobID = ""
	p.scrapePending = false
	p.seenJobs = make(map[string]bool)
}
