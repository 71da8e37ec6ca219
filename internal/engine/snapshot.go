package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/jonathan/apply-engine/internal/quota"
	"github.com/jonathan/apply-engine/internal/scrape"
)

// Snapshot is the engine state as pushed to status consumers. It is a
// copy; holding one never races the run loop.
type Snapshot struct {
	EngineState string             `json:"engine_state"`
	StatusLine  string             `json:"status_line"`
	Platforms   []PlatformSnapshot `json:"platforms"`
	DailyLimits quota.Counts       `json:"daily_limits"`
	Sessions    []SessionSnapshot  `json:"sessions,omitempty"`
	GeneratedAt time.Time          `json:"generated_at"`
}

type PlatformSnapshot struct {
	Platform      scrape.Platform `json:"platform"`
	CurrentPage   int             `json:"current_page"`
	JobsScraped   int             `json:"jobs_scraped"`
	JobsProcessed int             `json:"jobs_processed"`
	QueuedJobs    int             `json:"queued_jobs"`
	HasNextPage   bool            `json:"has_next_page"`
	IsActive      bool            `json:"is_active"`
	SignedIn      bool            `json:"signed_in"`
}

// SessionSnapshot is the brief view of one live session.
type SessionSnapshot struct {
	JobID     string          `json:"job_id"`
	Platform  scrape.Platform `json:"platform"`
	Title     string          `json:"title"`
	Company   string          `json:"company"`
	Status    Status          `json:"status"`
	StartedAt time.Time       `json:"started_at"`
}

// snapshot builds a copy of current state. Run-loop only.
func (e *Engine) snapshot() *Snapshot {
	snap := &Snapshot{
		EngineState: string(e.state.Phase),
		StatusLine:  e.state.StatusLine,
		DailyLimits: e.quota.Snapshot(),
		GeneratedAt: e.timeNow(),
	}

	for _, p := range e.platforms {
		ps, ok := e.state.Platforms[p]
		if !ok {
			continue
		}
		snap.Platforms = append(snap.Platforms, PlatformSnapshot{
			Platform:      ps.Platform,
			CurrentPage:   ps.CurrentPage,
			JobsScraped:   ps.JobsScraped,
			JobsProcessed: ps.JobsProcessed,
			QueuedJobs:    len(ps.queue),
			HasNextPage:   ps.HasNextPage,
			IsActive:      ps.IsActive,
			SignedIn:      ps.SignedIn,
		})
	}

	for _, sess := range e.state.liveSessions() {
		snap.Sessions = append(snap.Sessions, SessionSnapshot{
			JobID:     sess.Job.ID,
			Platform:  sess.Job.Platform,
			Title:     sess.Job.Title,
			Company:   sess.Job.Company,
			Status:    sess.Status,
			StartedAt: sess.StartedAt,
		})
	}
	sort.Slice(snap.Sessions, func(i, j int) bool {
		return snap.Sessions[i].StartedAt.Before(snap.Sessions[j].StartedAt)
	})

	return snap
}

// publish pushes a fresh snapshot to every subscriber. Run-loop only.
func (e *Engine) publish() {
	e.subs.broadcast(e.snapshot())
}

// Subscribe registers a status consumer. The returned cancel must be
// called when the consumer goes away; the channel closes when the engine
// loop exits. Slow consumers miss intermediate snapshots rather than
// stalling the loop.
func (e *Engine) Subscribe() (<-chan *Snapshot, func()) {
	return e.subs.add()
}

// subscriberSet fans snapshots out to status listeners. Channels are
// buffered one deep; a pending stale snapshot is replaced by the newer
// one so consumers always wake to the latest state.
type subscriberSet struct {
	mu     sync.Mutex
	subs   map[chan *Snapshot]struct{}
	closed bool
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{subs: make(map[chan *Snapshot]struct{})}
}

func (s *subscriberSet) add() (<-chan *Snapshot, func()) {
	ch := make(chan *Snapshot, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

func (s *subscriberSet) broadcast(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (s *subscriberSet) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for ch := range s.subs {
		close(ch)
		delete(s.subs, ch)
	}
}
