// Package scheduler debounces per-layer changes and runs one update at a
// time per layer through a shared concurrency limiter.
//
// Each key moves through Idle → Debouncing → Queued → Running. A change
// while Debouncing restarts the quiet period; a change while Queued is
// merged into the batch the job will pick up; a change while Running marks
// the job obsolete and is buffered until the run completes, after which the
// key debounces again.
package scheduler

import (
	"context"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/agentic-research/assetgen/internal/limiter"
)

// DefaultQuietPeriod is the debounce delay after the last change.
const DefaultQuietPeriod = 300 * time.Millisecond

// Key identifies one layer of one document.
type Key struct {
	DocumentID int
	LayerID    int
}

// Change is a bit set describing what happened to a layer.
type Change uint32

const (
	ChangeAdded Change = 1 << iota
	ChangeRemoved
	ChangeName
	ChangeBounds
	ChangeMask
	ChangePixels
	ChangeVisibility
	ChangeSettings
	// ChangeContext covers document-level invalidation: resolution, asset
	// directory, enablement or document default specs.
	ChangeContext
)

// Has reports whether any bit of o is set.
func (c Change) Has(o Change) bool { return c&o != 0 }

// Batch is the accumulated change for one key. Snapshot is opaque to the
// scheduler and replaced by every merge.
type Batch struct {
	Key      Key
	Changes  Change
	Snapshot any
}

func (b *Batch) merge(o Batch) {
	b.Changes |= o.Changes
	if o.Snapshot != nil {
		b.Snapshot = o.Snapshot
	}
}

// Job is one execution of a batch.
type Job struct {
	Batch
	RunID uuid.UUID

	obsolete atomic.Bool
}

// Obsolete reports whether newer changes arrived or the document was
// cancelled while the job was running. Obsolete jobs must not write.
func (j *Job) Obsolete() bool { return j.obsolete.Load() }

// Runner executes a job.
type Runner func(ctx context.Context, job *Job) error

type state int

const (
	stateIdle state = iota
	stateDebouncing
	stateQueued
	stateRunning
)

func (s state) String() string {
	switch s {
	case stateDebouncing:
		return "debouncing"
	case stateQueued:
		return "queued"
	case stateRunning:
		return "running"
	}
	return "idle"
}

type entry struct {
	state state
	timer Timer
	gen   int
	batch *Batch
	job   *Job
}

// Options configures a Scheduler.
type Options struct {
	QuietPeriod time.Duration
	Clock       Clock
	Logger      *log.Logger
}

// Scheduler owns the per-key state machines.
type Scheduler struct {
	run     Runner
	limiter *limiter.Limiter
	clock   Clock
	quiet   time.Duration
	logger  *log.Logger

	mu      sync.Mutex
	entries map[Key]*entry
	idle    chan struct{}
	closed  bool
	runs    atomic.Int64
}

// New creates a scheduler that admits jobs through lim.
func New(lim *limiter.Limiter, run Runner, opts Options) *Scheduler {
	if opts.QuietPeriod <= 0 {
		opts.QuietPeriod = DefaultQuietPeriod
	}
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	idle := make(chan struct{})
	close(idle)
	return &Scheduler{
		run:     run,
		limiter: lim,
		clock:   opts.Clock,
		quiet:   opts.QuietPeriod,
		logger:  opts.Logger,
		entries: make(map[Key]*entry),
		idle:    idle,
	}
}

// Schedule records a change for b.Key.
func (s *Scheduler) Schedule(b Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	e := s.entries[b.Key]
	if e == nil {
		e = &entry{}
		if len(s.entries) == 0 {
			s.idle = make(chan struct{})
		}
		s.entries[b.Key] = e
	}

	switch e.state {
	case stateIdle:
		e.batch = &b
		s.arm(b.Key, e)
	case stateDebouncing:
		e.batch.merge(b)
		s.arm(b.Key, e)
	case stateQueued:
		e.batch.merge(b)
	case stateRunning:
		e.job.obsolete.Store(true)
		if e.batch == nil {
			e.batch = &b
		} else {
			e.batch.merge(b)
		}
	}
}

// arm (re)starts the quiet period. Caller holds s.mu.
func (s *Scheduler) arm(key Key, e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.gen++
	gen := e.gen
	e.state = stateDebouncing
	e.timer = s.clock.AfterFunc(s.quiet, func() { s.fire(key, e, gen) })
}

func (s *Scheduler) fire(key Key, e *entry, gen int) {
	s.mu.Lock()
	if s.entries[key] != e || e.gen != gen || e.state != stateDebouncing {
		s.mu.Unlock()
		return
	}
	e.state = stateQueued
	e.timer = nil
	s.mu.Unlock()

	done := s.limiter.Enqueue(func(ctx context.Context) error {
		job := s.begin(key, e)
		if job == nil {
			return nil
		}
		s.runs.Add(1)
		return s.run(ctx, job)
	})
	go func() { s.finish(key, e, <-done) }()
}

func (s *Scheduler) begin(key Key, e *entry) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[key] != e || e.state != stateQueued {
		return nil
	}
	job := &Job{Batch: *e.batch, RunID: uuid.New()}
	e.batch = nil
	e.job = job
	e.state = stateRunning
	return job
}

func (s *Scheduler) finish(key Key, e *entry, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var runID uuid.UUID
	if e.job != nil {
		runID = e.job.RunID
	}
	if err != nil {
		s.logger.Printf("scheduler: run %s doc=%d layer=%d failed: %v", runID, key.DocumentID, key.LayerID, err)
	}
	if s.entries[key] != e {
		return
	}
	e.job = nil
	if e.state == stateRunning && e.batch != nil && !s.closed {
		s.arm(key, e)
		return
	}
	s.remove(key)
}

// remove drops an entry. Caller holds s.mu.
func (s *Scheduler) remove(key Key) {
	delete(s.entries, key)
	if len(s.entries) == 0 {
		close(s.idle)
	}
}

// cancel stops the timer and obsoletes the job of e. Caller holds s.mu.
func (s *Scheduler) cancel(key Key, e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.job != nil {
		e.job.obsolete.Store(true)
	}
	s.remove(key)
}

// CancelDocument drops every pending change of a document and marks its
// running jobs obsolete.
func (s *Scheduler) CancelDocument(docID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		if key.DocumentID == docID {
			s.cancel(key, e)
		}
	}
}

// Pending returns the keys that are debouncing, queued or running.
func (s *Scheduler) Pending() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]Key, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].DocumentID != keys[j].DocumentID {
			return keys[i].DocumentID < keys[j].DocumentID
		}
		return keys[i].LayerID < keys[j].LayerID
	})
	return keys
}

// State returns the state name of key, for status reporting.
func (s *Scheduler) State(key Key) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e.state.String()
	}
	return stateIdle.String()
}

// Runs returns the number of jobs started so far.
func (s *Scheduler) Runs() int64 { return s.runs.Load() }

// Wait blocks until no key is debouncing, queued or running.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels all pending work. Running jobs finish but are obsolete.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for key, e := range s.entries {
		s.cancel(key, e)
	}
}
