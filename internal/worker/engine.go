package worker

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Cypherspark/bulk-sms/internal/core"
	"github.com/Cypherspark/bulk-sms/internal/metrics"
)

var ErrQueueFull = errors.New("job queue is full")

type State string

const (
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Job is a snapshot of one asynchronous bulk send.
type Job struct {
	ID        string           `json:"id"`
	State     State            `json:"state"`
	Progress  int              `json:"progress"`
	Result    *core.SendResult `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`

	req core.SendRequest
}

// Sender runs one bulk send; *core.Service satisfies it.
type Sender interface {
	SendSMS(ctx context.Context, req core.SendRequest, progress core.ProgressFunc) (*core.SendResult, error)
}

type Options struct {
	Concurrency int           // number of sender goroutines
	QueueSize   int           // pending jobs before Submit rejects
	Retention   time.Duration // how long finished jobs stay readable
	SweepEvery  time.Duration // janitor cadence
}

// Runner executes bulk sends on a fixed-size worker pool and keeps their
// progress for readers. Each send still runs sequentially inside one worker.
type Runner struct {
	sender Sender
	opt    Options
	log    zerolog.Logger

	queue chan string
	wg    sync.WaitGroup

	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewRunner(sender Sender, opt Options, log zerolog.Logger) *Runner {
	if opt.Concurrency <= 0 {
		opt.Concurrency = 2
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 64
	}
	if opt.Retention <= 0 {
		opt.Retention = time.Hour
	}
	if opt.SweepEvery <= 0 {
		opt.SweepEvery = time.Minute
	}
	return &Runner{
		sender: sender,
		opt:    opt,
		log:    log.With().Str("component", "jobs").Logger(),
		queue:  make(chan string, opt.QueueSize),
		jobs:   map[string]*Job{},
	}
}

// Start launches the workers and the janitor. They stop taking new work when
// ctx is done; a send already in progress runs to completion. Use Wait to
// join them.
func (r *Runner) Start(ctx context.Context) {
	r.wg.Add(r.opt.Concurrency)
	for i := 0; i < r.opt.Concurrency; i++ {
		go func() {
			defer r.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-r.queue:
					r.run(context.WithoutCancel(ctx), id)
				}
			}
		}()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(jitter(r.opt.SweepEvery, 0.20)):
				if n := r.sweep(time.Now()); n > 0 {
					r.log.Debug().Int("removed", n).Msg("expired jobs swept")
				}
			}
		}
	}()
}

func (r *Runner) Wait() { r.wg.Wait() }

// Submit queues a send and returns its job id without blocking.
func (r *Runner) Submit(req core.SendRequest) (string, error) {
	now := time.Now().UTC()
	j := &Job{ID: uuid.NewString(), State: StateQueued, CreatedAt: now, UpdatedAt: now, req: req}

	r.mu.Lock()
	r.jobs[j.ID] = j
	r.mu.Unlock()

	select {
	case r.queue <- j.ID:
		return j.ID, nil
	default:
		r.mu.Lock()
		delete(r.jobs, j.ID)
		r.mu.Unlock()
		metrics.JobsTotal.WithLabelValues("rejected").Inc()
		return "", ErrQueueFull
	}
}

// Get returns a copy of the job so callers never share state with the worker.
func (r *Runner) Get(id string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

func (r *Runner) run(ctx context.Context, id string) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	j.State = StateRunning
	j.UpdatedAt = time.Now().UTC()
	req := j.req
	r.mu.Unlock()

	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	log := r.log.With().Str("job_id", id).Logger()
	log.Info().Int("recipients", len(req.Recipients)).Msg("job started")

	res, err := r.sender.SendSMS(log.WithContext(ctx), req, func(p int) { r.update(id, func(j *Job) { j.Progress = p }) })

	state := StateDone
	r.update(id, func(j *Job) {
		j.Result = res
		switch {
		case err != nil:
			j.Error = err.Error()
		case res != nil && !res.Success:
			j.Error = res.Error
		}
		if j.Error != "" {
			state = StateFailed
		}
		j.State = state
		j.Progress = 100
		j.req = core.SendRequest{}
	})
	metrics.JobsTotal.WithLabelValues(string(state)).Inc()
	log.Info().Str("state", string(state)).Msg("job finished")
}

func (r *Runner) update(id string, fn func(j *Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		fn(j)
		j.UpdatedAt = time.Now().UTC()
	}
}

// sweep drops finished jobs older than the retention window.
func (r *Runner) sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, j := range r.jobs {
		finished := j.State == StateDone || j.State == StateFailed
		if finished && now.Sub(j.UpdatedAt) > r.opt.Retention {
			delete(r.jobs, id)
			n++
		}
	}
	return n
}

func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	delta := int64(float64(d) * frac)
	if delta <= 0 {
		return d
	}
	// random in [-delta, +delta]
	n := rand.Int64N(2*delta+1) - delta
	return d + time.Duration(n)
}
