// Package judge implements the serialized code-execution pipeline (C1):
// a single FIFO worker that submits source code to a sandbox, applies
// the python test harness, and projects the sandbox's raw output back
// into pass/fail test results.
//
// Grounded on adred-codev-ws_poc's worker_pool.go (bounded task queue,
// single background worker, context-scoped shutdown) generalized from
// an N-worker pool down to the one-job-at-a-time, 300ms-paced queue
// spec.md §4.4 requires so a single misbehaving submission can't
// monopolize the sandbox.
package judge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/giilbert/radix/internal/v1/domain"
	"github.com/giilbert/radix/internal/v1/logging"
	"go.uber.org/zap"
)

// queueCapacity bounds how many pending jobs can wait for the single
// worker before Submit starts blocking the caller, per spec.md §4.4.
const queueCapacity = 500

// jobPacing is the minimum delay enforced between the completion of
// one job and the start of the next, to keep a burst of submissions
// from hammering the sandbox back to back.
const jobPacing = 300 * time.Millisecond

type job struct {
	ctx       context.Context
	language  string
	code      string
	testCases []domain.TestCase
	reply     chan<- jobReply
}

type jobReply struct {
	result domain.JudgingResult
	err    error
}

// Queue is the process-wide serialized judge pipeline. Construct one
// with NewQueue and share it; it is safe for concurrent Submit calls
// from many room actors.
type Queue struct {
	sandbox Sandbox
	cache   ResultCache

	jobs chan job

	startOnce sync.Once
	stop      chan struct{}
}

// NewQueue builds a Queue backed by the given Sandbox and ResultCache
// and starts its single worker goroutine. Pass judge.NewNoopCache() to
// disable caching.
func NewQueue(sandbox Sandbox, cache ResultCache) *Queue {
	q := &Queue{
		sandbox: sandbox,
		cache:   cache,
		jobs:    make(chan job, queueCapacity),
		stop:    make(chan struct{}),
	}
	q.startOnce.Do(func() { go q.run() })
	return q
}

// Close stops the worker goroutine. Pending jobs are drained with a
// "queue closed" error rather than silently dropped.
func (q *Queue) Close() {
	close(q.stop)
}

// Submit enqueues a judge job and blocks until it is processed or ctx
// is canceled. A full queue blocks the caller (backpressure), per
// spec.md §9 rather than dropping work.
func (q *Queue) Submit(ctx context.Context, language, code string, testCases []domain.TestCase) (domain.JudgingResult, error) {
	reply := make(chan jobReply, 1)
	j := job{ctx: ctx, language: language, code: code, testCases: testCases, reply: reply}

	jobsQueued.Inc()
	select {
	case q.jobs <- j:
	case <-ctx.Done():
		jobsQueued.Dec()
		return domain.JudgingResult{}, ctx.Err()
	case <-q.stop:
		jobsQueued.Dec()
		return domain.JudgingResult{}, fmt.Errorf("judge queue closed")
	}

	select {
	case r := <-reply:
		return r.result, r.err
	case <-ctx.Done():
		return domain.JudgingResult{}, ctx.Err()
	}
}

func (q *Queue) run() {
	for {
		select {
		case j := <-q.jobs:
			jobsQueued.Dec()
			start := time.Now()
			result, err := q.process(j)
			jobDuration.WithLabelValues(j.language).Observe(time.Since(start).Seconds())

			outcome := "success"
			if err != nil {
				outcome = "error"
			}
			jobsTotal.WithLabelValues(j.language, outcome).Inc()

			j.reply <- jobReply{result: result, err: err}
			time.Sleep(jobPacing)
		case <-q.stop:
			q.drain()
			return
		}
	}
}

func (q *Queue) drain() {
	for {
		select {
		case j := <-q.jobs:
			jobsQueued.Dec()
			j.reply <- jobReply{err: fmt.Errorf("judge queue closed")}
		default:
			return
		}
	}
}

func (q *Queue) process(j job) (domain.JudgingResult, error) {
	key := CacheKey(j.language, j.code, j.testCases)
	if cached, ok := q.cache.Get(j.ctx, key); ok {
		return cached, nil
	}

	source, err := buildSource(j.language, j.code, j.testCases)
	if err != nil {
		return domain.JudgingResult{}, err
	}

	exec, err := q.sandbox.Execute(j.ctx, j.language, source)
	if err != nil {
		logging.Error(j.ctx, "sandbox execution failed", zap.String("language", j.language), zap.Error(err))
		return domain.JudgingResult{}, err
	}

	if stderr := sanitizeStderr(exec.Stderr); stderr != "" {
		return domain.JudgingResult{}, fmt.Errorf("%s", stderr)
	}

	harnessOut, err := parseHarnessOutput(exec.Stdout)
	if err != nil {
		return domain.JudgingResult{}, fmt.Errorf("program produced no output")
	}

	result := projectResult(j.testCases, harnessOut)
	q.cache.Set(j.ctx, key, result)
	return result, nil
}
