package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// defaultSideEffectTimeout bounds the post-commit phase of an operation.
const defaultSideEffectTimeout = 30 * time.Second

// postCommit collects side effects that must only happen once the
// surrounding transaction has committed (mail, push, file removal).
// Jobs run in order; none of them can fail the operation, and a job that
// panics is logged and counted without stopping the ones after it.
type postCommit struct {
	jobs []func(context.Context)
}

func (p *postCommit) add(fn func(context.Context)) {
	if p == nil || fn == nil {
		return
	}
	p.jobs = append(p.jobs, fn)
}

// merge appends the jobs of o, used when a savepoint committed.
func (p *postCommit) merge(o *postCommit) {
	if p == nil || o == nil {
		return
	}
	p.jobs = append(p.jobs, o.jobs...)
}

// run executes the jobs on a context detached from ctx's cancellation so a
// client hanging up does not abort delivery.
func (p *postCommit) run(ctx context.Context, timeout time.Duration, log zerolog.Logger) {
	if p == nil || len(p.jobs) == 0 {
		return
	}
	if timeout <= 0 {
		timeout = defaultSideEffectTimeout
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	jobs := p.jobs
	p.jobs = nil
	for i, fn := range jobs {
		runJob(dctx, i, fn, log)
	}
}

func runJob(ctx context.Context, i int, fn func(context.Context), log zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			bestEffortFailures.WithLabelValues(failPanic).Inc()
			log.Error().Int("job", i).Interface("panic", r).Msg("post-commit job panicked")
		}
	}()
	fn(ctx)
}
