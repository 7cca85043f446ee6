// Package session keeps per-chat state: the running job, the rate-limit
// clock and the detected language. Each chat has at most one running job;
// starting another cancels the previous one first.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/gavinyap/bigseek/internal/i18n"
)

// Func is the body of a job. It must return once ctx is done.
type Func func(ctx context.Context, job *Job) error

// Options configures a Supervisor.
type Options struct {
	// RateInterval is the minimum gap between accepted messages of a chat.
	// Zero disables rate limiting.
	RateInterval time.Duration
	// CleanupInterval is how often RunJanitor prunes finished jobs.
	CleanupInterval time.Duration
	Logger          zerolog.Logger
}

// Supervisor owns the per-chat registries.
type Supervisor struct {
	opts Options

	jobs      Map[int64, *Job]
	limiters  Map[int64, *rate.Limiter]
	languages Map[int64, i18n.Language]

	wg sync.WaitGroup
}

// NewSupervisor returns an empty Supervisor.
func NewSupervisor(opts Options) *Supervisor {
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 5 * time.Minute
	}
	return &Supervisor{opts: opts}
}

// Admit reports whether a message arriving at now may start a job.
// Rejected messages leave the chat's clock untouched.
func (s *Supervisor) Admit(chatID int64, now time.Time) bool {
	if s.opts.RateInterval <= 0 {
		return true
	}
	lim, ok := s.limiters.Load(chatID)
	if !ok {
		lim, _ = s.limiters.LoadOrStore(chatID, rate.NewLimiter(rate.Every(s.opts.RateInterval), 1))
	}
	return lim.AllowN(now, 1)
}

// Start launches fn as the chat's job. A running job of the same chat is
// cancelled with SupersededByNewMessage, and fn does not begin until that
// job has returned, so the two never interleave side effects.
func (s *Supervisor) Start(ctx context.Context, chatID int64, fn Func) *Job {
	jobCtx, cancel := context.WithCancelCause(ctx)
	job := &Job{
		ID:     uuid.NewString(),
		ChatID: chatID,
		ctx:    jobCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	prev, hadPrev := s.jobs.Swap(chatID, job)
	if hadPrev && !prev.State().Terminal() {
		s.opts.Logger.Info().Int64("chat_id", chatID).Str("job_id", prev.ID).Msg("superseding running job")
		prev.Cancel(SupersededByNewMessage)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(job.done)
		defer cancel(nil)

		// A job superseded while it waits still waits: the chain of
		// predecessors must be fully unwound before this job is done.
		if hadPrev {
			<-prev.Done()
		}

		var err error
		if jobCtx.Err() != nil {
			err = context.Cause(jobCtx)
		} else {
			err = fn(jobCtx, job)
		}
		job.finish(err)

		s.opts.Logger.Debug().
			Int64("chat_id", chatID).
			Str("job_id", job.ID).
			Stringer("state", job.State()).
			Msg("job finished")
	}()

	return job
}

// Stop cancels the chat's running job with UserRequestedStop. It returns
// false when nothing was running.
func (s *Supervisor) Stop(chatID int64) bool {
	job, ok := s.jobs.Load(chatID)
	if !ok || job.State().Terminal() {
		return false
	}
	job.Cancel(UserRequestedStop)
	return true
}

// Active reports whether the chat has a running job.
func (s *Supervisor) Active(chatID int64) bool {
	job, ok := s.jobs.Load(chatID)
	return ok && !job.State().Terminal()
}

// Job returns the chat's current job, running or not.
func (s *Supervisor) Job(chatID int64) (*Job, bool) {
	return s.jobs.Load(chatID)
}

// CancelAll cancels every running job.
func (s *Supervisor) CancelAll(cause CancelCause) {
	s.jobs.Range(func(_ int64, job *Job) bool {
		if !job.State().Terminal() {
			job.Cancel(cause)
		}
		return true
	})
}

// Wait blocks until every started job has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Prune drops finished jobs from the registry and returns how many.
func (s *Supervisor) Prune() int {
	pruned := 0
	s.jobs.Range(func(chatID int64, job *Job) bool {
		if job.State().Terminal() && s.jobs.CompareAndDelete(chatID, job) {
			pruned++
		}
		return true
	})
	return pruned
}

// RunJanitor prunes finished jobs every CleanupInterval until ctx is done.
func (s *Supervisor) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(s.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Prune(); n > 0 {
				s.opts.Logger.Debug().Int("pruned", n).Msg("pruned finished jobs")
			}
		}
	}
}

// Language returns the chat's last detected language, English by default.
func (s *Supervisor) Language(chatID int64) i18n.Language {
	if lang, ok := s.languages.Load(chatID); ok {
		return lang
	}
	return i18n.EN
}

// SetLanguage records the chat's language.
func (s *Supervisor) SetLanguage(chatID int64, lang i18n.Language) {
	s.languages.Store(chatID, lang)
}
