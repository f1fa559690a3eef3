package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rowanvale/mise/internal/store"
)

// Scheduler runs the reconciliation job and expiry cleanup on a fixed
// interval. A scheduled pass and a manually triggered one may overlap;
// the job's conditional writes make that safe.
// MemoryLimiter is any in-process limiter that needs periodic pruning.
type MemoryLimiter interface {
	Cleanup()
}

type Scheduler struct {
	mu            sync.RWMutex
	job           *Job
	userSessions  *store.UserSessionStore
	adminSessions *store.AdminSessionStore
	emailCodes    *store.EmailCodeStore
	challenges    *store.MFAChallengeStore
	rateLimits    *store.RateLimitStore
	throttle      MemoryLimiter
	interval      time.Duration
	logger        *slog.Logger
	cancel        context.CancelFunc
	done          chan struct{}
}

func NewScheduler(
	job *Job,
	userSessions *store.UserSessionStore,
	adminSessions *store.AdminSessionStore,
	emailCodes *store.EmailCodeStore,
	challenges *store.MFAChallengeStore,
	rateLimits *store.RateLimitStore,
	throttle MemoryLimiter,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		job:           job,
		userSessions:  userSessions,
		adminSessions: adminSessions,
		emailCodes:    emailCodes,
		challenges:    challenges,
		rateLimits:    rateLimits,
		throttle:      throttle,
		interval:      time.Hour,
		logger:        logger,
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Scheduler) tick() {
	if _, err := s.job.Run(); err != nil {
		s.logger.Error("scheduled reconciliation", "error", err)
	}
	s.cleanup()
}

func (s *Scheduler) cleanup() {
	if _, err := s.userSessions.DeleteExpired(); err != nil {
		s.logger.Error("cleanup user sessions", "error", err)
	}
	if _, err := s.adminSessions.DeleteExpired(); err != nil {
		s.logger.Error("cleanup admin sessions", "error", err)
	}
	if _, err := s.emailCodes.DeleteExpired(); err != nil {
		s.logger.Error("cleanup email codes", "error", err)
	}
	if _, err := s.challenges.DeleteExpired(); err != nil {
		s.logger.Error("cleanup mfa challenges", "error", err)
	}
	if _, err := s.rateLimits.DeleteExpired(); err != nil {
		s.logger.Error("cleanup rate limits", "error", err)
	}
	if s.throttle != nil {
		s.throttle.Cleanup()
	}
}
