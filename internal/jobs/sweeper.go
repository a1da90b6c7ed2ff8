package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/chartwellhealth/provider-portal/internal/models"
	"github.com/chartwellhealth/provider-portal/internal/services"
	"github.com/chartwellhealth/provider-portal/pkg/logger"
)

const (
	defaultInvitationSpec = "@every 15m"
	defaultSessionSpec    = "@hourly"
)

// Sweeper runs background housekeeping: marking stale pending invitations
// expired and purging dead flow-session rows from the database cache.
type Sweeper struct {
	db          *gorm.DB
	invitations *services.InvitationService
	cron        *cron.Cron
	now         func() time.Time
	log         *zap.Logger

	invitationSchedule string
	sessionSchedule    string
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used for cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithInvitationSchedule overrides the cron specification for the expiry sweep.
func WithInvitationSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.invitationSchedule = spec
		}
	}
}

// WithSessionSchedule overrides the cron specification for cache cleanup.
func WithSessionSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.sessionSchedule = spec
		}
	}
}

// NewSweeper constructs a Sweeper. A nil invitation service skips the expiry
// sweep; a nil db skips cache cleanup.
func NewSweeper(db *gorm.DB, invitations *services.InvitationService, opts ...Option) *Sweeper {
	sweeper := &Sweeper{
		db:                 db,
		invitations:        invitations,
		now:                time.Now,
		log:                logger.WithModule("jobs"),
		invitationSchedule: defaultInvitationSpec,
		sessionSchedule:    defaultSessionSpec,
	}

	for _, opt := range opts {
		opt(sweeper)
	}

	if sweeper.cron == nil {
		sweeper.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return sweeper
}

// Start registers the jobs with the scheduler and launches it.
func (s *Sweeper) Start() error {
	if s.invitations != nil {
		if _, err := s.cron.AddFunc(s.invitationSchedule, func() {
			if count, err := s.invitations.ExpireStale(context.Background()); err != nil {
				s.log.Warn("invitation expiry sweep failed", zap.Error(err))
			} else if count > 0 {
				s.log.Info("invitations expired", zap.Int64("count", count))
			}
		}); err != nil {
			return err
		}
	}

	if s.db != nil {
		if _, err := s.cron.AddFunc(s.sessionSchedule, func() {
			if _, err := CleanupCacheEntries(context.Background(), s.db, s.now()); err != nil {
				s.log.Warn("cache cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any running jobs to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes all housekeeping routines sequentially. Used in tests and
// during graceful shutdown.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if s.invitations != nil {
		if _, err := s.invitations.ExpireStale(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if s.db != nil {
		if _, err := CleanupCacheEntries(ctx, s.db, s.now()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// CleanupCacheEntries removes expired flow-session rows from the database
// cache backend.
func CleanupCacheEntries(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("cleanup cache: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Where("expires_at > ? AND expires_at < ?", time.Time{}, now).
		Delete(&models.CacheEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup cache: %w", result.Error)
	}
	return result.RowsAffected, nil
}
