package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vote-escrow/internal/alerting"
	"vote-escrow/internal/amount"
	"vote-escrow/internal/config"
	"vote-escrow/internal/escrow"
	"vote-escrow/internal/scheduler"
	"vote-escrow/internal/storage"
)

// Ledger is the part of the escrow the keeper drives.
type Ledger interface {
	Checkpoint(ctx context.Context) (int, error)
	Withdrawable(ctx context.Context) ([]escrow.Position, error)
}

// Service runs the periodic checkpoint and withdrawal notices.
type Service struct {
	scheduler *scheduler.Scheduler
	ledger    Ledger
	notifier  alerting.Notifier
	logger    zerolog.Logger

	channels []string
	alertsOn bool
	cooldown time.Duration
	decimals int32
	symbol   string
	locker   storage.AdvisoryLocker
	lockKey  int64

	mu       sync.Mutex
	notified map[uint64]time.Time
}

// New constructs the keeper service. store may be nil or any backend; the
// advisory lock is used only when it supports one.
func New(cfg *config.Config, sched *scheduler.Scheduler, ledger Ledger, store any, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler: sched,
		ledger:    ledger,
		notifier:  notifier,
		logger:    logger.With().Str("component", "service").Logger(),
		channels:  cfg.Alerting.Channels,
		alertsOn:  cfg.Alerting.Enabled,
		cooldown:  cfg.Alerting.Cooldown,
		decimals:  cfg.Deposit.Decimals,
		symbol:    cfg.Deposit.Symbol,
		locker:    locker,
		lockKey:   cfg.Database.AdvisoryLockKey,
		notified:  make(map[uint64]time.Time),
	}
}

// Run begins the checkpoint loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick checkpoints the ledger once and sends due withdrawal notices.
func (s *Service) ProcessTick(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeTick(ctx, at)
}

func (s *Service) executeTick(ctx context.Context, at time.Time) error {
	n, err := s.ledger.Checkpoint(ctx)
	if err != nil {
		return fmt.Errorf("checkpoint ledger: %w", err)
	}
	s.logger.Info().Time("at", at).Int("points", n).Msg("checkpoint recorded")

	if !s.alertsOn || s.notifier == nil {
		return nil
	}

	positions, err := s.ledger.Withdrawable(ctx)
	if err != nil {
		return fmt.Errorf("list withdrawable positions: %w", err)
	}
	for _, p := range positions {
		if !s.due(p.ID, at) {
			continue
		}
		note := alerting.Notification{
			At:         at,
			PositionID: p.ID,
			Owner:      p.Owner.Hex(),
			Amount:     amount.ToDecimal(p.Amount, s.decimals),
			Symbol:     s.symbol,
			UnlockAt:   time.Unix(p.End, 0),
			Channels:   s.channels,
		}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Uint64("position_id", p.ID).Msg("failed to dispatch withdrawal notice")
			continue
		}
		s.markNotified(p.ID, at)
	}
	return nil
}

func (s *Service) due(id uint64, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.notified[id]
	return !ok || (s.cooldown > 0 && at.Sub(last) >= s.cooldown)
}

func (s *Service) markNotified(id uint64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notified[id] = at
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
