package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically expires funded escrows whose deadline passed without
// a work submission, refunding the payer.
type Timer struct {
	service  *Service
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new escrow expiry timer.
func NewTimer(service *Service, store Store, logger *slog.Logger) *Timer {
	return &Timer{
		service:  service,
		store:    store,
		interval: 30 * time.Second,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the expiry loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeExpire(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeExpire(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in escrow timer", "panic", fmt.Sprint(r))
		}
	}()
	t.expireOverdue(ctx)
}

func (t *Timer) expireOverdue(ctx context.Context) {
	expired, err := t.store.ListExpired(ctx, time.Now(), 100)
	if err != nil {
		t.logger.Warn("failed to list expired escrows", "error", err)
		return
	}

	for _, e := range expired {
		err := t.service.Expire(ctx, e.ID)
		if err != nil {
			// Submitted work keeps the escrow alive past the deadline;
			// everything else is worth a warning.
			if errors.Is(err, ErrWorkAlreadySubmitted) || errors.Is(err, ErrInvalidStatus) {
				continue
			}
			t.logger.Warn("failed to expire escrow", "escrow", e.ID, "error", err)
			continue
		}
		t.logger.Info("expired escrow", "escrow", e.ID, "payer", e.Payer, "amount", e.Amount)
	}
}
