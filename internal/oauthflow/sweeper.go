package oauthflow

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"integration-gateway/internal/common/errors"
	"integration-gateway/internal/common/logging"
	"integration-gateway/internal/credentials"
)

// SweepLookahead is how far ahead the proactive sweep looks for expiring
// tokens. Wider than RefreshBuffer so tokens are usually refreshed in the
// background before any request has to wait on the token endpoint.
const SweepLookahead = 15 * time.Minute

// Sweeper proactively refreshes expiring credentials on a schedule so
// dashboard requests rarely pay the refresh latency themselves.
type Sweeper struct {
	controller *Controller
	creds      *credentials.Store
	cron       *cron.Cron
	logger     logging.Logger
}

// NewSweeper creates a sweeper over the controller's credential store.
func NewSweeper(controller *Controller, creds *credentials.Store, logger logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Sweeper{
		controller: controller,
		creds:      creds,
		cron:       cron.New(),
		logger:     logger,
	}
}

// Start schedules the sweep every five minutes. The first sweep runs on the
// schedule, not at startup, so boot stays fast.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc("*/5 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		s.Sweep(ctx)
	})
	if err != nil {
		return errors.InternalError("failed to schedule token sweep", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep refreshes every connected credential expiring inside the lookahead.
// Failures are logged per credential and never abort the sweep; a credential
// needing reauthorization is already marked by the refresh path.
func (s *Sweeper) Sweep(ctx context.Context) {
	creds, err := s.creds.ListConnected(ctx, "")
	if err != nil {
		s.logger.Error("Token sweep failed to list credentials", err)
		return
	}

	refreshed := 0
	for _, cred := range creds {
		if !cred.ExpiresWithin(SweepLookahead) {
			continue
		}
		if cred.RefreshToken == "" {
			continue
		}

		if _, err := s.controller.ForceRefresh(ctx, cred.Platform, cred.Scope); err != nil {
			s.logger.Warn("Proactive refresh failed",
				logging.Field{Key: "platform", Value: cred.Platform},
				logging.Field{Key: "scope", Value: cred.Scope},
				logging.Field{Key: "error", Value: err.Error()},
			)
			continue
		}
		refreshed++
	}

	if refreshed > 0 {
		s.logger.Info("Token sweep completed",
			logging.Field{Key: "refreshed", Value: refreshed},
			logging.Field{Key: "scanned", Value: len(creds)},
		)
	}
}
