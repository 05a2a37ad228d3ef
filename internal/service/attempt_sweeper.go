package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-mastery-api/internal/dto"
)

// RunAttemptSweeper abandons stale in-progress attempts every interval until ctx is cancelled.
func RunAttemptSweeper(ctx context.Context, attempts AttemptService, interval, maxAge time.Duration, logger zerolog.Logger) {
	if interval <= 0 || maxAge <= 0 {
		return
	}

	logger = logger.With().Str("component", "attempt_sweeper").Logger()
	minutes := int(maxAge / time.Minute)
	if minutes < 1 {
		minutes = 1
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			result, err := attempts.AbandonExpired(ctx, dto.AttemptSweepRequest{OlderThanMinutes: minutes})
			if err != nil {
				logger.Warn().Err(err).Msg("attempt sweep failed")
				continue
			}
			logger.Debug().Int("abandoned", result.Abandoned).Msg("attempt sweep finished")
		case <-ctx.Done():
			return
		}
	}
}
