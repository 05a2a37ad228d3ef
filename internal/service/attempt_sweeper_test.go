package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-mastery-api/internal/dto"
	"github.com/noah-isme/gema-mastery-api/internal/models"
)

func TestAttemptSweeperAbandonsStaleAttemptsUntilCancelled(t *testing.T) {
	env := newServiceEnv(t)
	catalog := env.seedCatalog(t, 1)
	quiz := env.seedQuiz(t, catalog.chapter.ID, nil, models.TestPurposeFormative)
	student := studentActor(20)

	started, err := env.attempts.Start(context.Background(), student, dto.AttemptStartRequest{TestID: quiz.ID})
	require.NoError(t, err)
	env.clock.Advance(3 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunAttemptSweeper(ctx, env.attempts, 10*time.Millisecond, time.Hour, zerolog.Nop())
		close(done)
	}()

	require.Eventually(t, func() bool {
		view, err := env.attempts.Get(context.Background(), student, started.Attempt.ID)
		return err == nil && view.Status == models.AttemptStatusAbandoned
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}
}
