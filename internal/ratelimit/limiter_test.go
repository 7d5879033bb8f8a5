package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastConfig keeps test wait times tiny.
func fastConfig(burst int, window time.Duration) map[string]Config {
	return map[string]Config{
		"crm": {BurstLimit: burst, Window: window, MinInterval: 0},
	}
}

func TestAdmitWithinBudget(t *testing.T) {
	limiter := NewLimiter(fastConfig(3, time.Second), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Admit(ctx, "crm"))
	}

	used, limit, _ := limiter.Snapshot("crm")
	assert.Equal(t, 3, used)
	assert.Equal(t, 3, limit)
}

func TestAdmitBlocksWhenWindowFull(t *testing.T) {
	limiter := NewLimiter(fastConfig(2, 150*time.Millisecond), nil)
	ctx := context.Background()

	require.NoError(t, limiter.Admit(ctx, "crm"))
	require.NoError(t, limiter.Admit(ctx, "crm"))

	// Third admission must wait for the window to slide
	start := time.Now()
	require.NoError(t, limiter.Admit(ctx, "crm"))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestAdmitHonorsContextCancellation(t *testing.T) {
	limiter := NewLimiter(fastConfig(1, 10*time.Second), nil)

	require.NoError(t, limiter.Admit(context.Background(), "crm"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := limiter.Admit(ctx, "crm")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPenalize(t *testing.T) {
	limiter := NewLimiter(fastConfig(10, time.Second), nil)
	ctx := context.Background()

	limiter.Penalize("crm", 120*time.Millisecond)

	start := time.Now()
	require.NoError(t, limiter.Admit(ctx, "crm"))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestPenalizeKeepsLongerPenalty(t *testing.T) {
	limiter := NewLimiter(fastConfig(10, time.Second), nil)

	limiter.Penalize("crm", 200*time.Millisecond)
	limiter.Penalize("crm", 10*time.Millisecond)

	_, _, until := limiter.Snapshot("crm")
	assert.GreaterOrEqual(t, time.Until(until), 150*time.Millisecond)
}

func TestSyncRemoteShrinksLocalBudget(t *testing.T) {
	limiter := NewLimiter(fastConfig(10, time.Second), nil)
	ctx := context.Background()

	require.NoError(t, limiter.Admit(ctx, "crm"))

	// Platform says only 2 calls remain; local view said 9
	limiter.SyncRemote("crm", 2, time.Time{})

	used, limit, _ := limiter.Snapshot("crm")
	assert.Equal(t, limit-2, used)
}

func TestSyncRemoteExhaustedBlocksUntilReset(t *testing.T) {
	limiter := NewLimiter(fastConfig(10, time.Second), nil)

	reset := time.Now().Add(150 * time.Millisecond)
	limiter.SyncRemote("crm", 0, reset)

	start := time.Now()
	require.NoError(t, limiter.Admit(context.Background(), "crm"))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestSyncRemoteNeverExpandsBudget(t *testing.T) {
	limiter := NewLimiter(fastConfig(3, time.Second), nil)
	ctx := context.Background()

	require.NoError(t, limiter.Admit(ctx, "crm"))
	require.NoError(t, limiter.Admit(ctx, "crm"))

	// Remote reporting more headroom than local must not clear local stamps
	limiter.SyncRemote("crm", 100, time.Time{})

	used, _, _ := limiter.Snapshot("crm")
	assert.Equal(t, 2, used)
}

func TestMinIntervalSpacing(t *testing.T) {
	limiter := NewLimiter(map[string]Config{
		"crm": {BurstLimit: 10, Window: time.Second, MinInterval: 50 * time.Millisecond},
	}, nil)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, limiter.Admit(ctx, "crm"))
	require.NoError(t, limiter.Admit(ctx, "crm"))
	require.NoError(t, limiter.Admit(ctx, "crm"))

	// Three spaced admissions need at least two full intervals
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestConcurrentAdmissionNeverExceedsBurst(t *testing.T) {
	limiter := NewLimiter(fastConfig(5, 200*time.Millisecond), nil)

	var admitted int32
	var wg sync.WaitGroup

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Admit(ctx, "crm"); err == nil {
				atomic.AddInt32(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	// Within one window at most the burst budget gets through
	assert.LessOrEqual(t, atomic.LoadInt32(&admitted), int32(5))
}

func TestUnknownKeyGetsDefaults(t *testing.T) {
	limiter := NewLimiter(nil, nil)

	require.NoError(t, limiter.Admit(context.Background(), "surprise"))
	used, limit, _ := limiter.Snapshot("surprise")
	assert.Equal(t, 1, used)
	assert.Equal(t, DefaultConfig().BurstLimit, limit)
}
