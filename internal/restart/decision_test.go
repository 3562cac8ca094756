package restart

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/domain/entity"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/domain/repo/history"
)

func TestShouldRestart(t *testing.T) {
	now := time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)
	threshold := 2 * time.Minute

	type testCase struct {
		name        string
		latestEvent time.Time
		lastRestart time.Time
		expectation bool
	}

	cases := []testCase{
		{
			name:        "No known event time",
			latestEvent: time.Time{},
			expectation: false,
		},
		{
			name:        "Event at now",
			latestEvent: now,
			expectation: true,
		},
		{
			name:        "Event within threshold",
			latestEvent: now.Add(-90 * time.Second),
			expectation: true,
		},
		{
			name:        "Event older than threshold",
			latestEvent: now.Add(-3 * time.Minute),
			expectation: false,
		},
		{
			name:        "Stale event with no restart history",
			latestEvent: now.Add(-time.Hour),
			expectation: false,
		},
		{
			name:        "Already restarted after the event",
			latestEvent: now.Add(-time.Minute),
			lastRestart: now.Add(-30 * time.Second),
			expectation: false,
		},
		{
			name:        "Restart recorded at exactly the event instant",
			latestEvent: now.Add(-time.Minute),
			lastRestart: now.Add(-time.Minute),
			expectation: false,
		},
		{
			name:        "Restart recorded before the event",
			latestEvent: now.Add(-time.Minute),
			lastRestart: now.Add(-10 * time.Minute),
			expectation: true,
		},
	}

	for i := range cases {
		c := cases[i]

		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			assert := assert.New(t)

			ctx := context.Background()
			vm := entity.NewVM(`D:\vms\win10\win10.vmx`)

			hist := history.NewMemoryRepo()
			if !c.lastRestart.IsZero() {
				err := hist.MarkRestarted(ctx, vm.Name, c.lastRestart)
				assert.NoError(err)
			}

			clock := clockwork.NewFakeClockAt(now)

			decision := NewDecision(hist, clock, threshold)

			should, err := decision.ShouldRestart(ctx, vm, c.latestEvent)

			assert.NoError(err)
			assert.Equal(c.expectation, should)
		})
	}
}

func TestShouldRestartIdempotence(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	ctx := context.Background()
	vm := entity.NewVM(`D:\vms\win10\win10.vmx`)

	now := time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)

	hist := history.NewMemoryRepo()
	decision := NewDecision(hist, clock, 2*time.Minute)

	// Fresh event triggers a restart.
	should, err := decision.ShouldRestart(ctx, vm, now)
	require.NoError(err)
	require.True(should)

	// Once the restart is recorded, the same event occurrence is handled.
	err = hist.MarkRestarted(ctx, vm.Name, now)
	require.NoError(err)

	should, err = decision.ShouldRestart(ctx, vm, now)
	assert.NoError(err)
	assert.False(should)
}
