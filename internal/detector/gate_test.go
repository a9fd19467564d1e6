package detector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrequencyGate(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("allows when no prior notification exists", func(t *testing.T) {
		states, _ := setupTestStates(t)
		gate := NewFrequencyGate(states, 5*time.Minute)

		assert.True(t, gate.ShouldNotify(ctx, "bitcoin"))
	})

	t.Run("suppresses within the cooldown window", func(t *testing.T) {
		states, _ := setupTestStates(t)
		gate := NewFrequencyGate(states, 5*time.Minute)
		gate.now = func() time.Time { return base.Add(3 * time.Minute) }

		require.NoError(t, gate.RecordNotified(ctx, "bitcoin", base))

		assert.False(t, gate.ShouldNotify(ctx, "bitcoin"))
	})

	t.Run("allows once the cooldown has elapsed", func(t *testing.T) {
		states, _ := setupTestStates(t)
		gate := NewFrequencyGate(states, 5*time.Minute)
		gate.now = func() time.Time { return base.Add(5 * time.Minute) }

		require.NoError(t, gate.RecordNotified(ctx, "bitcoin", base))

		assert.True(t, gate.ShouldNotify(ctx, "bitcoin"))
	})

	t.Run("cooldown applies per asset", func(t *testing.T) {
		states, _ := setupTestStates(t)
		gate := NewFrequencyGate(states, 5*time.Minute)
		gate.now = func() time.Time { return base.Add(time.Minute) }

		require.NoError(t, gate.RecordNotified(ctx, "bitcoin", base))

		assert.False(t, gate.ShouldNotify(ctx, "bitcoin"))
		assert.True(t, gate.ShouldNotify(ctx, "ethereum"))
	})

	t.Run("fails open on storage read failure", func(t *testing.T) {
		states, mr := setupTestStates(t)
		gate := NewFrequencyGate(states, 5*time.Minute)

		require.NoError(t, gate.RecordNotified(ctx, "bitcoin", base))
		mr.Close()

		assert.True(t, gate.ShouldNotify(ctx, "bitcoin"))
	})

	t.Run("check path records nothing", func(t *testing.T) {
		states, _ := setupTestStates(t)
		gate := NewFrequencyGate(states, 5*time.Minute)

		assert.True(t, gate.ShouldNotify(ctx, "bitcoin"))

		lastNotified, err := states.LastNotifiedAt(ctx, "bitcoin")
		require.NoError(t, err)
		assert.True(t, lastNotified.IsZero())
	})
}
