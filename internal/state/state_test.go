package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st := New(now)

	assert.Equal(t, ModeGoal, st.Mode)
	assert.Equal(t, StatusStopped, st.Status)
	assert.Equal(t, now, st.SessionStart)
	require.Len(t, st.Affect, AffectSize)
	for _, v := range st.Affect {
		assert.InDelta(t, 0.2, v, 1e-9)
	}
	assert.Nil(t, st.LastActionTime)
}

func TestDecayAffect(t *testing.T) {
	st := New(time.Now())

	st.DecayAffect(0.5)
	for _, v := range st.Affect {
		assert.InDelta(t, 0.1, v, 1e-9)
	}

	t.Run("never leaves unit interval", func(t *testing.T) {
		st := New(time.Now())
		for i := 0; i < 100; i++ {
			st.DecayAffect(0.9)
		}
		for _, v := range st.Affect {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	})
}

func TestStimulateAffect(t *testing.T) {
	st := New(time.Now())

	for i := 0; i < 1000; i++ {
		st.StimulateAffect(0.02)
	}
	for _, v := range st.Affect {
		assert.LessOrEqual(t, v, 1.0)
	}

	st.StimulateAffect(-5)
	for _, v := range st.Affect {
		assert.GreaterOrEqual(t, v, 0.0)
	}
}

func TestUpdateAfterAction(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("records action and forces active", func(t *testing.T) {
		st := New(now)
		st.Status = StatusSleeping

		st.UpdateAfterAction("CLICK @ (0.50,0.50) (0.90)", now)

		assert.Equal(t, "CLICK @ (0.50,0.50) (0.90)", st.LastAction)
		require.NotNil(t, st.LastActionTime)
		assert.Equal(t, now, *st.LastActionTime)
		assert.Equal(t, StatusActive, st.Status)
	})

	t.Run("seeds monologue only when empty", func(t *testing.T) {
		st := New(now)
		st.UpdateAfterAction("first", now)
		assert.NotEmpty(t, st.MonologueSummary)
		seeded := st.MonologueSummary

		st.UpdateAfterAction("second", now.Add(time.Minute))
		assert.Equal(t, seeded, st.MonologueSummary)
	})
}

func TestSinceLastAction(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st := New(now)

	assert.Nil(t, st.SinceLastAction(now))

	st.UpdateAfterAction("WAIT (0.50)", now)

	elapsed := st.SinceLastAction(now.Add(90 * time.Second))
	require.NotNil(t, elapsed)
	assert.InDelta(t, 90.0, *elapsed, 1e-9)

	t.Run("floors negative clock skew at zero", func(t *testing.T) {
		elapsed := st.SinceLastAction(now.Add(-time.Minute))
		require.NotNil(t, elapsed)
		assert.Equal(t, 0.0, *elapsed)
	})
}

func TestInActiveWindow(t *testing.T) {
	st := New(time.Now())
	at := func(hour, minute int) time.Time {
		return time.Date(2025, 6, 1, hour, minute, 0, 0, time.Local)
	}

	t.Run("open when bounds unset", func(t *testing.T) {
		assert.True(t, st.InActiveWindow(at(3, 0)))
	})

	t.Run("inclusive bounds", func(t *testing.T) {
		st.ActiveWindowStart = "09:00"
		st.ActiveWindowStop = "17:00"

		assert.True(t, st.InActiveWindow(at(9, 0)))
		assert.True(t, st.InActiveWindow(at(12, 30)))
		assert.True(t, st.InActiveWindow(at(17, 0)))
		assert.False(t, st.InActiveWindow(at(8, 59)))
		assert.False(t, st.InActiveWindow(at(20, 0)))
	})

	t.Run("open when a bound is unparseable", func(t *testing.T) {
		st.ActiveWindowStart = "not-a-time"
		st.ActiveWindowStop = "17:00"
		assert.True(t, st.InActiveWindow(at(20, 0)))
	})
}

func TestNormalize_RepairsShape(t *testing.T) {
	now := time.Now()
	st := &AgentState{
		Mode:   "BOGUS",
		Status: "???",
		Affect: []float64{2.0, -1.0, 0.5},
	}
	st.Normalize(now)

	assert.Equal(t, ModeGoal, st.Mode)
	assert.Equal(t, StatusStopped, st.Status)
	require.Len(t, st.Affect, AffectSize)
	assert.Equal(t, 1.0, st.Affect[0])
	assert.Equal(t, 0.0, st.Affect[1])
	assert.Equal(t, 0.5, st.Affect[2])
	for _, v := range st.Affect[3:] {
		assert.InDelta(t, 0.2, v, 1e-9)
	}
	assert.False(t, st.SessionStart.IsZero())
}

func TestClone_IsIndependent(t *testing.T) {
	st := New(time.Now())
	st.Goal = "original"

	clone := st.Clone()
	clone.Goal = "changed"
	clone.Affect[0] = 0.9

	assert.Equal(t, "original", st.Goal)
	assert.InDelta(t, 0.2, st.Affect[0], 1e-9)
}
