package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(dir, zap.NewNop())
	require.NoError(t, err)
	return store, dir
}

func TestNewStore_AbsentFile(t *testing.T) {
	store, _ := newTestStore(t)

	st := store.State()
	assert.Equal(t, StatusStopped, st.Status)
	assert.Equal(t, ModeGoal, st.Mode)
	require.Len(t, st.Affect, AffectSize)
	for _, v := range st.Affect {
		assert.InDelta(t, 0.2, v, 1e-9)
	}
}

func TestNewStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state.json"), []byte("{not json"), 0o644))

	store, err := NewStore(dir, zap.NewNop())
	require.NoError(t, err, "corruption must never be fatal")

	st := store.State()
	assert.Equal(t, StatusStopped, st.Status)
	require.Len(t, st.Affect, AffectSize)
}

func TestStore_SaveAndReload(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, store.SetGoal("organize downloads", ModeGoal))
	require.NoError(t, store.SetTask("open file manager"))
	require.NoError(t, store.SetActiveWindow("09:00", "17:00"))
	require.NoError(t, store.UpdateAfterAction("CLICK @ (0.50,0.50) (0.90)"))

	reloaded, err := NewStore(dir, zap.NewNop())
	require.NoError(t, err)

	st := reloaded.State()
	assert.Equal(t, "organize downloads", st.Goal)
	assert.Equal(t, "open file manager", st.Task)
	assert.Equal(t, "09:00", st.ActiveWindowStart)
	assert.Equal(t, "17:00", st.ActiveWindowStop)
	assert.Equal(t, "CLICK @ (0.50,0.50) (0.90)", st.LastAction)
	assert.Equal(t, StatusActive, st.Status)
	require.NotNil(t, st.LastActionTime)
}

func TestStore_MutatorsPersistSynchronously(t *testing.T) {
	store, dir := newTestStore(t)

	require.NoError(t, store.MarkSleeping())

	raw, err := os.ReadFile(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"SLEEPING"`)
}

func TestStore_Snapshot(t *testing.T) {
	store, dir := newTestStore(t)

	store.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	require.NoError(t, store.Snapshot())

	entries, err := os.ReadDir(filepath.Join(dir, "snapshots"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state-20250601T120000Z.json", entries[0].Name())
}

func TestStore_SetGoal_RejectsUnknownMode(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.SetGoal("wander", Mode("BOGUS")))

	st := store.State()
	assert.Equal(t, "wander", st.Goal)
	assert.Equal(t, ModeGoal, st.Mode, "unknown mode keeps the previous value")
}
