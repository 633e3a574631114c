package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

func TestNewStore_CreatesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewStore(dir, "BTC", newTestLogger())
	require.NoError(t, err)

	st := store.Get()
	assert.Equal(t, "BTC", st.CurrentCoin)
	assert.Empty(t, st.PositionCoin)
	assert.Nil(t, st.PositionOpenTime)

	_, err = os.Stat(filepath.Join(dir, "bot_state.json"))
	assert.NoError(t, err, "state file is created eagerly")
}

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewStore(dir, "BTC", newTestLogger())
	require.NoError(t, err)

	opened := time.Now().Truncate(time.Second)
	require.NoError(t, store.SetCoin("ETH"))
	require.NoError(t, store.MarkPositionOpen("ETH", opened))
	require.NoError(t, store.MarkRotation(opened.Add(-time.Hour)))

	// A new store on the same directory sees the persisted state.
	reopened, err := NewStore(dir, "BTC", newTestLogger())
	require.NoError(t, err)

	st := reopened.Get()
	assert.Equal(t, "ETH", st.CurrentCoin)
	assert.Equal(t, "ETH", st.PositionCoin)
	require.NotNil(t, st.PositionOpenTime)
	assert.True(t, st.PositionOpenTime.Equal(opened))
	require.NotNil(t, st.LastRotationTime)

	require.NoError(t, reopened.MarkPositionClosed())
	st = reopened.Get()
	assert.Empty(t, st.PositionCoin)
	assert.Nil(t, st.PositionOpenTime)
}

func TestNewStore_CorruptFileFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bot_state.json"), []byte("{{{"), 0o644))

	store, err := NewStore(dir, "BTC", newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, "BTC", store.Get().CurrentCoin)
}

func TestNewStore_EmptyCoinGetsDefault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bot_state.json"), []byte(`{"current_coin":""}`), 0o644))

	store, err := NewStore(dir, "SOL", newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, "SOL", store.Get().CurrentCoin)
}
