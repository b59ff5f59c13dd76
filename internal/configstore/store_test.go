package configstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/fbs-kiosk/internal/bus"
	"github.com/ChuLiYu/fbs-kiosk/pkg/types"
)

func TestSaveAndLoad(t *testing.T) {
	s := New(t.TempDir())

	in := types.Endpoint{
		Username: "sb_user",
		Password: "secret",
		Endpoint: "https://fbs.example.dk/sip2",
		Agency:   "DK-775100",
		Location: "hb",
	}
	require.NoError(t, s.Save("config", "fbs", in))

	var out types.Endpoint
	require.NoError(t, s.LoadInto("config", "fbs", &out))
	assert.Equal(t, in, out)

	// no temp file left behind
	_, err := os.Stat(filepath.Join(s.Dir(), "config", "fbs.json.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestSaveOverwrites(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Save("config", "ui", map[string]any{"lang": "da"}))
	require.NoError(t, s.Save("config", "ui", map[string]any{"lang": "en"}))

	raw, err := s.Load("config", "ui")
	require.NoError(t, err)
	assert.JSONEq(t, `{"lang":"en"}`, string(raw))
}

func TestLoadMissing(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Load("config", "fbs")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "fbs.json"), []byte("{oops"), 0600))

	_, err := New(dir).Load("config", "fbs")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestInvalidKeys(t *testing.T) {
	s := New(t.TempDir())
	for _, key := range [][2]string{
		{"", "fbs"},
		{"config", ""},
		{"..", "fbs"},
		{"config", "../fbs"},
		{"config", `a\b`},
		{"con/fig", "fbs"},
	} {
		assert.ErrorIs(t, s.Save(key[0], key[1], 1), ErrInvalidKey, "%q", key)
		_, err := s.Load(key[0], key[1])
		assert.ErrorIs(t, err, ErrInvalidKey, "%q", key)
	}
}

func TestRemoveAndList(t *testing.T) {
	s := New(t.TempDir())

	names, err := s.List("config")
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, s.Save("config", "ui", 1))
	require.NoError(t, s.Save("config", "fbs", 2))
	require.NoError(t, s.Save("other", "x", 3))

	names, err = s.List("config")
	require.NoError(t, err)
	assert.Equal(t, []string{"fbs", "ui"}, names)

	require.NoError(t, s.Remove("config", "ui"))
	assert.ErrorIs(t, s.Remove("config", "ui"), ErrNotFound)

	names, err = s.List("config")
	require.NoError(t, err)
	assert.Equal(t, []string{"fbs"}, names)
}

func busRequest(t *testing.T, b bus.Bus, event string, payload map[string]any) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return bus.Request(ctx, b, event, payload)
}

func TestServeOverBus(t *testing.T) {
	b := bus.New()
	s := New(t.TempDir())
	stop := s.Serve(b)

	_, err := busRequest(t, b, EventSave, map[string]any{
		"type": "config",
		"name": "fbs",
		"data": map[string]any{"endpoint": "https://fbs.example.dk/sip2", "agency": "DK-775100"},
	})
	require.NoError(t, err)

	got, err := busRequest(t, b, EventLoad, map[string]any{"type": "config", "name": "fbs"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"endpoint": "https://fbs.example.dk/sip2", "agency": "DK-775100"}, got)

	got, err = busRequest(t, b, EventList, map[string]any{"type": "config"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fbs"}, got)

	_, err = busRequest(t, b, EventRemove, map[string]any{"type": "config", "name": "fbs"})
	require.NoError(t, err)

	_, err = busRequest(t, b, EventLoad, map[string]any{"type": "config", "name": "fbs"})
	var remote *bus.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, map[string]any{"error": "configstore: not found: config/fbs"}, remote.Payload)

	stop()
	assert.Equal(t, 0, b.Subscribers())
}

func TestServeSaveWithoutData(t *testing.T) {
	b := bus.New()
	defer New(t.TempDir()).Serve(b)()

	_, err := busRequest(t, b, EventSave, map[string]any{"type": "config", "name": "fbs"})
	var remote *bus.RemoteError
	require.ErrorAs(t, err, &remote)
}
