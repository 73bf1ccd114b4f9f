package cmd

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/chxlky/boardsync/config"
	"github.com/chxlky/boardsync/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type intakeRecorder struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (r *intakeRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.bodies = append(r.bodies, body)
	r.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestApplyForwardsEventFile(t *testing.T) {
	rec := &intakeRecorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.toml", "[log]\nlevel = \"error\"\n\n[sync]\nintake_url = \""+srv.URL+"/api/sync/apply\"\n")
	evPath := writeFile(t, dir, "event.json",
		`{"type":"card:create","timestamp":"2024-01-01T00:00:00Z","data":{"board_id":1,"title":"From CLI"}}`)

	out, err := runRoot(t, "--config", cfgPath, "apply", evPath)
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)

	require.Len(t, rec.bodies, 1)
	ev, err := events.Decode(rec.bodies[0])
	require.NoError(t, err)
	assert.Equal(t, events.CardCreate, ev.Type)
}

func TestApplyRejectsMalformedEventLocally(t *testing.T) {
	rec := &intakeRecorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.toml", "[log]\nlevel = \"error\"\n\n[sync]\nintake_url = \""+srv.URL+"\"\n")
	evPath := writeFile(t, dir, "event.json", `{"data":{}}`)

	_, err := runRoot(t, "--config", cfgPath, "apply", evPath)
	assert.ErrorIs(t, err, events.ErrMalformed)
	assert.Empty(t, rec.bodies)
}

func TestSyncRequiresRelaySettings(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.toml", "[log]\nlevel = \"error\"\n\n[database]\npath = \""+filepath.Join(dir, "kanban.db")+"\"\n")

	_, err := runRoot(t, "--config", cfgPath, "sync", "--once")
	assert.ErrorIs(t, err, config.ErrRelayNotConfigured)
}
