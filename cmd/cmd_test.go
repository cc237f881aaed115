package cmd

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagerun/internal/cli"
	"stagerun/internal/controller"
	"stagerun/internal/report"
	"stagerun/internal/storage"
)

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestRunCommandExitCodes(t *testing.T) {
	isolateHome(t)

	code, _, stderr := execute(t, "run")
	assert.Equal(t, cli.ExitConfig, code)
	assert.Contains(t, stderr, "accepts 1 arg")

	code, _, _ = execute(t, "run", filepath.Join(t.TempDir(), "missing.yaml"), "--history", "none", "--quiet")
	assert.Equal(t, cli.ExitConfig, code)

	code, _, _ = execute(t, "--log-level", "shouty", "run", "x.yaml")
	assert.Equal(t, cli.ExitConfig, code)
}

func TestRunCommandWritesHistory(t *testing.T) {
	home := isolateHome(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`base_url: `+srv.URL+`
pacing: 10ms
tick_interval: 20ms
stages:
  - duration: 0s
    target: 1
  - duration: 200ms
    target: 1
`), 0o644))
	out := filepath.Join(t.TempDir(), "report.json")

	code, stdout, _ := execute(t, "run", cfg, "--quiet", "--out", out)
	assert.Equal(t, cli.ExitOK, code)
	assert.Empty(t, stdout)

	doc, err := report.Read(out)
	require.NoError(t, err)

	code, stdout, _ = execute(t, "history", "list", "--db", filepath.Join(home, ".stagerun", "history.db"))
	assert.Equal(t, cli.ExitOK, code)
	assert.Contains(t, stdout, doc.RunID)
}

func TestHistoryCommands(t *testing.T) {
	isolateHome(t)
	db := filepath.Join(t.TempDir(), "history.db")

	code, stdout, _ := execute(t, "history", "list", "--db", db)
	assert.Equal(t, cli.ExitOK, code)
	assert.Contains(t, stdout, "no runs recorded")

	store, err := storage.Open(db)
	require.NoError(t, err)
	require.NoError(t, store.Save(storage.NewHistoryItem("users.yaml", report.Document{
		RunID:     "0b7c1c1e-run",
		State:     controller.Aborted,
		StartedAt: time.Now(),
		Requests:  12,
		Violated:  []string{"error_rate < 0.01"},
	})))
	require.NoError(t, store.Close())

	code, stdout, _ = execute(t, "history", "list", "--db", db)
	assert.Equal(t, cli.ExitOK, code)
	assert.Contains(t, stdout, "0b7c1c1e-run")
	assert.Contains(t, stdout, "ABORTED")
	assert.Contains(t, stdout, "FAIL")

	code, stdout, _ = execute(t, "history", "show", "0b7c1c1e-run", "--db", db)
	assert.Equal(t, cli.ExitOK, code)
	assert.Contains(t, stdout, "users.yaml")
	assert.Contains(t, stdout, "LOAD TEST RESULTS")

	code, stdout, _ = execute(t, "history", "show", "0b7c1c1e-run", "--db", db, "--json")
	assert.Equal(t, cli.ExitOK, code)
	assert.Contains(t, stdout, `"run_id": "0b7c1c1e-run"`)

	code, _, stderr := execute(t, "history", "show", "nope", "--db", db)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "run not found")
}

func TestSettingsFile(t *testing.T) {
	isolateHome(t)
	settings := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(settings, []byte("log_level: bogus\n"), 0o644))

	code, _, stderr := execute(t, "--config", settings, "history", "list", "--db", filepath.Join(t.TempDir(), "h.db"))
	assert.Equal(t, cli.ExitConfig, code)
	assert.Contains(t, stderr, "invalid log level")

	code, _, _ = execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "history", "list")
	assert.Equal(t, cli.ExitConfig, code)
}

func TestBindFlags(t *testing.T) {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.String("metrics-addr", "", "")
	fs.Bool("quiet", false, "")
	require.NoError(t, fs.Parse([]string{"--metrics-addr", ":9090", "--quiet"}))

	v := viper.New()
	require.NoError(t, bindFlags(v, fs, "metrics-addr", "quiet"))
	assert.Equal(t, ":9090", v.GetString("metrics_addr"))
	assert.True(t, v.GetBool("quiet"))

	err := bindFlags(v, fs, "quiet", "outt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--outt")
}

func TestRunFlagsReachSettings(t *testing.T) {
	root, a := newRootCmd(&bytes.Buffer{}, &bytes.Buffer{})
	runCmd, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	require.NoError(t, runCmd.Flags().Parse([]string{"--out", "r.json", "--history", "none"}))

	assert.Equal(t, "r.json", a.v.GetString("out"))
	assert.Equal(t, "none", a.v.GetString("history"))
	assert.Equal(t, "info", a.v.GetString("log_level"))
}
