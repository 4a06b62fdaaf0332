package cli

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/Aayu095/Job4Meal/internal/config"
	"github.com/Aayu095/Job4Meal/internal/store"
	"github.com/Aayu095/Job4Meal/pkg/rabbitmq"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const demoFixture = "../seed/testdata/demo.yaml"

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "job4meal", cmd.Use)
	assert.Contains(t, cmd.Long, "meal credits")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"serve", "seed", "report", "reconcile"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config-dir")
	require.NotNil(t, configFlag)
	assert.Equal(t, ".", configFlag.DefValue)
}

func TestSeedCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	seedCmd, _, err := cmd.Find([]string{"seed"})
	require.NoError(t, err)

	fileFlag := seedCmd.Flags().Lookup("file")
	require.NotNil(t, fileFlag)
	assert.Equal(t, "f", fileFlag.Shorthand)
	assert.Equal(t, "", fileFlag.DefValue)
}

func TestInvalidFormatRejected(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--format", "yaml", "report"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

// useSQLite points every command at a fresh database file.
func useSQLite(t *testing.T, format string) (string, *RootOptions) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ledger.db")
	t.Setenv("LEDGER_STORE", "sqlite")
	t.Setenv("SQLITE_PATH", dbPath)
	t.Setenv("DATABASE_URL", "")
	return dbPath, &RootOptions{Format: format, ConfigDir: dir}
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestSeedRequiresFile(t *testing.T) {
	_, opts := useSQLite(t, "text")

	_, err := run(t, NewSeedCommand(opts))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file")
}

func TestSeedMissingFixture(t *testing.T) {
	_, opts := useSQLite(t, "text")

	_, err := run(t, NewSeedCommand(opts), "--file", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSeedReportReconcile(t *testing.T) {
	_, opts := useSQLite(t, "text")

	out, err := run(t, NewSeedCommand(opts), "--file", demoFixture)
	require.NoError(t, err)
	assert.Contains(t, out, "Seeded 2 organizations, 3 workers, 6 tasks, 3 redemptions")

	out, err = run(t, NewReportCommand(opts))
	require.NoError(t, err)
	assert.Contains(t, out, "Tasks:")
	assert.Contains(t, out, "Outstanding credits:")

	out, err = run(t, NewReconcileCommand(opts))
	require.NoError(t, err)
	assert.Contains(t, out, "3 wallets checked, 0 drifted")
}

func TestReportJSON(t *testing.T) {
	_, opts := useSQLite(t, "json")

	_, err := run(t, NewSeedCommand(opts), "--file", demoFixture)
	require.NoError(t, err)

	out, err := run(t, NewReportCommand(opts))
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			TotalUsers         int   `json:"total_users"`
			TotalOrganizations int   `json:"total_organizations"`
			TotalTasks         int   `json:"total_tasks"`
			OutstandingCredits int64 `json:"outstanding_credits"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, resp.Data.TotalUsers)
	assert.Equal(t, 2, resp.Data.TotalOrganizations)
	assert.Equal(t, 6, resp.Data.TotalTasks)
	assert.Equal(t, int64(3), resp.Data.OutstandingCredits)
}

func TestReconcileReportsDrift(t *testing.T) {
	dbPath, opts := useSQLite(t, "json")

	_, err := run(t, NewSeedCommand(opts), "--file", demoFixture)
	require.NoError(t, err)

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE workers SET meal_credits = meal_credits + 5 WHERE id = ?`, "worker-asha")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	out, err := run(t, NewReconcileCommand(opts))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "drift", resp.Status)
}

func TestServeRequiresJWTSecret(t *testing.T) {
	_, opts := useSQLite(t, "text")
	t.Setenv("JWT_SECRET", "")

	_, err := run(t, NewServeCommand(opts))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestOpenLedgerUsesGivenConfig(t *testing.T) {
	// The environment points at sqlite; the passed config must win.
	useSQLite(t, "text")

	l, err := openLedger(context.Background(), config.Config{LedgerStore: store.BackendMemory, TxMaxAttempts: 2})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, store.BackendMemory, l.cfg.LedgerStore)
	_, isMemory := l.store.(*store.MemoryStore)
	assert.True(t, isMemory)
}

func TestOpenLedgerRejectsUnknownBackend(t *testing.T) {
	_, err := openLedger(context.Background(), config.Config{LedgerStore: "cassandra"})
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestLoopbackPublisherRoutesByKey(t *testing.T) {
	ctx := context.Background()
	var received []string
	publisher := newLoopbackPublisher(map[string]rabbitmq.Handler{
		"ledger.task.posted": func(body []byte) bool {
			received = append(received, string(body))
			return true
		},
		"ledger.task.claimed": func([]byte) bool { return false },
	})

	require.NoError(t, publisher.PublishRaw(ctx, "ex", "ledger.task.posted", "m1", []byte("a")))
	require.NoError(t, publisher.PublishRaw(ctx, "ex", "ledger.worker.unknown", "m2", []byte("b")))
	require.Error(t, publisher.PublishRaw(ctx, "ex", "ledger.task.claimed", "m3", []byte("c")))
	assert.Equal(t, []string{"a"}, received)
}
