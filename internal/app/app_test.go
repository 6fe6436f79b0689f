package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vote-escrow/internal/config"
	"vote-escrow/internal/epoch"
	"vote-escrow/internal/escrow"
)

const (
	alice = "0x00000000000000000000000000000000000000a1"
	bob   = "0x00000000000000000000000000000000000000b2"
)

func newTestApp(t *testing.T) (*App, *bytes.Buffer, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "vecore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: sqlite
  path: `+filepath.Join(dir, "vecore.db")+`
export:
  max_data_points: 24
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	a := NewApp(cfg, zerolog.Nop())
	out := &bytes.Buffer{}
	a.Out = out
	return a, out, dir
}

func week(n int) time.Duration {
	return time.Duration(n) * time.Duration(epoch.Week) * time.Second
}

func TestLockCommandsPersistAcrossOpens(t *testing.T) {
	a, out, dir := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.Faucet(ctx, FaucetOptions{Who: alice, Amount: "1000", Approve: true}))
	assert.Contains(t, out.String(), "balance 1000 TOKEN")

	out.Reset()
	require.NoError(t, a.CreateLock(ctx, LockOptions{Caller: alice, Amount: "400", Duration: week(8)}))
	assert.Contains(t, out.String(), "lock #1 created")

	out.Reset()
	require.NoError(t, a.IncreaseAmount(ctx, TopUpOptions{Caller: alice, ID: 1, Amount: "100"}))
	assert.Contains(t, out.String(), "lock #1 now holds 500 TOKEN")

	err := a.DepositFor(ctx, TopUpOptions{Caller: bob, ID: 1, Amount: "1"})
	assert.Error(t, err)

	err = a.IncreaseAmount(ctx, TopUpOptions{Caller: bob, ID: 1, Amount: "1"})
	assert.ErrorIs(t, err, escrow.ErrNotOwner)

	out.Reset()
	require.NoError(t, a.ExtendLock(ctx, ExtendOptions{Caller: alice, ID: 1, Duration: week(52)}))
	assert.Contains(t, out.String(), "lock #1 now unlocks at")

	err = a.Withdraw(ctx, WithdrawOptions{Caller: alice, ID: 1})
	assert.ErrorIs(t, err, escrow.ErrLockNotExpired)

	out.Reset()
	require.NoError(t, a.Balance(ctx, QueryOptions{ID: 1}))
	assert.NotEqual(t, "0", strings.Fields(out.String())[0])

	out.Reset()
	require.NoError(t, a.Supply(ctx, QueryOptions{}))
	assert.NotEqual(t, "0", strings.Fields(out.String())[0])

	out.Reset()
	past := time.Unix(0, 0)
	require.NoError(t, a.Supply(ctx, QueryOptions{At: &past}))
	assert.Equal(t, "0", strings.Fields(out.String())[0])

	out.Reset()
	require.NoError(t, a.Show(ctx, ShowOptions{Limit: 10}))
	for _, kind := range []string{"genesis", "create", "increase", "extend"} {
		assert.Contains(t, out.String(), kind)
	}
	assert.NotContains(t, out.String(), "deposit_for")

	out.Reset()
	require.NoError(t, a.Show(ctx, ShowOptions{Limit: 10, Positions: true}))
	assert.Contains(t, out.String(), "#1")
	assert.Contains(t, out.String(), "500.0000")

	out.Reset()
	require.NoError(t, a.TokenURI(ctx, 1, true))
	assert.Contains(t, out.String(), "<svg")

	out.Reset()
	require.NoError(t, a.Checkpoint(ctx))
	assert.Contains(t, out.String(), "global points written")

	_, err = os.Stat(filepath.Join(dir, "vecore.db"))
	assert.NoError(t, err)
}

func TestCreateLockRejectsBadInput(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()

	err := a.CreateLock(ctx, LockOptions{Caller: "nope", Amount: "1", Duration: week(1)})
	assert.Error(t, err)

	err = a.CreateLock(ctx, LockOptions{Caller: alice, Amount: "abc", Duration: week(1)})
	assert.Error(t, err)

	err = a.Faucet(ctx, FaucetOptions{Who: alice, Amount: "1"})
	require.NoError(t, err)
	err = a.CreateLock(ctx, LockOptions{Caller: alice, Amount: "1", Duration: week(1)})
	assert.Error(t, err, "faucet without approve leaves no allowance")
}

func TestExportWeightCurve(t *testing.T) {
	a, _, dir := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.Faucet(ctx, FaucetOptions{Who: alice, Amount: "10", Approve: true}))
	require.NoError(t, a.CreateLock(ctx, LockOptions{Caller: alice, Amount: "10", Duration: week(30)}))

	err := a.Export(ctx, ExportOptions{})
	assert.Error(t, err)

	future := time.Now().Add(48 * time.Hour)
	err = a.Export(ctx, ExportOptions{CSVPath: filepath.Join(dir, "x.csv"), To: &future})
	assert.Error(t, err)

	csvPath := filepath.Join(dir, "out", "total.csv")
	require.NoError(t, a.Export(ctx, ExportOptions{CSVPath: csvPath}))
	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Greater(t, len(rows), 2)
	assert.Equal(t, []string{"ts", "unix", "weight_atoms", "weight"}, rows[0])

	pngPath := filepath.Join(dir, "out", "lock.png")
	lockCSV := filepath.Join(dir, "out", "lock.csv")
	require.NoError(t, a.Export(ctx, ExportOptions{PNGPath: pngPath, CSVPath: lockCSV, PositionID: 1}))
	info, err := os.Stat(pngPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	raw, err := os.ReadFile(lockCSV)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	last := strings.Split(lines[len(lines)-1], ",")
	assert.Equal(t, "0", last[2], "a lock weighs nothing at its unlock time")

	err = a.Export(ctx, ExportOptions{CSVPath: lockCSV, PositionID: 99})
	assert.Error(t, err)
}

func TestPreviewDecayCurve(t *testing.T) {
	a, out, _ := newTestApp(t)
	start := time.Unix(2700*epoch.Week, 0)

	require.NoError(t, a.Preview(context.Background(), PreviewOptions{
		Amount:   "1000",
		Duration: week(1),
		Steps:    2,
		Start:    &start,
	}))

	text := out.String()
	assert.Contains(t, text, "4.7945")
	assert.Contains(t, text, "0.48%")
	assert.Contains(t, text, "0.0000")
}

func TestPreviewRejectsZeroAmount(t *testing.T) {
	a, _, _ := newTestApp(t)
	err := a.Preview(context.Background(), PreviewOptions{Amount: "0", Duration: week(1)})
	assert.ErrorIs(t, err, escrow.ErrInvalidAmount)
}

func TestSimulateNotice(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()

	err := a.SimulateNotice(ctx, alice, "1")
	assert.Error(t, err, "alerting disabled")

	a.Config.Alerting.Enabled = true
	a.Config.Alerting.Channels = []string{"telegram"}
	err = a.SimulateNotice(ctx, alice, "1")
	assert.Error(t, err, "telegram channel without credentials")

	a.Config.Alerting.Channels = []string{"log"}
	assert.NoError(t, a.SimulateNotice(ctx, alice, "12.5"))
	assert.Error(t, a.SimulateNotice(ctx, "nope", "1"))
}
