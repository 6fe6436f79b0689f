package service

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vote-escrow/internal/alerting"
	"vote-escrow/internal/config"
	"vote-escrow/internal/escrow"
)

type fakeLedger struct {
	checkpoints int
	err         error
	positions   []escrow.Position
}

func (f *fakeLedger) Checkpoint(ctx context.Context) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.checkpoints++
	return 2, nil
}

func (f *fakeLedger) Withdrawable(ctx context.Context) ([]escrow.Position, error) {
	return f.positions, nil
}

type recordingNotifier struct {
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, n alerting.Notification) error {
	r.notes = append(r.notes, n)
	return nil
}

type fakeLocker struct {
	acquired bool
	released int
}

func (f *fakeLocker) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	if !f.acquired {
		return nil, false, nil
	}
	return func() { f.released++ }, true, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{AdvisoryLockKey: 99},
		Deposit:  config.DepositConfig{Decimals: 18, Symbol: "TOKEN"},
		Alerting: config.AlertingConfig{Enabled: true, Cooldown: time.Hour, Channels: []string{"telegram"}},
	}
}

func TestProcessTickCheckpointsAndNotifiesOnce(t *testing.T) {
	ledger := &fakeLedger{positions: []escrow.Position{{
		ID:     3,
		Owner:  common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		Amount: new(big.Int).Mul(big.NewInt(25), big.NewInt(1e18)),
		End:    1_700_000_000,
	}}}
	notifier := &recordingNotifier{}
	locker := &fakeLocker{acquired: true}
	svc := New(testConfig(), nil, ledger, locker, notifier, zerolog.Nop())

	at := time.Unix(1_700_000_100, 0)
	require.NoError(t, svc.ProcessTick(context.Background(), at))
	require.NoError(t, svc.ProcessTick(context.Background(), at.Add(time.Minute)))
	require.NoError(t, svc.ProcessTick(context.Background(), at.Add(2*time.Hour)))

	assert.Equal(t, 3, ledger.checkpoints)
	assert.Equal(t, 3, locker.released)
	require.Len(t, notifier.notes, 2)
	assert.Equal(t, uint64(3), notifier.notes[0].PositionID)
	assert.Equal(t, "25", notifier.notes[0].Amount.String())
	assert.Equal(t, "TOKEN", notifier.notes[0].Symbol)
}

func TestProcessTickSkipsWhenLockHeld(t *testing.T) {
	ledger := &fakeLedger{}
	svc := New(testConfig(), nil, ledger, &fakeLocker{}, nil, zerolog.Nop())
	require.NoError(t, svc.ProcessTick(context.Background(), time.Now()))
	assert.Zero(t, ledger.checkpoints)
}

func TestProcessTickPropagatesCheckpointError(t *testing.T) {
	boom := errors.New("store down")
	svc := New(testConfig(), nil, &fakeLedger{err: boom}, nil, nil, zerolog.Nop())
	assert.ErrorIs(t, svc.ProcessTick(context.Background(), time.Now()), boom)
}

func TestRunRequiresScheduler(t *testing.T) {
	svc := New(testConfig(), nil, &fakeLedger{}, nil, nil, zerolog.Nop())
	assert.Error(t, svc.Run(context.Background()))
}
