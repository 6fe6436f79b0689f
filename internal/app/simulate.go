package app

import (
	"context"
	"errors"
	"time"

	"vote-escrow/internal/amount"
	"vote-escrow/internal/escrow"
	"vote-escrow/internal/service"
)

// SimulateNotice 通过一个模拟的到期锁仓走一遍提醒流程。
func (a *App) SimulateNotice(ctx context.Context, owner string, value string) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	who, err := parseAddress("owner", owner)
	if err != nil {
		return err
	}
	atoms, err := amount.Parse(value, a.Config.Deposit.Decimals)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	ledger := &staticLedger{positions: []escrow.Position{{
		ID:     1,
		Owner:  who,
		Amount: atoms,
		End:    now.Add(-time.Minute).Unix(),
	}}}

	svc := service.New(a.Config, nil, ledger, nil, notifier, a.Logger)
	return svc.ProcessTick(ctx, now)
}

type staticLedger struct {
	positions []escrow.Position
}

func (s *staticLedger) Checkpoint(ctx context.Context) (int, error) {
	return 0, nil
}

func (s *staticLedger) Withdrawable(ctx context.Context) ([]escrow.Position, error) {
	return s.positions, nil
}

var _ service.Ledger = (*staticLedger)(nil)
