package alerting

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Channel names accepted in alerting.channels.
const (
	ChannelTelegram = "telegram"
	ChannelLog      = "log"
)

// LogNotifier 将提醒写入结构化日志，便于无外部通道时排查。
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier 构造日志告警器。
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify 记录一条到期提醒。
func (n *LogNotifier) Notify(ctx context.Context, note Notification) error {
	n.logger.Info().
		Uint64("position_id", note.PositionID).
		Str("owner", note.Owner).
		Str("amount", note.Amount.String()).
		Str("symbol", note.Symbol).
		Time("unlock_at", note.UnlockAt).
		Msg("position withdrawable")
	return nil
}

// Fanout 将同一提醒投递到全部通道，任一失败都会返回。
type Fanout []Notifier

// Notify 依次调用每个通道并合并错误。
func (f Fanout) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for i, n := range f {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, fmt.Errorf("channel %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Fanout(nil)
)
