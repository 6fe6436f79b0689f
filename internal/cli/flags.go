package cli

import (
	"fmt"
	"strconv"
	"time"

	"vote-escrow/internal/epoch"
	"vote-escrow/internal/escrow"
)

// parseMoment accepts RFC3339 or unix seconds.
func parseMoment(flag, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		t := time.Unix(secs, 0).UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s value: %w", flag, err)
	}
	return &t, nil
}

// lockDuration combines --weeks and --duration; weeks win when both are set.
func lockDuration(weeks int, d time.Duration) (time.Duration, error) {
	if weeks > 0 {
		if int64(weeks) > epoch.MaxLock/epoch.Week+1 {
			return 0, escrow.ErrLockTooLong
		}
		return escrow.Seconds(int64(weeks) * epoch.Week)
	}
	if d <= 0 {
		return 0, fmt.Errorf("one of --weeks or --duration must be provided")
	}
	return d, nil
}

func parseID(v string) (uint64, error) {
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid lock id %q", v)
	}
	return id, nil
}
