package engine

import (
	"context"
	"time"
)

// Clock 驱动 tick 的时钟；ok 为 false 表示运行结束
type Clock interface {
	Next(ctx context.Context) (ts time.Time, ok bool, err error)
}

// Grid 生成 [start, end] 内按 interval 对齐的时间点
func Grid(start, end time.Time, interval time.Duration) []time.Time {
	if interval <= 0 || end.Before(start) {
		return nil
	}
	out := make([]time.Time, 0, int(end.Sub(start)/interval)+1)
	for ts := start; !ts.After(end); ts = ts.Add(interval) {
		out = append(out, ts)
	}
	return out
}

// ReplayClock 按历史数据时间点确定性回放
type ReplayClock struct {
	stamps []time.Time
	next   int
}

func NewReplayClock(stamps []time.Time) *ReplayClock {
	return &ReplayClock{stamps: append([]time.Time(nil), stamps...)}
}

func (c *ReplayClock) Next(ctx context.Context) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	if c.next >= len(c.stamps) {
		return time.Time{}, false, nil
	}
	ts := c.stamps[c.next]
	c.next++
	return ts, true, nil
}

// Remaining 尚未回放的时间点数
func (c *ReplayClock) Remaining() int {
	return len(c.stamps) - c.next
}

// PollingClock 实盘时钟：按固定粒度对齐到整点边界，错过的边界不补发。
type PollingClock struct {
	interval time.Duration
	end      time.Time // 零值表示不限
	last     time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewPollingClock(interval time.Duration, end time.Time) *PollingClock {
	return &PollingClock{
		interval: interval,
		end:      end,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *PollingClock) Next(ctx context.Context) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	now := c.now()
	next := now.Truncate(c.interval)
	if !c.last.IsZero() && !next.After(c.last) {
		next = c.last.Add(c.interval)
	}
	if !c.end.IsZero() && next.After(c.end) {
		return time.Time{}, false, nil
	}
	if wait := next.Sub(now); wait > 0 {
		if err := c.sleep(ctx, wait); err != nil {
			return time.Time{}, false, err
		}
	}
	c.last = next
	return next.UTC(), true, nil
}
