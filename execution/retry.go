package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"yield-engine/config"
	"yield-engine/model"
)

// RetryPolicy 执行重试策略。回测单次尝试、无超时；实盘按指数退避重试。
type RetryPolicy struct {
	MaxAttempts int
	Timeout     time.Duration // 单次调用超时，0 表示不限
	Backoff     time.Duration // 首次重试前的等待，之后每次翻倍
	// Sleep 可注入，测试中替换为立即返回
	Sleep func(ctx context.Context, d time.Duration) error
}

// RetryFunc 重试回调：attempt 从 1 开始，elapsed 为本次重试前实际等待的时间
type RetryFunc func(attempt int, elapsed time.Duration, err error)

// BacktestPolicy 回测：任何失败立即致命
func BacktestPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// LivePolicy 实盘：超时 + 指数退避
func LivePolicy(cfg config.ExecutionConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Timeout:     cfg.Timeout,
		Backoff:     cfg.Backoff,
	}
}

// PolicyFor 按运行模式选择策略
func PolicyFor(cfg config.RunConfig) RetryPolicy {
	if cfg.IsBacktest() {
		return BacktestPolicy()
	}
	return LivePolicy(cfg.Execution)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do 执行 fn，可重试错误按策略重试；不可重试错误立即返回。
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error, onRetry RetryFunc) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = p.call(ctx, fn)
		if err == nil {
			return nil
		}
		if !model.IsRetryable(err) || attempt == attempts {
			break
		}
		wait := p.Backoff << (attempt - 1)
		started := time.Now()
		if serr := sleep(ctx, wait); serr != nil {
			return fmt.Errorf("%w: retry interrupted: %v", err, serr)
		}
		if onRetry != nil {
			onRetry(attempt, time.Since(started), err)
		}
	}
	return err
}

func (p RetryPolicy) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.Timeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	err := fn(cctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %v", model.ErrExecutionTimeout, err)
	}
	return err
}
