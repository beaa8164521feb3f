package model

import "errors"

// 错误分类。所有错误最终在编排器处汇总为失败报告并中止运行。
var (
	// ErrConfigInvalid 配置不合法，运行前致命
	ErrConfigInvalid = errors.New("config invalid")
	// ErrDataUnavailable 数据缺失，快速失败，不插值不取默认值
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrReconciliationMismatch 对账不一致；回测致命，实盘重试后致命
	ErrReconciliationMismatch = errors.New("reconciliation mismatch")
	// ErrExecutionTimeout venue 调用超时
	ErrExecutionTimeout = errors.New("execution timeout")
	// ErrExecutionFailed venue 执行失败
	ErrExecutionFailed = errors.New("execution failed")
	// ErrReduceOnlyViolation reduce-only 下尝试加仓，属于编程错误
	ErrReduceOnlyViolation = errors.New("entry action under reduce-only")
	// ErrYieldOutOfBounds 年化收益超出合理区间，通常意味着指数取值错误
	ErrYieldOutOfBounds = errors.New("annualized yield out of bounds")
)

// IsRetryable 实盘模式下可重试的错误
func IsRetryable(err error) bool {
	return errors.Is(err, ErrExecutionTimeout) ||
		errors.Is(err, ErrExecutionFailed) ||
		errors.Is(err, ErrReconciliationMismatch)
}
