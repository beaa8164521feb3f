package pnl

import (
	"fmt"
	"time"

	"yield-engine/model"
)

const year = 365 * 24 * time.Hour

// AnnualizedYield 简单年化收益：(期末权益 − 净入金) / 期初权益 − 1，按区间长度线性年化。
func AnnualizedYield(first, last model.EquitySnapshot, flows float64) float64 {
	elapsed := last.Timestamp.Sub(first.Timestamp)
	if elapsed <= 0 || first.Total <= 0 {
		return 0
	}
	r := (last.Total-flows)/first.Total - 1
	return r * float64(year) / float64(elapsed)
}

// CheckYield 年化收益合理性校验；越界通常意味着协议指数取值错误而非市场行情。
func CheckYield(apy, min, max float64) error {
	if apy < min || apy > max {
		return fmt.Errorf("%w: %.6f outside [%.4f, %.4f]", model.ErrYieldOutOfBounds, apy, min, max)
	}
	return nil
}
