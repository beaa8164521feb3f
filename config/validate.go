package config

import (
	"fmt"

	"yield-engine/model"
)

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", model.ErrConfigInvalid, fmt.Sprintf(format, args...))
}

// Validate ensures required fields are present and ranges are sane.
func Validate(cfg RunConfig) error {
	if cfg.Mode == "" {
		return invalid("mode is required")
	}
	switch cfg.ExecutionMode {
	case ModeBacktest, ModeLive:
	default:
		return invalid("execution_mode must be backtest or live, got %q", cfg.ExecutionMode)
	}
	if cfg.ShareClass == "" {
		return invalid("share_class is required")
	}
	if cfg.Asset == "" {
		return invalid("asset is required")
	}
	if cfg.ReserveRatio < 0 || cfg.ReserveRatio >= 1 {
		return invalid("reserve_ratio must be in [0,1), got %v", cfg.ReserveRatio)
	}
	// 策略只以 share class 补足钱包储备，其他币种的储备永远无法补足
	if cfg.ReserveCurrency != "" && cfg.ReserveCurrency != cfg.ShareClass {
		return invalid("reserve_currency %s must equal share_class %s", cfg.ReserveCurrency, cfg.ShareClass)
	}
	if cfg.DustDelta < 0 {
		return invalid("dust_delta must be >= 0")
	}
	if cfg.InitialCapital < 0 {
		return invalid("initial_capital must be >= 0")
	}
	if cfg.ReduceFraction <= 0 {
		return invalid("reduce_fraction must be > 0")
	}
	for t, lim := range cfg.RiskLimits {
		if err := validateLimit(t, lim); err != nil {
			return err
		}
	}
	for i, b := range cfg.InitialBalances {
		if !b.Kind.Valid() || b.Venue == "" || b.Asset == "" {
			return invalid("initial_balances[%d] has invalid key %s", i, b.PositionKey)
		}
		if b.Amount < 0 && b.Kind != model.KindPerp {
			return invalid("initial_balances[%d] amount must be >= 0", i)
		}
	}
	if len(cfg.Instruments) == 0 {
		return invalid("instruments must list the position universe")
	}
	for i, k := range cfg.Instruments {
		if !k.Kind.Valid() || k.Venue == "" || k.Asset == "" {
			return invalid("instruments[%d] has invalid key %s", i, k)
		}
		if k.Kind == model.KindLST && cfg.LSTUnderlying[k.Asset] == "" {
			return invalid("instruments[%d]: lst %s needs lst_underlying", i, k.Asset)
		}
	}
	if cfg.IsBacktest() {
		if cfg.Start.IsZero() || cfg.End.IsZero() || !cfg.End.After(cfg.Start) {
			return invalid("backtest requires start < end")
		}
	}
	if cfg.TickInterval <= 0 {
		return invalid("tick_interval must be > 0")
	}
	if cfg.Execution.MaxAttempts <= 0 {
		return invalid("execution.max_attempts must be > 0")
	}
	if cfg.Execution.ReconcileTolerance < 0 {
		return invalid("execution.reconcile_tolerance must be >= 0")
	}
	if cfg.Execution.FeeBps < 0 {
		return invalid("execution.fee_bps must be >= 0")
	}
	if cfg.TrendWindow != 0 && cfg.TrendWindow < 2 {
		return invalid("trend_window must be >= 2")
	}
	if cfg.YieldBounds.Min >= cfg.YieldBounds.Max {
		return invalid("yield_bounds.min must be < yield_bounds.max")
	}
	return nil
}

// validateLimit 按风险方向检查阈值：delta/ltv 越大越危险，cex_margin 越小越危险。
func validateLimit(t model.RiskType, lim RiskLimit) error {
	switch t {
	case model.RiskCEXMargin:
		if lim.Critical <= 0 || lim.Warning < lim.Critical {
			return invalid("risk_limits.%s: need warning >= critical > 0", t)
		}
	default:
		if lim.Warning < 0 || lim.Critical < lim.Warning {
			return invalid("risk_limits.%s: need 0 <= warning <= critical", t)
		}
	}
	return nil
}
