package sim

import (
	"yield-engine/config"
)

// BuildVenue 按运行配置创建模拟场所，初始余额与账本一致
func BuildVenue(cfg config.RunConfig) *Venue {
	return NewVenue(cfg.Execution.FeeBps, cfg.InitialDeltas())
}
