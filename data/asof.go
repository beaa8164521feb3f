package data

import (
	"fmt"
	"time"

	"yield-engine/model"
)

// AsOf 实盘查询：取 ts 及之前最近一次观测，超过 maxStaleness 视为缺失。
type AsOf struct {
	series       *Series
	maxStaleness time.Duration
}

// NewAsOf 包装数据集；maxStaleness 通常等于轮询粒度
func NewAsOf(series *Series, maxStaleness time.Duration) *AsOf {
	return &AsOf{series: series, maxStaleness: maxStaleness}
}

// Value 实现 Source
func (a *AsOf) Value(source, key string, ts time.Time) (float64, error) {
	v, at, err := a.series.Latest(source, key, ts)
	if err != nil {
		return 0, err
	}
	if age := ts.Sub(at); age > a.maxStaleness {
		return 0, fmt.Errorf("%w: %s/%s stale by %s", model.ErrDataUnavailable, source, key, age)
	}
	return v, nil
}

// Series 底层数据集，供实时写入
func (a *AsOf) Series() *Series {
	return a.series
}
