package data

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"yield-engine/model"
)

// 数据源名称
const (
	SourcePrice = "price" // key = asset，USD 价格
	SourceIndex = "index" // key = venue:kind:asset，借贷指数 / LST 兑换率 / perp 累计资金费
	SourceMark  = "mark"  // key = venue:perp:asset，标记价格
)

// Source 按 (source, key, timestamp) 取值的数据边界。缺失即错误，绝不插值或取默认值。
type Source interface {
	Value(source, key string, ts time.Time) (float64, error)
}

type seriesKey struct {
	source string
	key    string
}

// Series 内存中的精确时间戳数据集。
type Series struct {
	mu     sync.RWMutex
	values map[seriesKey]map[int64]float64
	stamps map[int64]struct{}
}

// NewSeries 创建空数据集
func NewSeries() *Series {
	return &Series{
		values: make(map[seriesKey]map[int64]float64),
		stamps: make(map[int64]struct{}),
	}
}

// Add 写入一个观测值，同一时间点重复写入时覆盖
func (s *Series) Add(source, key string, ts time.Time, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := seriesKey{source: source, key: key}
	m, ok := s.values[k]
	if !ok {
		m = make(map[int64]float64)
		s.values[k] = m
	}
	n := ts.UTC().UnixNano()
	m[n] = v
	s.stamps[n] = struct{}{}
}

// Value 精确时间戳查询
func (s *Series) Value(source, key string, ts time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.values[seriesKey{source: source, key: key}]
	if !ok {
		return 0, fmt.Errorf("%w: no series %s/%s", model.ErrDataUnavailable, source, key)
	}
	v, ok := m[ts.UTC().UnixNano()]
	if !ok {
		return 0, fmt.Errorf("%w: %s/%s at %s", model.ErrDataUnavailable, source, key, ts.UTC().Format(time.RFC3339))
	}
	return v, nil
}

// Timestamps 返回 [from, to] 内出现过的时间点，升序
func (s *Series) Timestamps(from, to time.Time) []time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lo, hi := from.UTC().UnixNano(), to.UTC().UnixNano()
	out := make([]time.Time, 0, len(s.stamps))
	for n := range s.stamps {
		if n < lo || n > hi {
			continue
		}
		out = append(out, time.Unix(0, n).UTC())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Latest 返回 ts 及之前最近的观测
func (s *Series) Latest(source, key string, ts time.Time) (float64, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.values[seriesKey{source: source, key: key}]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("%w: no series %s/%s", model.ErrDataUnavailable, source, key)
	}
	limit := ts.UTC().UnixNano()
	best := int64(-1 << 63)
	found := false
	for n := range m {
		if n <= limit && (!found || n > best) {
			best, found = n, true
		}
	}
	if !found {
		return 0, time.Time{}, fmt.Errorf("%w: %s/%s before %s", model.ErrDataUnavailable, source, key, ts.UTC().Format(time.RFC3339))
	}
	return m[best], time.Unix(0, best).UTC(), nil
}

// Requirement 启动校验所需的一个 (source, key)
type Requirement struct {
	Source string
	Key    string
}

// Require 启动时快速失败：每个需求在每个时间点都必须存在
func (s *Series) Require(reqs []Requirement, timestamps []time.Time) error {
	for _, ts := range timestamps {
		for _, r := range reqs {
			if _, err := s.Value(r.Source, r.Key, ts); err != nil {
				return err
			}
		}
	}
	return nil
}

// Len 观测值总数
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.values {
		n += len(m)
	}
	return n
}
