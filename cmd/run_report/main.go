package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"yield-engine/internal/store"
)

type stats struct {
	ticks       int
	first, last float64
	peak        float64
	maxDD       float64
	executions  map[string]int
	signals     map[string]int
	requests    int
	failures    []store.Event
	start, end  time.Time
}

func newStats() *stats {
	return &stats{executions: make(map[string]int), signals: make(map[string]int)}
}

func (s *stats) add(ev store.Event) {
	switch ev.Kind {
	case store.EventTick:
		eq := toFloat(ev.Fields["equity"])
		if s.ticks == 0 {
			s.first, s.peak, s.start = eq, eq, ev.Timestamp
		}
		s.ticks++
		s.last, s.end = eq, ev.Timestamp
		if eq > s.peak {
			s.peak = eq
		}
		if s.peak > 0 && (s.peak-eq)/s.peak > s.maxDD {
			s.maxDD = (s.peak - eq) / s.peak
		}
	case store.EventExecution:
		kind, _ := ev.Fields["kind"].(string)
		s.executions[kind]++
	case store.EventSignal:
		kind, _ := ev.Fields["kind"].(string)
		s.signals[kind]++
	case store.EventRequest:
		s.requests++
	case store.EventFailure:
		s.failures = append(s.failures, ev)
	}
}

// 汇总运行事件文件（JSONL），按 run 与时间过滤。
func main() {
	path := flag.String("events", "out/events.jsonl", "事件文件路径")
	runID := flag.String("run", "", "仅统计指定 run (默认全量)")
	sinceStr := flag.String("since", "", "仅统计此时间之后的记录 (RFC3339，例如 2024-01-01T00:00:00Z)")
	flag.Parse()

	var since time.Time
	if *sinceStr != "" {
		var err error
		since, err = time.Parse(time.RFC3339Nano, *sinceStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "解析 since 参数失败: %v\n", err)
			os.Exit(1)
		}
	}

	f, err := os.Open(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法读取事件文件: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	runs := make(map[string]*stats)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var ev store.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		if *runID != "" && ev.RunID != *runID {
			continue
		}
		if !since.IsZero() && ev.Timestamp.Before(since) {
			continue
		}
		st, ok := runs[ev.RunID]
		if !ok {
			st = newStats()
			runs[ev.RunID] = st
		}
		st.add(ev)
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "读取事件出错: %v\n", err)
		os.Exit(1)
	}

	ids := make([]string, 0, len(runs))
	for id := range runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Printf("统计文件: %s\n", *path)
	for _, id := range ids {
		printRun(id, runs[id])
	}
}

func printRun(id string, st *stats) {
	fmt.Printf("\nrun %s\n", id)
	fmt.Printf("  区间: %s -> %s (%d ticks)\n", st.start.Format(time.RFC3339), st.end.Format(time.RFC3339), st.ticks)
	fmt.Printf("  权益: %.4f -> %.4f, 最大回撤 %.4f%%\n", st.first, st.last, st.maxDD*100)
	fmt.Printf("  出入金请求: %d\n", st.requests)
	for _, k := range sortedKeys(st.executions) {
		fmt.Printf("  执行单元 %-10s %d\n", k, st.executions[k])
	}
	for _, k := range sortedKeys(st.signals) {
		fmt.Printf("  信号 %-24s %d\n", k, st.signals[k])
	}
	for _, ev := range st.failures {
		fmt.Printf("  中止 tick=%d component=%v state=%v cause=%v\n", ev.Tick, ev.Fields["component"], ev.Fields["state"], ev.Fields["cause"])
	}
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func toFloat(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	default:
		return 0
	}
}
