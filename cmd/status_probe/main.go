package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"yield-engine/internal/engine"
)

// 周期性查询运行中引擎的 /status，打印状态变化。
func main() {
	addr := flag.String("addr", "http://127.0.0.1:9100", "引擎 metrics/status 地址")
	interval := flag.Duration("interval", 5*time.Second, "轮询间隔")
	once := flag.Bool("once", false, "只查询一次")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	client := &http.Client{Timeout: 3 * time.Second}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		st, err := probe(ctx, client, *addr+"/status")
		if err != nil {
			fmt.Fprintf(os.Stderr, "查询失败: %v\n", err)
		} else {
			fmt.Printf("%s tick=%d state=%s equity=%.4f apy=%.4f%% reduce_only=%v reserve=%s queue=%d in_flight=%d pending=%d\n",
				st.Timestamp.Format(time.RFC3339), st.Tick, st.State, st.Equity, st.AnnualizedAPY*100,
				st.ReduceOnly, st.ReserveStatus, st.QueueDepth, st.InFlight, st.PendingRequest)
			if st.Halted != nil {
				fmt.Printf("  已中止: %v\n", st.Halted)
			}
		}
		if *once {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func probe(ctx context.Context, client *http.Client, url string) (engine.Status, error) {
	var st engine.Status
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return st, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return st, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("status %d", resp.StatusCode)
	}
	return st, json.NewDecoder(resp.Body).Decode(&st)
}
