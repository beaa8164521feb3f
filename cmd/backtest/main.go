package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/joho/godotenv"

	"yield-engine/config"
	"yield-engine/internal/container"
	"yield-engine/internal/engine"
	"yield-engine/model"
)

// 按配置回放历史数据运行一次回测。
// 用法：
//
//	go run ./cmd/backtest -config configs/lending.yaml -data data/aave_usdt.csv -out result.json
func main() {
	cfgPath := flag.String("config", "configs/backtest.yaml", "配置文件路径")
	dataPath := flag.String("data", "", "数据文件，覆盖配置中的 data.path")
	envFile := flag.String("env", ".env", "环境变量文件，不存在时忽略")
	outPath := flag.String("out", "", "若指定则把运行结果写入 JSON 文件")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("加载 %s 失败: %v", *envFile, err)
	}

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *dataPath != "" {
		cfg.Data.Path = *dataPath
	}
	if !cfg.IsBacktest() {
		log.Fatalf("execution_mode 必须为 backtest，当前为 %s", cfg.ExecutionMode)
	}

	c := container.NewFromConfig(cfg)
	if err := c.Build(); err != nil {
		log.Fatalf("构建失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := c.Start(ctx); err != nil {
		log.Fatalf("启动失败: %v", err)
	}

	res, runErr := c.Run(ctx)
	if err := c.Stop(); err != nil {
		log.Printf("停止时出错: %v", err)
	}

	printSummary(res)
	if *outPath != "" {
		if err := writeResult(*outPath, res); err != nil {
			log.Printf("写入结果失败: %v", err)
		}
	}
	if runErr != nil {
		log.Printf("运行中止: %v", runErr)
		os.Exit(1)
	}
}

func printSummary(res engine.RunResult) {
	fmt.Printf("run=%s mode=%s ticks=%d\n", res.RunID, res.Mode, res.Ticks)
	fmt.Printf("equity %.2f -> %.2f flows=%.2f apy=%.4f%% max_dd=%.4f%%\n",
		res.StartEquity, res.EndEquity, res.Flows, res.AnnualizedYield*100, res.MaxDrawdown*100)

	buckets := make([]model.Bucket, 0, len(res.Attribution))
	for b := range res.Attribution {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })
	for _, b := range buckets {
		fmt.Printf("  %-12s %.4f\n", b, res.Attribution[b])
	}
	for kind, n := range res.Signals {
		fmt.Printf("  signal %-24s %d\n", kind, n)
	}
	if res.Failure != nil {
		fmt.Printf("FAILED tick=%d state=%s component=%s: %v\n",
			res.Failure.Tick, res.Failure.State, res.Failure.Component, res.Failure.Cause)
	}
}

func writeResult(path string, res engine.RunResult) error {
	raw, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
