package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/grafana/pyroscope-go"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"yield-engine/config"
	"yield-engine/internal/container"
)

// 实盘（纸面）运行：按 tick 粒度轮询，控制目录接收出入金与停止请求。
func main() {
	cfgPath := flag.String("config", "configs/live.yaml", "配置文件路径")
	envFile := flag.String("env", ".env", "环境变量文件，不存在时忽略")
	profileAddr := flag.String("pyroscope", "", "pyroscope 服务地址，留空则关闭")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("加载 %s 失败: %v", *envFile, err)
	}

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if cfg.ExecutionMode != config.ModeLive {
		log.Fatalf("execution_mode 必须为 live，当前为 %s", cfg.ExecutionMode)
	}

	if *profileAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "yield-engine.live",
			ServerAddress:   *profileAddr,
			Tags:            map[string]string{"mode": cfg.Mode},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	c := container.NewFromConfig(cfg)
	if err := c.Build(); err != nil {
		log.Fatalf("构建失败: %v", err)
	}
	lg := c.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := c.Start(ctx); err != nil {
		lg.Fatal("start failed", zap.Error(err))
	}
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		lg.Warn("sd_notify ready failed", zap.Error(err))
	}

	res, runErr := c.Run(ctx)

	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		lg.Warn("sd_notify stopping failed", zap.Error(err))
	}
	lg.Info("run ended",
		zap.Int("ticks", res.Ticks),
		zap.Float64("end_equity", res.EndEquity),
		zap.Float64("annualized_yield", res.AnnualizedYield))
	if err := c.Stop(); err != nil {
		log.Printf("停止时出错: %v", err)
	}
	if runErr != nil {
		log.Printf("运行中止: %v", runErr)
		os.Exit(1)
	}
}
