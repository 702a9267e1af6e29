// Package main 提供代理工作节点命令行入口
//
// 以独立进程运行工作节点，用于联调与排查：
//
//	proxy-worker -config worker.yaml -metrics 127.0.0.1:9100
//	proxy-worker -sn X -token T -tunnel-id Y -server 127.0.0.1:8000 -local-port 10800
//
// 每隔 -status-interval 打印一次 GetProxyWorkerStatus 的 JSON 结果。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/fx"

	proxyworker "github.com/aro-network/go-proxyworker"
	"github.com/aro-network/go-proxyworker/internal/core/metrics"
	"github.com/aro-network/go-proxyworker/internal/core/worker"
	"github.com/aro-network/go-proxyworker/internal/util/logger"
	"github.com/aro-network/go-proxyworker/pkg/types"
)

var log = logger.Logger("cmd")

// ============================================================================
//                              命令行参数
// ============================================================================

var (
	configFile = flag.String("config", "", "配置文件路径（JSON 或 YAML）")

	sn         = flag.String("sn", "", "设备序列号")
	token      = flag.String("token", "", "认证 Token")
	tunnelID   = flag.String("tunnel-id", "", "隧道 ID")
	serverAddr = flag.String("server", "", "代理服务器地址 host:port")
	localPort  = flag.Int("local-port", 0, "本地中继端口")
	natType    = flag.String("nat-type", "", "NAT 类型（0-4 或 full_cone/restricted/port_restricted/symmetric）")
	fixedPort  = flag.Int("fixed-port", 0, "固定本地源端口（0 = 临时端口）")
	disableTLS = flag.Bool("disable-tls", false, "使用 ws 而非 wss")

	metricsAddr    = flag.String("metrics", "", "Prometheus 指标监听地址（为空不启用）")
	statusInterval = flag.Duration("status-interval", 10*time.Second, "状态打印间隔（0 = 不打印）")
	reconnectGrace = flag.Duration("reconnect-grace", 30*time.Second, "隧道中断后保持连接的窗口")
	enableNATPMP   = flag.Bool("natpmp", false, "在网关上映射固定源端口")
	showVersion    = flag.Bool("version", false, "显示版本信息")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(proxyworker.GetCurrentVersion())
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadWorkerConfig()
	if err != nil {
		return err
	}

	workerCfg, err := worker.NewConfig(
		worker.WithReconnectGrace(*reconnectGrace),
		worker.WithNATPMP(*enableNATPMP),
	)
	if err != nil {
		return err
	}
	metricsCfg := metrics.DefaultConfig()
	metricsCfg.Enabled = *metricsAddr != ""
	metricsCfg.ProcessCollectors = true

	app := fx.New(
		fx.NopLogger,
		fx.Supply(&workerCfg, &metricsCfg),
		metrics.Module,
		worker.Module,
		fx.Invoke(serveMetrics),
		fx.Invoke(func(lc fx.Lifecycle, w *worker.Worker) {
			startWorker(lc, w, cfg)
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

// startWorker 在应用启动时启动工作节点，并定期打印状态
func startWorker(lc fx.Lifecycle, w *worker.Worker, cfg types.WorkerConfig) {
	facade := proxyworker.Wrap(w)
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if _, err := w.Start(cfg); err != nil {
				return err
			}
			if *statusInterval > 0 {
				go printStatus(ctx, facade, *statusInterval)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			fmt.Println(facade.Stop())
			return nil
		},
	})
}

func printStatus(ctx context.Context, facade *proxyworker.Facade, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Println(facade.Status())
		}
	}
}

// serveMetrics 启用时在 -metrics 地址上提供 /metrics
func serveMetrics(lc fx.Lifecycle, m *metrics.Metrics) {
	if m == nil {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", *metricsAddr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("指标服务退出", "err", err)
				}
			}()
			log.Info("指标服务已启动", "addr", ln.Addr().String())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
