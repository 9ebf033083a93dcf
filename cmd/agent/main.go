package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tokenwatch/internal/agent/app"
	"tokenwatch/internal/logging"
)

var logger *zap.Logger

var cfg app.Config

var rootCmd = &cobra.Command{
	Use:   "agent",
	Short: "被动抓包，自动提取并维护各业务系统的 token",
	Long: `agent 在指定网卡上被动抓取明文 HTTP 请求，按内置的业务系统表
提取、校验 token，并通过 HTTP API / websocket 对外提供 token 状态和事件。`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(logging.FromEnv())
		if err != nil {
			return fmt.Errorf("初始化日志失败：%w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logging.Sync(logger)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := app.Run(ctx, cfg, logger); err != nil {
			logger.Error("agent 退出", zap.Error(err))
			return err
		}
		logger.Info("agent 正常退出")
		return nil
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&cfg.ListenAddr, "listen", getEnv("TOKENWATCH_LISTEN", ":8765"), "API 监听地址")
	f.StringVar(&cfg.Interface, "interface", getEnv("TOKENWATCH_INTERFACE", ""), "启动后立即抓包的网卡名（可选）")
	f.StringVar(&cfg.Backend, "backend", getEnv("TOKENWATCH_BACKEND", "pcap"), "抓包后端：pcap 或 afpacket（仅 Linux）")
	f.IntSliceVar(&cfg.Ports, "ports", getEnvInts("TOKENWATCH_PORTS", []int{80, 8080, 443}), "抓取的 TCP 端口")
	f.IntVar(&cfg.Snaplen, "snaplen", getEnvInt("TOKENWATCH_SNAPLEN", 65535), "单包最大抓取字节数")
	f.DurationVar(&cfg.ReadTimeout, "read-timeout", getEnvDuration("TOKENWATCH_READ_TIMEOUT", time.Second), "抓包读超时")
	f.DurationVar(&cfg.StopTimeout, "stop-timeout", getEnvDuration("TOKENWATCH_STOP_TIMEOUT", 3*time.Second), "停止抓包时最长等待时间")
	f.IntVar(&cfg.QueueSize, "queue-size", getEnvInt("TOKENWATCH_QUEUE_SIZE", 256), "待处理报文队列长度，满时丢弃最旧的报文")
	f.DurationVar(&cfg.ExpiryInterval, "expiry-interval", getEnvDuration("TOKENWATCH_EXPIRY_INTERVAL", time.Minute), "过期检查间隔")
	f.IntVar(&cfg.HistorySize, "history-size", getEnvInt("TOKENWATCH_HISTORY_SIZE", 100), "保留的最近事件数")
	f.BoolVar(&cfg.ScanResponses, "scan-responses", getEnv("TOKENWATCH_SCAN_RESPONSES", "") == "true", "同时扫描 HTTP 响应中的 token")
	f.DurationVar(&cfg.FlowTimeout, "flow-timeout", getEnvDuration("TOKENWATCH_FLOW_TIMEOUT", 30*time.Second), "请求/响应关联缓存超时")
	f.StringVar(&cfg.JournalDriver, "journal-driver", getEnv("TOKENWATCH_JOURNAL_DRIVER", "none"), "事件落盘：none、sqlite 或 duckdb")
	f.StringVar(&cfg.JournalPath, "journal", getEnv("TOKENWATCH_JOURNAL", ""), "事件落盘文件路径")
	f.StringVar(&cfg.ReportURL, "report-url", getEnv("TOKENWATCH_REPORT_URL", ""), "事件推送地址（POST JSON，可选）")
	f.DurationVar(&cfg.ReportTimeout, "report-timeout", getEnvDuration("TOKENWATCH_REPORT_TIMEOUT", 5*time.Second), "事件推送超时")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInts(key string, defaultVal []int) []int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return defaultVal
		}
		out = append(out, i)
	}
	return out
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
