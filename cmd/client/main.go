package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tokenwatch/internal/client/app"
)

var cfg app.Config

var rootCmd = &cobra.Command{
	Use:          "client",
	Short:        "查看和控制 tokenwatch agent",
	SilenceUsage: true,
}

func init() {
	server := os.Getenv("TOKENWATCH_SERVER")
	if server == "" {
		server = "http://127.0.0.1:8765"
	}
	rootCmd.PersistentFlags().StringVar(&cfg.Server, "server", server, "agent API 地址")
	rootCmd.PersistentFlags().DurationVar(&cfg.Timeout, "timeout", 10*time.Second, "请求超时")

	var journalSystem string
	var journalLimit int
	journalCmd := command("journal", "查看落盘的事件记录", cobra.NoArgs, func(ctx context.Context, c *app.Client, args []string) error {
		return c.Journal(ctx, journalSystem, journalLimit)
	})
	journalCmd.Flags().StringVar(&journalSystem, "system", "", "只看某个系统")
	journalCmd.Flags().IntVar(&journalLimit, "limit", 50, "最多条数")

	rootCmd.AddCommand(
		command("status", "抓包状态和所有系统的 token 状态", cobra.NoArgs, func(ctx context.Context, c *app.Client, args []string) error {
			return c.Status(ctx)
		}),
		command("token <system_id>", "输出某个系统当前的 token", cobra.ExactArgs(1), func(ctx context.Context, c *app.Client, args []string) error {
			return c.Token(ctx, args[0])
		}),
		command("request <system_id>", "查看某个系统最近一次命中的请求", cobra.ExactArgs(1), func(ctx context.Context, c *app.Client, args []string) error {
			return c.Request(ctx, args[0])
		}),
		command("clear [system_id]", "清除某个系统的 token，不带参数时清除全部", cobra.MaximumNArgs(1), func(ctx context.Context, c *app.Client, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return c.Clear(ctx, id)
		}),
		command("events", "最近的 token 事件", cobra.NoArgs, func(ctx context.Context, c *app.Client, args []string) error {
			return c.Events(ctx)
		}),
		command("devices", "可抓包的网卡", cobra.NoArgs, func(ctx context.Context, c *app.Client, args []string) error {
			return c.Devices(ctx)
		}),
		command("start <device>", "在网卡上开始抓包", cobra.ExactArgs(1), func(ctx context.Context, c *app.Client, args []string) error {
			return c.Start(ctx, args[0])
		}),
		command("stop", "停止抓包", cobra.NoArgs, func(ctx context.Context, c *app.Client, args []string) error {
			return c.Stop(ctx)
		}),
		journalCmd,
	)
}

func command(use, short string, args cobra.PositionalArgs, run func(ctx context.Context, c *app.Client, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.New(cfg, os.Stdout)
			if err != nil {
				return err
			}
			return run(cmd.Context(), c, args)
		},
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
