// Command taskwatch watches a task dashboard page and alerts on new tasks.
//
// Usage:
//
//	taskwatch -config taskwatch.yaml        # run the watcher daemon
//	taskwatch -check-once                   # single check, print result, exit
//	taskwatch -config taskwatch.yaml -mcp   # also serve MCP tools on stdio
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	taskwatch "github.com/hazyhaar/taskwatch"
	"github.com/hazyhaar/taskwatch/internal/notify"
	"github.com/hazyhaar/taskwatch/internal/render"
	"github.com/hazyhaar/taskwatch/internal/store"
	"github.com/hazyhaar/taskwatch/internal/watch"
)

func main() {
	configPath := flag.String("config", "", "path to taskwatch.yaml (optional; env vars also work)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	checkOnce := flag.Bool("check-once", false, "run a single check, print its result as JSON, and exit")
	mcpStdio := flag.Bool("mcp", false, "serve MCP tools on stdio alongside the watcher")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *checkOnce, *mcpStdio); err != nil {
		logger.Error("taskwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string, checkOnce, mcpStdio bool) error {
	cfg, err := taskwatch.LoadConfigFile(configPath)
	if err != nil {
		return err
	}

	if cfg.Page.Cookie == "" {
		logger.Warn("no session cookie configured; checks will see the login wall until OUTLIER_COOKIE is set")
	}

	st, err := store.Open(cfg.State.Path, logger)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer st.Close()

	renderer := render.New(render.Config{
		URL:           cfg.Page.URL,
		Cookie:        cfg.Page.Cookie,
		Selector:      cfg.Page.Selector,
		RemoteURL:     cfg.Browser.Remote,
		NoSandbox:     cfg.Browser.NoSandbox,
		NavTimeout:    cfg.Browser.NavTimeout.Std(),
		WaitTimeout:   cfg.Browser.WaitTimeout.Std(),
		SettleTimeout: cfg.Browser.SettleTimeout.Std(),
		Logger:        logger,
	})
	defer renderer.Close()

	var notifier notify.Notifier
	if cfg.TelegramConfigured() {
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			Token:  cfg.Telegram.Token,
			ChatID: cfg.Telegram.ChatID,
			Logger: logger,
		})
		if err != nil {
			logger.Warn("telegram setup failed, alerts go to the log only", "error", err)
			notifier = notify.NewLog(logger)
		} else {
			notifier = tg
		}
	} else {
		logger.Warn("telegram not fully configured, alerts go to the log only")
		notifier = notify.NewLog(logger)
	}

	w := taskwatch.New(renderer, notifier, st, taskwatch.Options{
		PageURL:      cfg.Page.URL,
		Interval:     cfg.Check.Interval.Std(),
		StartupDelay: cfg.Check.StartupDelay.Std(),
		Policy: watch.Policy{
			StreakMin:      cfg.Check.StreakMin,
			NotifyFirstRun: cfg.Check.NotifyFirstRun,
		},
		Logger: logger,
	})

	if checkOnce {
		res := w.CheckNow(ctx)
		out, _ := json.MarshalIndent(res, "", "  ")
		os.Stdout.Write(out)
		os.Stdout.Write([]byte("\n"))
		if !res.OK {
			return fmt.Errorf("check failed: %s", res.Err)
		}
		return nil
	}

	go w.Run(ctx)

	admin := &http.Server{
		Addr: cfg.Admin.Addr,
		Handler: taskwatch.NewAdminRouter(w, taskwatch.AdminInfo{
			HasCookie:   cfg.Page.Cookie != "",
			HasBotToken: cfg.Telegram.Token != "",
			HasChatID:   cfg.Telegram.ChatID != 0,
			Interval:    cfg.Check.Interval.Std(),
		}, logger),
	}
	adminErr := make(chan error, 1)
	go func() {
		logger.Info("admin listening", "addr", cfg.Admin.Addr)
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			adminErr <- err
		}
	}()

	if mcpStdio {
		srv := mcp.NewServer(&mcp.Implementation{Name: "taskwatch", Version: "1.0.0"}, nil)
		w.RegisterMCP(srv)
		go func() {
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("mcp server stopped", "error", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-adminErr:
		return fmt.Errorf("admin server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := admin.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin shutdown", "error", err)
	}
	return nil
}
