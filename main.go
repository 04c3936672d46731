package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"botcore/pkg/channels"
	_ "botcore/pkg/channels/telegram" // 註冊 Telegram Channel
	_ "botcore/pkg/channels/web"      // 註冊 Web Channel
	"botcore/pkg/config"
	"botcore/pkg/db"
	"botcore/pkg/gateway"
	"botcore/pkg/handler"
	"botcore/pkg/monitor"
	"botcore/pkg/prefs"
	"botcore/pkg/provider"
	"botcore/pkg/provider/sources"
	"botcore/pkg/tools"
	"botcore/pkg/utils"
)

const (
	configPath       = "config.json"
	systemConfigPath = "system.json"
	attachmentMaxAge = 7 * 24 * time.Hour
)

func main() {
	sys := config.LoadSystemConfig(systemConfigPath)
	monitor.SetupSlog(sys.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, sys); err != nil {
		slog.Error("Fatal", "error", err)
		os.Exit(1)
	}
	slog.Info("Bye!")
}

func run(ctx context.Context, sys *config.SystemConfig) error {
	// --- 0. 讀取設定檔 ---
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load %s: %w", configPath, err)
	}

	if err := os.MkdirAll(sys.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// --- 1. 狀態儲存 ---
	database, err := openHistory(sys)
	if err != nil {
		return err
	}
	defer database.Close()

	store, err := prefs.Open(sys.Preferences, sys.DataDir)
	if err != nil {
		return fmt.Errorf("open preferences: %w", err)
	}
	defer store.Close()

	// --- 2. Providers ---
	llmTools := tools.NewToolRegistry()
	llmTools.Register(tools.NewClockTool())

	sup := provider.NewSupervisor(database, store,
		provider.WithLoader(sources.Load),
		provider.WithConstructTimeout(time.Duration(sys.ProviderInitTimeoutMs)*time.Millisecond),
		provider.WithTools(llmTools),
	)
	if err := sup.Reload(ctx, cfg); err != nil {
		return err
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), time.Duration(sys.ProviderTerminateTimeoutMs)*time.Millisecond)
		defer cancel()
		if err := sup.Close(tctx); err != nil {
			slog.Error("Providers did not terminate cleanly", "error", err)
		}
	}()

	mon := monitor.NewCLIMonitor(os.Stdout, true)
	if err := mon.Start(); err != nil {
		return err
	}
	defer mon.Stop()
	mon.OnMessage(systemEvent("providers ready: " + describe(sup)))

	// --- 3. Gateway ---
	gw := gateway.NewGatewayManager()
	gw.SetMonitor(mon)
	gw.SetMessageHandler(handler.NewChatHandler(sup, gw, sys).OnMessage)

	deps := channels.Deps{Providers: sup, System: sys}
	if n, err := utils.PruneAttachments(deps.AttachmentsDir(), attachmentMaxAge); err != nil {
		slog.Warn("Failed to prune attachments", "error", err)
	} else if n > 0 {
		slog.Info("Pruned old attachments", "count", n)
	}

	channels.LoadFromConfig(gw, cfg.Channels, deps)
	if err := gw.StartAll(); err != nil {
		gw.StopAll()
		return err
	}
	defer gw.StopAll()

	if sys.WatchConfig {
		go watchConfig(ctx, sup, mon)
	}

	<-ctx.Done()
	slog.Info("Received shutdown signal. Stopping services...")
	return nil
}

func openHistory(sys *config.SystemConfig) (db.Database, error) {
	if sys.HistoryDB == "" {
		return db.NewMemory(), nil
	}
	path := sys.HistoryDB
	if !filepath.IsAbs(path) {
		path = filepath.Join(sys.DataDir, path)
	}
	database, err := db.OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	return database, nil
}

// watchConfig reloads providers whenever config.json changes. A rejected
// file leaves the running providers untouched.
func watchConfig(ctx context.Context, sup *provider.Supervisor, mon monitor.Monitor) {
	for range config.WatchConfig(ctx, config.DefaultDebounce, configPath) {
		cfg, err := config.Load(configPath)
		if err != nil {
			slog.Error("Ignoring invalid config", "path", configPath, "error", err)
			continue
		}
		if err := sup.Reload(ctx, cfg); err != nil {
			slog.Error("Provider reload failed, keeping current providers", "error", err)
			mon.OnMessage(systemEvent("provider reload failed: " + err.Error()))
			continue
		}
		mon.OnMessage(systemEvent("providers reloaded: " + describe(sup)))
	}
}

func describe(sup *provider.Supervisor) string {
	var ids []string
	for _, p := range sup.Insts() {
		ids = append(ids, p.ID())
	}
	summary := fmt.Sprintf("chat=[%s]", strings.Join(ids, ","))
	if p := sup.CurrentProvider(); p != nil {
		summary += " current=" + p.ID()
	}
	if s := sup.CurrentSTTProvider(); s != nil && sup.STTEnabled() {
		summary += " stt=" + s.ID()
	}
	return summary
}

func systemEvent(content string) monitor.MonitorMessage {
	return monitor.MonitorMessage{
		Timestamp:   time.Now(),
		MessageType: monitor.TypeSystem,
		Content:     content,
	}
}
