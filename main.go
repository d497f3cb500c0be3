package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"talos/pkg/agent"
	"talos/pkg/channels"
	_ "talos/pkg/channels/autoload"
	"talos/pkg/config"
	"talos/pkg/gateway"
	"talos/pkg/llm"
	_ "talos/pkg/llm/autoload"
	"talos/pkg/monitor"
	"talos/pkg/tools"
	"talos/pkg/unity"
)

func main() {
	monitor.PrintBanner()

	cfg, sysCfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	monitor.SetupSlog(sysCfg.LogLevel)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	reloadCh := config.WatchConfig(rootCtx, "config.json", "system.json")

	for {
		gw, conn, err := start(cfg, sysCfg)
		if err != nil {
			slog.Error("Startup failed", "error", err)
			os.Exit(1)
		}

		select {
		case <-sigChan:
			slog.Info("Received shutdown signal, stopping services")
			gw.StopAll()
			conn.Close()
			slog.Info("Bye!")
			return

		case <-reloadCh:
			slog.Info("Reloading configuration")
			gw.StopAll()
			conn.Close()

			newCfg, newSysCfg, err := config.Load()
			if err != nil {
				slog.Error("Reload failed, keeping previous configuration", "error", err)
				continue
			}
			cfg, sysCfg = newCfg, newSysCfg
			monitor.SetupSlog(sysCfg.LogLevel)
		}
	}
}

// start wires one full instance of the bridge: LLM client stack, Unity
// connection, tools, agent engine, channels and gateway.
func start(cfg *config.Config, sysCfg *config.SystemConfig) (*gateway.Manager, *unity.Conn, error) {
	client, err := llm.NewFromConfig(cfg.LLM, sysCfg)
	if err != nil {
		return nil, nil, err
	}
	client.SetDebug(sysCfg.DebugChunks)

	sessions := llm.NewSessionStore(sysCfg.SessionStorageDir)

	conn := unity.NewConn(cfg.Unity)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := conn.Ping(pingCtx); err != nil {
		// The Editor may simply not be running yet; commands reconnect
		// lazily.
		slog.Warn("Unity Editor not reachable yet", "addr", conn.Addr(), "error", err)
	} else {
		slog.Info("Unity Editor bridge ready", "addr", conn.Addr())
	}
	cancel()

	engine := agent.NewEngine(client, cfg, sysCfg, sessions)
	engine.RegisterTool(
		tools.NewScreenshotTool(conn),
		tools.NewConsoleTool(conn),
		tools.NewEditorTool(conn),
	)

	chs := channels.CreateFromConfig(cfg.Channels, sessions, sysCfg)

	gw, err := gateway.NewBuilder().
		WithSystemConfig(sysCfg).
		WithMonitor(monitor.NewCLIMonitor()).
		WithChannel(chs...).
		WithAgentEngine(engine).
		WithHandler(engine).
		Build()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	return gw, conn, nil
}
