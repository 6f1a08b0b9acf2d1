//go:build !no_automation

package main

import (
	"log/slog"

	"x10-go-home/internal/adapter"
	"x10-go-home/internal/automation"
	"x10-go-home/internal/web"
)

type autoStopper struct {
	engine  *automation.Engine
	watcher *automation.Watcher
}

func (a *autoStopper) Stop() {
	if a.watcher != nil {
		a.watcher.Close()
	}
	if a.engine != nil {
		a.engine.Stop()
	}
}

func initAutomation(a *adapter.Adapter, cfg *Config, logger *slog.Logger) (*autoStopper, []web.ServerOption) {
	scriptMgr, err := automation.NewManager(cfg.ScriptsDir)
	if err != nil {
		logger.Error("create script manager", "err", err)
		return &autoStopper{}, nil
	}

	engine := automation.NewEngine(a, scriptMgr, logger)
	engine.Start()

	stopper := &autoStopper{engine: engine}
	watcher, err := automation.NewWatcher(scriptMgr.Dir(), engine, logger)
	if err != nil {
		logger.Warn("script hot reload disabled", "err", err)
	} else {
		stopper.watcher = watcher
	}

	opts := []web.ServerOption{
		web.WithAutomation(engine, scriptMgr),
	}
	return stopper, opts
}
