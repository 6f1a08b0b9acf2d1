//go:build no_automation

package main

import (
	"log/slog"

	"x10-go-home/internal/adapter"
	"x10-go-home/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *adapter.Adapter, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}
