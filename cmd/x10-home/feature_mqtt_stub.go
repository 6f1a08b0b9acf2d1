//go:build no_mqtt

package main

import (
	"log/slog"

	"x10-go-home/internal/adapter"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *adapter.Adapter, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
