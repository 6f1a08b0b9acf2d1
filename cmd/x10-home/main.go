package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"x10-go-home/internal/adapter"
	"x10-go-home/internal/cm11a"
	"x10-go-home/internal/history"
	"x10-go-home/internal/store"
	"x10-go-home/internal/web"
	"x10-go-home/internal/x10"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	Serial struct {
		Port           string        `yaml:"port"`
		Baud           int           `yaml:"baud"`
		MonitoredHouse x10.HouseCode `yaml:"monitored_house"`
	} `yaml:"serial"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path            string `yaml:"path"`
		StatusRetention int    `yaml:"status_retention"`
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	InfluxDB struct {
		Enabled       bool   `yaml:"enabled"`
		URL           string `yaml:"url"`
		Token         string `yaml:"token"`
		Org           string `yaml:"org"`
		Bucket        string `yaml:"bucket"`
		BatchSize     int    `yaml:"batch_size"`
		FlushInterval int    `yaml:"flush_interval"` // seconds
	} `yaml:"influxdb"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Modules    []adapter.ModuleConfig `yaml:"modules"`
	ScriptsDir string                 `yaml:"scripts_dir"`
}

func (c *Config) validate() error {
	if c.Serial.Port == "" {
		return fmt.Errorf("serial.port is required")
	}
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			return fmt.Errorf("influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			return fmt.Errorf("influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}
	return nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("x10-go-home starting", "version", version)

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if cfg.Store.StatusRetention > 0 {
		db.SetStatusRetention(cfg.Store.StatusRetention)
	}

	logger.Info("opening CM11A", "port", cfg.Serial.Port, "baud", cfg.Serial.Baud)
	ctrl, err := cm11a.Open(cfg.Serial.Port, cfg.Serial.Baud, logger)
	if err != nil {
		logger.Error("open controller", "err", err)
		os.Exit(1)
	}
	ctrl.SetMonitoredHouse(cfg.Serial.MonitoredHouse)

	events := adapter.NewEventBus(logger)
	a := adapter.New(ctrl, db, events, logger)

	// History subscribes before Start so device_added events are recorded.
	hist := initHistory(cfg, events, logger)

	a.Start(cfg.Modules)

	// Start automation engine (no-op when built with no_automation tag).
	auto, autoWebOpts := initAutomation(a, cfg, logger)

	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version))
	webOpts = append(webOpts, autoWebOpts...)

	webServer := web.NewServer(a, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(a, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	mqtt.Stop()
	auto.Stop()
	a.Unload()
	hist.Stop()

	logger.Info("goodbye")
}

type historyStopper struct {
	recorder *history.Recorder
}

func (h *historyStopper) Stop() {
	if h.recorder != nil {
		h.recorder.Stop()
	}
}

func initHistory(cfg *Config, events *adapter.EventBus, logger *slog.Logger) *historyStopper {
	if !cfg.InfluxDB.Enabled {
		return &historyStopper{}
	}
	client, err := history.Connect(history.Config{
		Enabled:       cfg.InfluxDB.Enabled,
		URL:           cfg.InfluxDB.URL,
		Token:         cfg.InfluxDB.Token,
		Org:           cfg.InfluxDB.Org,
		Bucket:        cfg.InfluxDB.Bucket,
		BatchSize:     cfg.InfluxDB.BatchSize,
		FlushInterval: cfg.InfluxDB.FlushInterval,
	})
	if err != nil {
		logger.Error("influxdb", "err", err)
		return &historyStopper{}
	}
	client.SetOnError(func(err error) {
		logger.Warn("influxdb write", "err", err)
	})
	rec := history.NewRecorder(client, logger)
	rec.Start(events)
	return &historyStopper{recorder: rec}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 4800
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "x10-home.db"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "x10"
	}
	if cfg.InfluxDB.Bucket == "" {
		cfg.InfluxDB.Bucket = "x10"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

// newLogger builds the process logger. Unknown levels fall back to info.
func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
