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

	"benchlink/internal/dmm"
	"benchlink/internal/gateway"
	"benchlink/internal/mqtt"
	"benchlink/internal/sequence"
	"benchlink/internal/store"
	"benchlink/internal/transport"
	"benchlink/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	Transport struct {
		Type    string `yaml:"type"` // "serial", "tcp" or "simulate"
		Port    string `yaml:"port"`
		Baud    int    `yaml:"baud"`
		Address string `yaml:"address"`
	} `yaml:"transport"`
	Instrument struct {
		Model string `yaml:"model"` // expected model, e.g. "2000"
		Reset bool   `yaml:"reset"`
	} `yaml:"instrument"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	SequencesDir string `yaml:"sequences_dir"`
}

func (c *Config) validate() error {
	switch c.Transport.Type {
	case "serial":
		if c.Transport.Port == "" {
			return fmt.Errorf("transport.port is required for serial")
		}
	case "tcp":
		if c.Transport.Address == "" {
			return fmt.Errorf("transport.address is required for tcp")
		}
	case "simulate":
	default:
		return fmt.Errorf("unknown transport type: %q (supported: serial, tcp, simulate)", c.Transport.Type)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
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

	// Create configured logger.
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("benchlink starting", "version", version)

	// Open store
	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Create instrument driver based on config
	driver, err := createDriver(cfg, logger)
	if err != nil {
		logger.Error("create driver", "err", err)
		os.Exit(1)
	}
	defer driver.Close()

	if err := driver.Initialize(cfg.Instrument.Model, cfg.Instrument.Reset); err != nil {
		logger.Error("initialize instrument", "err", err)
		os.Exit(1)
	}

	events := gateway.NewEventBus(logger)
	gw := gateway.New(driver, db, events, logger)

	// Sequence engine
	seqMgr, err := sequence.NewManager(cfg.SequencesDir)
	if err != nil {
		logger.Error("create sequence manager", "err", err)
		os.Exit(1)
	}
	seqEngine := sequence.NewEngine(gw, seqMgr, logger)

	// Start web server
	webOpts := []web.ServerOption{
		web.WithVersion(version),
		web.WithSequences(seqEngine),
	}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}

	webServer := web.NewServer(gw, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge if enabled
	var bridge *mqtt.Bridge
	if cfg.MQTT.Enabled {
		bridge, err = mqtt.NewBridge(gw, mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, logger)
		if err != nil {
			logger.Error("create mqtt bridge", "err", err)
			os.Exit(1)
		}
		bridge.Start()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if bridge != nil {
		bridge.Stop()
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()

	logger.Info("goodbye")
}

func createDriver(cfg *Config, logger *slog.Logger) (*dmm.Driver, error) {
	switch cfg.Transport.Type {
	case "serial":
		logger.Info("using serial transport", "port", cfg.Transport.Port, "baud", cfg.Transport.Baud)
		tr, err := transport.OpenSerial(cfg.Transport.Port, cfg.Transport.Baud, logger)
		if err != nil {
			return nil, err
		}
		return dmm.New(tr, logger), nil
	case "tcp":
		logger.Info("using tcp transport", "address", cfg.Transport.Address)
		tr, err := transport.DialTCP(cfg.Transport.Address, logger)
		if err != nil {
			return nil, err
		}
		return dmm.New(tr, logger), nil
	case "simulate":
		logger.Info("using simulated instrument")
		return dmm.NewSimulated(logger), nil
	default:
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Transport.Type)
	}
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
	if cfg.Transport.Type == "" {
		cfg.Transport.Type = "serial"
	}
	if cfg.Transport.Baud == 0 {
		cfg.Transport.Baud = 9600
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "benchlink.db"
	}
	if cfg.SequencesDir == "" {
		cfg.SequencesDir = "sequences"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "benchlink"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
