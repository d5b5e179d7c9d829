package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/zabeloliver/harmony-exporter/harmony-api/harmonyClient"
)

var (
	sugar      *zap.SugaredLogger
	configPath string
)

func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{
		"stdout", "harmony_exporter.log",
	}
	return cfg.Build()
}

func initLogger() {
	logger, err := NewLogger()
	if err != nil {
		logger = zap.NewExample()
	}
	sugar = logger.Sugar()
}

func initCliFlags() {
	flag.StringVar(&configPath, "configFile", "config.yaml", "Path to the config.yaml File.")
	flag.Parse()
}

// newServer exposes the registry and the session health.
func newServer(reg *prometheus.Registry, client interface{ IsOpen() bool }) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	e.GET("/healthz", func(c echo.Context) error {
		if client.IsOpen() {
			return c.JSON(http.StatusOK, map[string]string{"session": "open"})
		}
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"session": "closed"})
	})
	return e
}

func main() {
	initLogger()
	defer sugar.Sync() // flushes buffer, if any
	initCliFlags()

	cfg, err := loadConfig(viper.New(), configPath)
	if err != nil {
		sugar.Fatal(err)
	}

	sugar.Info("Starting Harmony-Exporter")
	client := harmonyClient.NewHarmonyClient(cfg.Harmony.Host, sugar)
	client.SetPort(cfg.Harmony.Port)
	client.SetConnectTimeout(cfg.Harmony.ConnectTimeout)
	client.SetSendTimeout(cfg.Harmony.SendTimeout)
	client.SetHeartbeatInterval(cfg.Harmony.Heartbeat)

	sugar.Info("Creating Metrics-Registry")
	// Create a non-global registry.
	reg := prometheus.NewRegistry()

	sugar.Info("Registering Metrics")
	reg.MustRegister(collectors.NewBuildInfoCollector())
	reg.MustRegister(collectors.NewGoCollector())
	m := NewMetrics(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sub := client.Subscribe()
	defer sub.Close()
	exp := newExporter(client, m, cfg.Harmony.ReconnectDelay, sugar)
	go exp.run(ctx, sub.C)

	server := newServer(reg, client)
	go func() {
		<-ctx.Done()
		sugar.Info("Catch Keyboard interrupt")
		client.Close()
		server.Close()
	}()

	metricsPath := ":" + cfg.Metrics.Port
	sugar.Infof("Metrics served at: %v", metricsPath)
	if err := server.Start(metricsPath); err != nil && err != http.ErrServerClosed {
		sugar.Fatal(err)
	}
}
