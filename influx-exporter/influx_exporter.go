package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/spf13/viper"

	"github.com/zabeloliver/harmony-exporter/harmony-api/harmonyClient"
	"github.com/zabeloliver/harmony-exporter/harmony-api/harmonyStructs"
)

type ActivityLabelMap map[string]string

// tagValue makes a label safe for an unquoted line-protocol tag.
func tagValue(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.NewReplacer(" ", "_", ",", "_", "=", "_").Replace(s)
}

// eventLine renders a hub notification as a line-protocol point. ok is
// false for notifications that are not recorded.
func eventLine(ev harmonyClient.Event, labels ActivityLabelMap, ts time.Time) (line string, ok bool, err error) {
	switch ev.Type {
	case harmonyClient.EventActivityStarted:
		started := harmonyStructs.ActivityStarted{}
		if err := json.Unmarshal(ev.Message.Data, &started); err != nil {
			return "", false, err
		}
		line = fmt.Sprintf("harmony_activityStarted,activityId=%s,label=%s started=1u",
			tagValue(started.ActivityId), tagValue(labels[started.ActivityId]))
	case harmonyClient.EventStateDigest:
		digest := harmonyStructs.StateDigest{}
		if err := json.Unmarshal(ev.Message.Data, &digest); err != nil {
			return "", false, err
		}
		if digest.ActivityId == "" {
			return "", false, nil
		}
		line = fmt.Sprintf("harmony_stateDigest,activityId=%s,label=%s status=%di",
			tagValue(digest.ActivityId), tagValue(labels[digest.ActivityId]), digest.ActivityStatus)
	default:
		return "", false, nil
	}
	// add Timestamp to line
	line += " " + fmt.Sprint(ts.UTC().UnixNano())
	return line, true, nil
}

func writeEvents(ctx context.Context, events <-chan harmonyClient.Event, labels ActivityLabelMap, writer api.WriteAPIBlocking) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == harmonyClient.EventClose {
				sugar.Warn("Hub session closed: ", ev.Err)
				return
			}
			line, ok, err := eventLine(ev, labels, time.Now())
			if err != nil {
				sugar.Error(err)
				continue
			}
			if !ok {
				continue
			}
			sugar.Info(line)
			if err := writer.WriteRecord(ctx, line); err != nil {
				sugar.Error(err)
			}
		}
	}
}

var (
	sugar      *zap.SugaredLogger
	configPath string
)

func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{
		"stdout", "harmony_influx_exporter.log",
	}
	return cfg.Build()
}

func initConfig() {
	// set defaults
	viper.SetDefault("harmony.host", "localhost")
	viper.SetDefault("harmony.port", harmonyClient.DefaultPort)
	viper.SetDefault("harmony.connecttimeout", harmonyClient.DefaultConnectTimeout)
	viper.SetDefault("harmony.sendtimeout", harmonyClient.DefaultSendTimeout)
	viper.SetDefault("influxdb.host", "http://localhost:8086")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("harmony")
	viper.SetConfigType("yaml")
	cfg, err := os.ReadFile(configPath)
	if err != nil {
		sugar.Info("No configuration file found. Using Default config")
	}
	err = viper.ReadConfig(bytes.NewBuffer(cfg)) // Find and read the config file
	if err != nil {                              // Handle errors reading the config file
		sugar.Errorf("Error while reading config file: %v. Using Default config", err)
	}
	sugar.Infof("Configuration from %v", viper.AllSettings())
}

func initLogger() {
	logger, _ := NewLogger()
	sugar = logger.Sugar()
}

func initCliFlags() {
	flag.StringVar(&configPath, "configFile", "config.yaml", "Path to the config.yaml File.")
	flag.Parse()
}

func main() {
	initLogger()
	defer sugar.Sync() // flushes buffer, if any
	initCliFlags()
	initConfig()

	sugar.Info("Starting Influx-Exporter")
	client := harmonyClient.NewHarmonyClient(viper.GetString("harmony.host"), sugar)
	client.SetPort(viper.GetInt("harmony.port"))
	client.SetConnectTimeout(viper.GetDuration("harmony.connecttimeout"))
	client.SetSendTimeout(viper.GetDuration("harmony.sendtimeout"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sub := client.Subscribe(harmonyClient.EventActivityStarted, harmonyClient.EventStateDigest, harmonyClient.EventClose)
	defer sub.Close()

	if err := client.Connect(ctx); err != nil {
		sugar.Fatal(err)
	}
	defer client.Close()

	activities, err := client.GetActivities(ctx)
	if err != nil {
		sugar.Fatal(err)
	}
	labels := make(ActivityLabelMap)
	for _, a := range activities {
		labels[a.Id] = a.Label
	}

	// Create a new client using an InfluxDB server base URL and an authentication token
	influxClient := influxdb2.NewClient(viper.GetString("influxdb.host"), viper.GetString("influxdb.token"))
	defer influxClient.Close()
	// Use blocking write client for writes to desired bucket
	influxApi := influxClient.WriteAPIBlocking(viper.GetString("influxdb.org"), viper.GetString("influxdb.bucket"))

	writeEvents(ctx, sub.C, labels, influxApi)
	sugar.Info("Influx-Exporter stopped")
}
