package main

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/zabeloliver/harmony-exporter/harmony-api/harmonyClient"
	"github.com/zabeloliver/harmony-exporter/harmony-api/harmonyStructs"
)

const maxReconnectDelay = 2 * time.Minute

// hubClient is the part of the harmony client the exporter drives.
type hubClient interface {
	Connect(ctx context.Context) error
	IsOpen() bool
	GetActivities(ctx context.Context) ([]harmonyStructs.ActivitySummary, error)
	GetCurrentActivity(ctx context.Context) (string, error)
}

type exporter struct {
	client         hubClient
	metrics        *metrics
	labels         ActivityLabelMap
	reconnectDelay time.Duration
	sessions       int
	sugar          *zap.SugaredLogger
}

func newExporter(client hubClient, m *metrics, reconnectDelay time.Duration, logger *zap.SugaredLogger) *exporter {
	return &exporter{
		client:         client,
		metrics:        m,
		labels:         ActivityLabelMap{},
		reconnectDelay: reconnectDelay,
		sugar:          logger,
	}
}

// run consumes hub events until ctx is done, reconnecting whenever the
// session is lost.
func (e *exporter) run(ctx context.Context, events <-chan harmonyClient.Event) {
	e.connect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.handleEvent(ev)
			if ev.Type == harmonyClient.EventClose && !e.client.IsOpen() {
				e.connect(ctx)
			}
		}
	}
}

// connect retries with doubling delays until a session is open and the
// activity labels are known.
func (e *exporter) connect(ctx context.Context) {
	delay := e.reconnectDelay
	for {
		err := e.refresh(ctx)
		if err == nil {
			return
		}
		e.sugar.Errorf("Hub connect failed: %v (retrying in %v)", err, delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (e *exporter) refresh(ctx context.Context) error {
	if err := e.client.Connect(ctx); err != nil {
		return err
	}

	activities, err := e.client.GetActivities(ctx)
	if err != nil {
		return err
	}
	e.labels = createMapping(activities)
	for _, id := range e.labels.sortedIds() {
		e.sugar.Infof("Activity %s: %s", id, e.labels.label(id))
	}

	current, err := e.client.GetCurrentActivity(ctx)
	if err != nil {
		return err
	}
	e.sugar.Infof("Current activity %s (%s)", current, e.labels.label(current))
	e.metrics.setCurrentActivity(current, e.labels)
	return nil
}

func (e *exporter) handleEvent(ev harmonyClient.Event) {
	switch ev.Type {
	case harmonyClient.EventOpen:
		e.metrics.sessionOpen.Set(1)
		e.sessions++
		if e.sessions > 1 {
			e.metrics.reconnects.Inc()
		}
	case harmonyClient.EventClose:
		e.metrics.sessionOpen.Set(0)
		if ev.Err != nil {
			e.sugar.Warn("Hub session closed: ", ev.Err)
		}
	case harmonyClient.EventStateDigest:
		e.metrics.notifications.WithLabelValues(string(ev.Type)).Inc()
		digest := harmonyStructs.StateDigest{}
		if err := json.Unmarshal(ev.Message.Data, &digest); err != nil {
			e.sugar.Error(err)
			return
		}
		if digest.ActivityId != "" {
			e.metrics.setCurrentActivity(digest.ActivityId, e.labels)
		}
	case harmonyClient.EventActivityStarted:
		e.metrics.notifications.WithLabelValues(string(ev.Type)).Inc()
		started := harmonyStructs.ActivityStarted{}
		if err := json.Unmarshal(ev.Message.Data, &started); err != nil {
			e.sugar.Error(err)
			return
		}
		l := e.labels.label(started.ActivityId)
		e.sugar.Infof("Activity %s (%s) started", started.ActivityId, l)
		e.metrics.activityStarts.WithLabelValues(started.ActivityId, l).Inc()
		e.metrics.setCurrentActivity(started.ActivityId, e.labels)
	default:
		e.metrics.notifications.WithLabelValues(string(ev.Type)).Inc()
	}
}
