package harmonyClient

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/zabeloliver/harmony-exporter/harmony-api/harmonyHbus"
	"github.com/zabeloliver/harmony-exporter/harmony-api/harmonyStructs"
)

const (
	DefaultPort              = 8088
	DefaultConnectTimeout    = 10 * time.Second
	DefaultSendTimeout       = 30 * time.Second
	DefaultHeartbeatInterval = 50 * time.Second
)

type HarmonyClient struct {
	Host              string
	port              int
	connectTimeout    time.Duration
	sendTimeout       time.Duration
	heartbeatInterval time.Duration
	httpClient        *http.Client
	events            *Events
	logger            *zap.SugaredLogger

	mu      sync.Mutex
	session *Session
}

func NewHarmonyClient(host string, logger *zap.SugaredLogger) *HarmonyClient {
	return &HarmonyClient{
		Host:              host,
		port:              DefaultPort,
		connectTimeout:    DefaultConnectTimeout,
		sendTimeout:       DefaultSendTimeout,
		heartbeatInterval: DefaultHeartbeatInterval,
		httpClient:        &http.Client{},
		events:            NewEvents(),
		logger:            logger,
	}
}

// The setters only affect sessions created by a later Connect.

func (c *HarmonyClient) SetPort(port int) {
	c.port = port
}

func (c *HarmonyClient) SetConnectTimeout(timeout time.Duration) {
	c.connectTimeout = timeout
}

func (c *HarmonyClient) SetSendTimeout(timeout time.Duration) {
	c.sendTimeout = timeout
}

func (c *HarmonyClient) SetHeartbeatInterval(interval time.Duration) {
	c.heartbeatInterval = interval
}

// Subscribe forwards to the client's event hub. Subscriptions outlive
// individual sessions.
func (c *HarmonyClient) Subscribe(types ...EventType) *Subscription {
	return c.events.Subscribe(types...)
}

func (c *HarmonyClient) hubAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.port))
}

// Connect opens a session, starting a new one if there is none or the
// previous one is closed. A connect already in flight is joined.
func (c *HarmonyClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.session == nil || c.session.State() == StateClosed {
		c.session = newSession(sessionOptions{
			hubAddr:           c.hubAddr(),
			connectTimeout:    c.connectTimeout,
			sendTimeout:       c.sendTimeout,
			heartbeatInterval: c.heartbeatInterval,
			httpClient:        c.httpClient,
			dialer:            &websocket.Dialer{HandshakeTimeout: c.connectTimeout},
		}, c.events, c.logger)
	}
	s := c.session
	c.mu.Unlock()

	return s.Open(ctx)
}

// ensureOpen makes sure the current session is open before a request.
// It connects lazily on first use but never revives a closed session.
func (c *HarmonyClient) ensureOpen(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()

	if s == nil {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		c.mu.Lock()
		s = c.session
		c.mu.Unlock()
		return s, nil
	}
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (c *HarmonyClient) IsOpen() bool {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	return s != nil && s.IsOpen()
}

// Close closes the current session. Safe to call repeatedly.
func (c *HarmonyClient) Close() {
	c.mu.Lock()
	s := c.session
	if s == nil {
		s = newSession(sessionOptions{}, c.events, c.logger)
		c.session = s
	}
	c.mu.Unlock()
	s.Close()
}

// Request sends a raw hub verb and returns the correlated reply.
func (c *HarmonyClient) Request(ctx context.Context, cmd string, params any) (*harmonyHbus.Message, error) {
	s, err := c.ensureOpen(ctx)
	if err != nil {
		return nil, err
	}
	env := harmonyHbus.NewEnvelope(s.Identity().RemoteId, cmd, params)
	c.logger.Debug("Hub request: ", cmd)
	return s.Request(ctx, env)
}

func (c *HarmonyClient) GetCapabilities(ctx context.Context) (*harmonyHbus.Message, error) {
	s, err := c.ensureOpen(ctx)
	if err != nil {
		return nil, err
	}
	remoteId := s.Identity().RemoteId
	return c.Request(ctx, harmonyHbus.CmdProxyResource, map[string]any{
		"uri": fmt.Sprintf("harmony://Account/%s/CapabilityList", remoteId),
	})
}

func (c *HarmonyClient) GetConfig(ctx context.Context) (*harmonyHbus.Message, error) {
	return c.Request(ctx, harmonyHbus.CmdConfig, map[string]any{
		"verb":   "get",
		"format": "json",
	})
}

func (c *HarmonyClient) GetAutomationConfig(ctx context.Context) (*harmonyHbus.Message, error) {
	return c.Request(ctx, harmonyHbus.CmdProxyResource, map[string]any{
		"uri": "dynamite://HomeAutomationService/Config/",
	})
}

// config fetches and decodes the parts of the configuration the derived
// queries need.
func (c *HarmonyClient) config(ctx context.Context) (*harmonyStructs.Config, error) {
	reply, err := c.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	if len(reply.Data) == 0 {
		return nil, fmt.Errorf("%w: config reply without data", ErrProtocol)
	}
	cfg := &harmonyStructs.Config{}
	if err := json.Unmarshal(reply.Data, cfg); err != nil {
		return nil, fmt.Errorf("%w: config: %v", ErrProtocol, err)
	}
	return cfg, nil
}

func (c *HarmonyClient) GetActivities(ctx context.Context) ([]harmonyStructs.ActivitySummary, error) {
	cfg, err := c.config(ctx)
	if err != nil {
		return nil, err
	}
	activities := make([]harmonyStructs.ActivitySummary, 0, len(cfg.Activity))
	for _, a := range cfg.Activity {
		activities = append(activities, harmonyStructs.ActivitySummary{Id: a.Id, Label: a.Label})
	}
	c.logger.Info("Get List of Activities: ", len(activities))
	return activities, nil
}

// GetCurrentActivity returns the id of the running activity, "-1" when the
// hub is off.
func (c *HarmonyClient) GetCurrentActivity(ctx context.Context) (string, error) {
	reply, err := c.Request(ctx, harmonyHbus.CmdCurrentActivity, map[string]any{
		"verb":   "get",
		"format": "json",
	})
	if err != nil {
		return "", err
	}
	var data struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(reply.Data, &data); err != nil {
		return "", fmt.Errorf("%w: current activity: %v", ErrProtocol, err)
	}
	id, ok := harmonyHbus.ScalarString(data.Result)
	if !ok {
		return "", fmt.Errorf("%w: current activity reply without result", ErrProtocol)
	}
	return id, nil
}

func (c *HarmonyClient) StartActivity(ctx context.Context, activityId string) (*harmonyHbus.Message, error) {
	c.logger.Info("Starting activity ", activityId)
	return c.Request(ctx, harmonyHbus.CmdRunActivity, map[string]any{
		"async":     "true",
		"timestamp": 0,
		"args": map[string]any{
			"rule": "start",
		},
		"activityId": activityId,
	})
}

func (c *HarmonyClient) GetActivityCommands(ctx context.Context, activityId string) ([]harmonyStructs.Command, error) {
	cfg, err := c.config(ctx)
	if err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(cfg.Activity, func(a harmonyStructs.Activity) bool { return a.Id == activityId })
	if idx == -1 {
		return nil, fmt.Errorf("%w: %s", ErrActivityNotFound, activityId)
	}
	return flattenCommands(cfg.Activity[idx].ControlGroup)
}

// GetDevices returns the devices that expose at least one control group.
func (c *HarmonyClient) GetDevices(ctx context.Context) ([]harmonyStructs.Device, error) {
	cfg, err := c.config(ctx)
	if err != nil {
		return nil, err
	}
	devices := make([]harmonyStructs.Device, 0, len(cfg.Device))
	for _, d := range cfg.Device {
		if len(d.ControlGroup) > 0 {
			devices = append(devices, d)
		}
	}
	c.logger.Info("Get List of Devices: ", len(devices))
	return devices, nil
}

func (c *HarmonyClient) GetDeviceCommands(ctx context.Context, deviceId string) ([]harmonyStructs.Command, error) {
	cfg, err := c.config(ctx)
	if err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(cfg.Device, func(d harmonyStructs.Device) bool { return d.Id == deviceId })
	if idx == -1 {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceId)
	}
	return flattenCommands(cfg.Device[idx].ControlGroup)
}

func flattenCommands(groups []harmonyStructs.ControlGroup) ([]harmonyStructs.Command, error) {
	commands := []harmonyStructs.Command{}
	for _, g := range groups {
		for _, fn := range g.Function {
			if !json.Valid([]byte(fn.Action)) {
				return nil, fmt.Errorf("%w: function %q has malformed action", ErrProtocol, fn.Label)
			}
			commands = append(commands, harmonyStructs.Command{
				Action: json.RawMessage(fn.Action),
				Label:  fn.Label,
			})
		}
	}
	return commands, nil
}

func (c *HarmonyClient) GetAutomationCommands(ctx context.Context) (*harmonyHbus.Message, error) {
	return c.Request(ctx, harmonyHbus.CmdAutomationState, map[string]any{
		"format":      "json",
		"forceUpdate": true,
	})
}

// SendCommand presses and releases action in one hub call. action is the
// JSON encoded action string of a function.
func (c *HarmonyClient) SendCommand(ctx context.Context, action string) (*harmonyHbus.Message, error) {
	return c.Request(ctx, harmonyHbus.CmdHoldAction, holdParams("pressrelease", "0", action))
}

// SendCommandWithDelay presses action, holds it and releases it. The hub
// answers neither half so the acknowledgement is built locally.
func (c *HarmonyClient) SendCommandWithDelay(ctx context.Context, action string, hold time.Duration) (*harmonyHbus.Message, error) {
	s, err := c.ensureOpen(ctx)
	if err != nil {
		return nil, err
	}
	remoteId := s.Identity().RemoteId

	press := harmonyHbus.NewEnvelope(remoteId, harmonyHbus.CmdHoldAction, holdParams("press", "0", action))
	if _, err := s.Send(press); err != nil {
		return nil, err
	}

	t := time.NewTimer(hold)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	timestamp := strconv.FormatInt(hold.Milliseconds(), 10)
	release := harmonyHbus.NewEnvelope(remoteId, harmonyHbus.CmdHoldAction, holdParams("release", timestamp, action))
	id, err := s.Send(release)
	if err != nil {
		return nil, err
	}
	return harmonyHbus.Ack(harmonyHbus.CmdHoldAction, id), nil
}

func holdParams(status string, timestamp string, action string) map[string]any {
	return map[string]any{
		"status":    status,
		"timestamp": timestamp,
		"verb":      "render",
		"action":    action,
	}
}

func (c *HarmonyClient) SendAutomationCommand(ctx context.Context, state map[string]any) (*harmonyHbus.Message, error) {
	st := make(map[string]any, len(state))
	for k, v := range state {
		st[k] = v
	}
	return c.Request(ctx, harmonyHbus.CmdAutomationSetState, map[string]any{"state": st})
}
