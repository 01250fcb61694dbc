// Package bridge exposes vacuums to Home Assistant over MQTT using the
// vacuum integration's state schema and discovery protocol.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MrSco/ha-eufy-robovac-s1-pro/internal/robovac"
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"

	// Command sequences run for a few seconds of settle delays; room
	// cleaning is the longest at roughly six.
	commandTimeout = 30 * time.Second
)

// Config selects the broker and the topic layout.
type Config struct {
	Broker          string
	Username        string
	Password        string
	ClientID        string
	DiscoveryPrefix string
	TopicRoot       string
}

// Bridge connects a set of vacuums to one broker. Discovery configs and
// availability are republished on every (re)connect.
type Bridge struct {
	cfg     Config
	logger  *zap.Logger
	client  *mqttClient
	vacuums []*robovac.Vacuum
}

func New(cfg Config, vacuums []*robovac.Vacuum, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{cfg: cfg, logger: logger, vacuums: vacuums}
}

// Connect dials the broker, announces every vacuum, and subscribes to
// their command topics. Paho retries the connection itself afterwards.
// The client is assigned before the dial goes out: paho runs OnConnect
// on its own goroutine, and announce must never observe a nil client.
func (b *Bridge) Connect() error {
	b.client = newMQTTClient(mqttClientConfig{
		broker:    b.cfg.Broker,
		clientID:  b.cfg.ClientID,
		username:  b.cfg.Username,
		password:  b.cfg.Password,
		willTopic: b.availabilityTopic(),
		onConnect: b.announce,
	})
	if err := b.client.connect(); err != nil {
		return fmt.Errorf("connect mqtt broker: %w", err)
	}

	for _, v := range b.vacuums {
		if err := b.subscribeCommands(v); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bridge) announce() {
	if b.client == nil {
		return
	}
	if err := b.client.publish(b.availabilityTopic(), []byte(payloadOnline), true); err != nil {
		b.logger.Warn("availability publish failed", zap.Error(err))
	}
	for _, v := range b.vacuums {
		payload, err := b.discoveryPayload(v)
		if err != nil {
			b.logger.Error("discovery payload failed", zap.String("device_id", v.DeviceID()), zap.Error(err))
			continue
		}
		if err := b.client.publish(b.discoveryTopic(v), payload, true); err != nil {
			b.logger.Warn("discovery publish failed", zap.String("device_id", v.DeviceID()), zap.Error(err))
		}
		b.PublishState(v)
	}
}

// PublishState pushes the vacuum's current snapshot to its state topic.
func (b *Bridge) PublishState(v *robovac.Vacuum) {
	if b.client == nil {
		return
	}
	payload, err := json.Marshal(stateMessage(v))
	if err != nil {
		b.logger.Error("state payload failed", zap.String("device_id", v.DeviceID()), zap.Error(err))
		return
	}
	if err := b.client.publish(b.stateTopic(v), payload, true); err != nil {
		b.logger.Warn("state publish failed", zap.String("device_id", v.DeviceID()), zap.Error(err))
	}
}

// Close marks the bridge offline and disconnects.
func (b *Bridge) Close() {
	if b.client == nil {
		return
	}
	_ = b.client.publish(b.availabilityTopic(), []byte(payloadOffline), true)
	b.client.disconnect()
}

func (b *Bridge) subscribeCommands(v *robovac.Vacuum) error {
	subs := map[string]func([]byte){
		b.commandTopic(v):     func(p []byte) { b.handleCommand(v, string(p)) },
		b.fanSpeedTopic(v):    func(p []byte) { b.handleFanSpeed(v, string(p)) },
		b.sendCommandTopic(v): func(p []byte) { b.handleSendCommand(v, p) },
	}
	for topic, cb := range subs {
		if _, err := b.client.subscribe(topic, cb); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	return nil
}

// Paho delivers messages on its network goroutine; handlers run the
// multi-second command sequences on their own.
func (b *Bridge) handleCommand(v *robovac.Vacuum, command string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		logger := b.logger.With(zap.String("device_id", v.DeviceID()), zap.String("command", command))
		var err error
		switch command {
		case "start":
			err = v.Start(ctx)
		case "pause":
			err = v.Pause(ctx)
		case "stop":
			err = v.Stop(ctx)
		case "return_to_base", "return_home":
			err = v.ReturnToDock(ctx)
		default:
			logger.Warn("unrecognized command payload")
			return
		}
		if err != nil {
			logger.Error("command failed", zap.Error(err))
			return
		}
		b.PublishState(v)
	}()
}

func (b *Bridge) handleFanSpeed(v *robovac.Vacuum, level string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		logger := b.logger.With(zap.String("device_id", v.DeviceID()), zap.String("fan_speed", level))
		if err := v.SetFanSpeed(ctx, robovac.FanSpeed(level)); err != nil {
			logger.Error("set fan speed failed", zap.Error(err))
			return
		}
		b.PublishState(v)
	}()
}

func (b *Bridge) handleSendCommand(v *robovac.Vacuum, payload []byte) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		logger := b.logger.With(zap.String("device_id", v.DeviceID()))
		var msg struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil || msg.Command == "" {
			logger.Warn("undecodable send_command payload", zap.ByteString("payload", payload))
			return
		}
		params := map[string]any{}
		if err := json.Unmarshal(payload, &params); err == nil {
			delete(params, "command")
		}

		if err := v.Command(ctx, msg.Command, params); err != nil {
			logger.Error("send_command failed", zap.String("command", msg.Command), zap.Error(err))
			return
		}
		b.PublishState(v)
	}()
}

type statePayload struct {
	State        string `json:"state"`
	BatteryLevel *int   `json:"battery_level,omitempty"`
	FanSpeed     string `json:"fan_speed,omitempty"`
	Substatus    string `json:"substatus,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
}

func stateMessage(v *robovac.Vacuum) statePayload {
	status := v.Status()
	msg := statePayload{
		State:     haState(status.State),
		Substatus: status.Substatus,
		ErrorCode: status.ErrorCode,
	}
	if status.BatteryKnown {
		battery := status.Battery
		msg.BatteryLevel = &battery
	}
	if status.FanSpeedKnown {
		msg.FanSpeed = string(status.FanSpeed)
	}
	return msg
}

// haState maps decoded states onto the vacuum integration's state set.
// Unknown is reported as idle so the entity stays usable while the
// device is quiet.
func haState(state robovac.State) string {
	switch state {
	case robovac.StateCleaning, robovac.StateRoomCleaning:
		return "cleaning"
	case robovac.StatePaused:
		return "paused"
	case robovac.StateReturning:
		return "returning"
	case robovac.StateDocked:
		return "docked"
	case robovac.StateError:
		return "error"
	default:
		return "idle"
	}
}

func (b *Bridge) discoveryPayload(v *robovac.Vacuum) ([]byte, error) {
	speeds := robovac.FanSpeeds()
	fanSpeedList := make([]string, len(speeds))
	for i, s := range speeds {
		fanSpeedList[i] = string(s)
	}

	cfg := map[string]any{
		"name":      v.Name(),
		"unique_id": v.DeviceID(),
		"schema":    "state",
		"supported_features": []string{
			"start", "pause", "stop", "return_home",
			"battery", "status", "fan_speed", "send_command",
		},
		"state_topic":         b.stateTopic(v),
		"command_topic":       b.commandTopic(v),
		"set_fan_speed_topic": b.fanSpeedTopic(v),
		"send_command_topic":  b.sendCommandTopic(v),
		"fan_speed_list":      fanSpeedList,
		"availability_topic":  b.availabilityTopic(),
		"device": map[string]any{
			"identifiers":  []string{v.DeviceID()},
			"name":         v.Name(),
			"manufacturer": "eufy",
			"model":        "Robovac S1 Pro",
		},
	}
	return json.Marshal(cfg)
}

func (b *Bridge) availabilityTopic() string {
	return fmt.Sprintf("%s/bridge/availability", b.cfg.TopicRoot)
}

func (b *Bridge) discoveryTopic(v *robovac.Vacuum) string {
	return fmt.Sprintf("%s/vacuum/%s/config", b.cfg.DiscoveryPrefix, v.DeviceID())
}

func (b *Bridge) stateTopic(v *robovac.Vacuum) string {
	return fmt.Sprintf("%s/%s/state", b.cfg.TopicRoot, v.DeviceID())
}

func (b *Bridge) commandTopic(v *robovac.Vacuum) string {
	return fmt.Sprintf("%s/%s/command", b.cfg.TopicRoot, v.DeviceID())
}

func (b *Bridge) fanSpeedTopic(v *robovac.Vacuum) string {
	return fmt.Sprintf("%s/%s/fan_speed/set", b.cfg.TopicRoot, v.DeviceID())
}

func (b *Bridge) sendCommandTopic(v *robovac.Vacuum) string {
	return fmt.Sprintf("%s/%s/send_command", b.cfg.TopicRoot, v.DeviceID())
}
