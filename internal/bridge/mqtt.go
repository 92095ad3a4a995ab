package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/playrelay/internal/audit"
	"github.com/nerrad567/playrelay/internal/infrastructure/mqtt"
	"github.com/nerrad567/playrelay/internal/playback"
	"github.com/nerrad567/playrelay/internal/relay"
)

// auditTimeout bounds the audit write for one MQTT command.
const auditTimeout = 2 * time.Second

// mqttActor is recorded as the actor of commands received over MQTT.
const mqttActor = "mqtt"

// Logger defines the logging interface used by the bridges.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MQTTClient is the subset of *mqtt.Client the bridge uses.
// This allows mocking in tests.
type MQTTClient interface {
	PublishAsync(topic string, payload []byte, retained bool) error
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Topics() mqtt.Topics
	QoS() byte
}

// Executor runs commands. Satisfied by *relay.Broadcaster.
type Executor interface {
	Execute(ctx context.Context, cmd relay.Command) (relay.Result, error)
}

// StateSource provides the playback snapshot. Satisfied by *playback.State.
type StateSource interface {
	Snapshot() playback.Snapshot
}

// MQTTBridge mirrors relay events to MQTT and accepts commands from it.
//
// Thread Safety: All methods are safe for concurrent use.
type MQTTBridge struct {
	client MQTTClient
	exec   Executor
	state  StateSource
	audit  audit.Repository

	mu      sync.Mutex
	ctx     context.Context
	started bool

	logger Logger
}

// NewMQTTBridge creates a bridge. Call Start to accept commands and attach
// the bridge to a broadcaster with AddListener to mirror events.
func NewMQTTBridge(client MQTTClient, exec Executor, state StateSource) *MQTTBridge {
	return &MQTTBridge{
		client: client,
		exec:   exec,
		state:  state,
		audit:  audit.NopRepository{},
		ctx:    context.Background(),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the bridge.
func (b *MQTTBridge) SetLogger(logger Logger) {
	b.logger = logger
}

// SetAuditRepository records MQTT commands in repo.
func (b *MQTTBridge) SetAuditRepository(repo audit.Repository) {
	if repo == nil {
		repo = audit.NopRepository{}
	}
	b.audit = repo
}

// Start subscribes to the command topics and publishes the retained state.
// Commands are executed under ctx until Stop is called.
func (b *MQTTBridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	b.ctx = ctx
	b.started = true
	b.mu.Unlock()

	topics := b.client.Topics()
	if err := b.client.Subscribe(topics.AllCommands(), b.client.QoS(), b.handleCommand); err != nil {
		b.mu.Lock()
		b.started = false
		b.mu.Unlock()
		return fmt.Errorf("subscribing to %s: %w", topics.AllCommands(), err)
	}

	b.publishInitialState()
	b.logger.Info("mqtt bridge started", "commands", topics.AllCommands(), "events", topics.AllEvents())
	return nil
}

// Stop unsubscribes from the command topics.
func (b *MQTTBridge) Stop() error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	b.mu.Unlock()

	if err := b.client.Unsubscribe(b.client.Topics().AllCommands()); err != nil {
		return fmt.Errorf("unsubscribing commands: %w", err)
	}
	return nil
}

// OnBroadcast mirrors env to <prefix>/event/<event>. Events that can change
// the playback snapshot also refresh the retained state topic.
func (b *MQTTBridge) OnBroadcast(env relay.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		b.logger.Warn("mqtt mirror encode failed", "event", env.Event, "error", err)
		return
	}

	if err := b.client.PublishAsync(b.client.Topics().Event(env.Event), data, false); err != nil {
		b.logger.Debug("mqtt mirror skipped", "event", env.Event, "error", err)
		return
	}

	if changesState(env.Event) {
		b.publishState()
	}
}

func changesState(event string) bool {
	switch event {
	case relay.EventStateChanged, relay.EventControllerActivity:
		return true
	}
	volumeEvent, _ := relay.EventFor(relay.CmdVolume)
	return event == volumeEvent
}

// publishInitialState waits for the broker to acknowledge the first retained
// snapshot so late subscribers never see an older retained value.
func (b *MQTTBridge) publishInitialState() {
	data, err := json.Marshal(b.state.Snapshot())
	if err != nil {
		return
	}
	if err := b.client.PublishRetained(b.client.Topics().State(), data); err != nil {
		b.logger.Warn("mqtt initial state publish failed", "error", err)
	}
}

func (b *MQTTBridge) publishState() {
	data, err := json.Marshal(b.state.Snapshot())
	if err != nil {
		return
	}
	if err := b.client.PublishAsync(b.client.Topics().State(), data, true); err != nil {
		b.logger.Debug("mqtt state publish skipped", "error", err)
	}
}

// handleCommand executes one message from <prefix>/command/<command>.
// Returned errors are logged by the MQTT client.
func (b *MQTTBridge) handleCommand(topic string, payload []byte) error {
	name, ok := b.client.Topics().CommandName(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotCommandTopic, topic)
	}

	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()

	cmd := relay.Command{
		Name:   name,
		Value:  decodeValue(payload),
		Source: relay.SourceMQTT,
		Actor:  mqttActor,
	}
	res, err := b.exec.Execute(ctx, cmd)
	b.record(ctx, res, err)
	if err != nil {
		return fmt.Errorf("executing %s: %w", name, err)
	}
	if res.Ignored {
		b.logger.Warn("unknown mqtt command ignored", "command", name)
	}
	return nil
}

// decodeValue accepts a JSON document ({"url": ...}, {"level": n}, 40, "...")
// or, failing that, the raw text so plain URLs can be published unquoted.
func decodeValue(payload []byte) any {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		return v
	}
	return text
}

func (b *MQTTBridge) record(ctx context.Context, res relay.Result, execErr error) {
	if res.Ignored {
		return
	}

	details := map[string]any{"recipients": res.Recipients}
	if res.Event != "" {
		details["event"] = res.Event
	}
	if execErr != nil {
		details["error"] = execErr.Error()
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()

	err := b.audit.Create(auditCtx, &audit.AuditLog{
		Action:     audit.ActionCommand,
		EntityType: audit.EntityCommand,
		EntityID:   res.Command,
		Actor:      mqttActor,
		Source:     string(relay.SourceMQTT),
		Success:    execErr == nil,
		Details:    details,
	})
	if err != nil {
		b.logger.Warn("audit write failed", "command", res.Command, "error", err)
	}
}
