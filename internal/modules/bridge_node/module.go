package bridgenode

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mikey-austin/media_bridge/internal/adapters/clock"
	"github.com/mikey-austin/media_bridge/internal/bridge"
	"github.com/mikey-austin/media_bridge/internal/ports"
	"github.com/mikey-austin/media_bridge/pkg/mb"
)

// Facade is the bridge surface exposed over MQTT.
type Facade interface {
	GetAddons() string
	GetLibrary(ctx context.Context) string
	Search(ctx context.Context, query string) string
	GetAddonCatalog(ctx context.Context, addonID string) string
	InvokeAddon(ctx context.Context, addonID string, method string, argsText string) string
	DispatchAction(ctx context.Context, action string, payloadText string) string
	GetSkipIntroData(ctx context.Context, itemID string, durationMS int64) string
	Stats() bridge.Stats
}

// Client is the MQTT connection used by the node.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler paho.MessageHandler) error
	Unsubscribe(topic string) error
}

// Config configures the bridge node.
type Config struct {
	NodeID        string
	TopicBase     string
	Name          string
	StatsInterval time.Duration
	Clock         ports.Clock
}

// Module answers bridge commands arriving on the node command topic.
type Module struct {
	log      *zap.Logger
	client   Client
	bridge   Facade
	config   Config
	cmdTopic string

	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup
}

// NewModule creates a bridge node.
func NewModule(log *zap.Logger, client Client, facade Facade, cfg Config) (*Module, error) {
	if client == nil {
		return nil, errors.New("mqtt client required")
	}
	if facade == nil {
		return nil, errors.New("bridge required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(cfg.NodeID) == "" {
		cfg.NodeID = "mb:bridge:main"
	}
	if strings.TrimSpace(cfg.TopicBase) == "" {
		cfg.TopicBase = mb.BaseTopic
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "Media Bridge"
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Clock{}
	}

	return &Module{
		log:      log,
		client:   client,
		bridge:   facade,
		config:   cfg,
		cmdTopic: mb.TopicCommands(cfg.TopicBase, cfg.NodeID),
	}, nil
}

// Run publishes presence and serves commands until ctx is done. In-flight
// commands finish before Run returns.
func (m *Module) Run(ctx context.Context) error {
	if err := m.publishPresence(); err != nil {
		return err
	}

	m.mu.Lock()
	m.closing = false
	m.mu.Unlock()

	handler := func(_ paho.Client, msg paho.Message) {
		if !m.track() {
			m.log.Debug("dropping command after shutdown", zap.String("topic", msg.Topic()))
			return
		}
		payload := msg.Payload()
		go func() {
			defer m.inflight.Done()
			m.handleMessage(ctx, payload)
		}()
	}
	if err := m.client.Subscribe(m.cmdTopic, 1, handler); err != nil {
		return err
	}

	var tick <-chan time.Time
	if m.config.StatsInterval > 0 {
		ticker := time.NewTicker(m.config.StatsInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			m.drain()
			return nil
		case <-tick:
			m.publishStats()
		}
	}
}

// track registers an in-flight command unless the node is draining.
func (m *Module) track() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return false
	}
	m.inflight.Add(1)
	return true
}

// drain stops new commands, unsubscribes and waits for in-flight ones.
func (m *Module) drain() {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()
	if err := m.client.Unsubscribe(m.cmdTopic); err != nil {
		m.log.Warn("unsubscribe commands", zap.String("topic", m.cmdTopic), zap.Error(err))
	}
	m.inflight.Wait()
}

func (m *Module) publishPresence() error {
	presence := mb.Presence{
		NodeID: m.config.NodeID,
		Kind:   "bridge",
		Name:   m.config.Name,
		Caps: map[string]any{
			"addons":    true,
			"library":   true,
			"search":    true,
			"actions":   true,
			"skipIntro": true,
		},
		TS: m.config.Clock.NowUnix(),
	}
	payload, err := json.Marshal(presence)
	if err != nil {
		return err
	}
	return m.client.Publish(mb.TopicPresence(m.config.TopicBase, m.config.NodeID), 1, true, payload)
}

type statsEvent struct {
	Type  string       `json:"type"`
	TS    int64        `json:"ts"`
	Stats bridge.Stats `json:"stats"`
}

func (m *Module) publishStats() {
	payload, err := json.Marshal(statsEvent{Type: "bridge.stats", TS: m.config.Clock.NowUnix(), Stats: m.bridge.Stats()})
	if err != nil {
		m.log.Error("marshal stats", zap.Error(err))
		return
	}
	if err := m.client.Publish(mb.TopicEvents(m.config.TopicBase, m.config.NodeID), 0, false, payload); err != nil {
		m.log.Warn("publish stats", zap.Error(err))
	}
}

func (m *Module) handleMessage(ctx context.Context, payload []byte) {
	var cmd mb.CommandEnvelope
	if err := json.Unmarshal(payload, &cmd); err != nil {
		m.log.Warn("invalid command", zap.Error(err))
		return
	}

	var reply mb.ReplyEnvelope
	if err := mb.ValidateCommandEnvelope(cmd); err != nil {
		reply = m.errorReply(cmd, "INVALID", err.Error())
	} else {
		reply = m.dispatch(ctx, cmd)
	}
	if cmd.ReplyTo == "" {
		return
	}
	out, err := json.Marshal(reply)
	if err != nil {
		m.log.Error("marshal reply", zap.Error(err))
		return
	}
	if err := m.client.Publish(cmd.ReplyTo, 1, false, out); err != nil {
		m.log.Error("publish reply", zap.Error(err))
	}
}

func (m *Module) dispatch(ctx context.Context, cmd mb.CommandEnvelope) mb.ReplyEnvelope {
	switch cmd.Type {
	case mb.CmdGetAddons:
		return m.reply(cmd, m.bridge.GetAddons())
	case mb.CmdGetLibrary:
		return m.reply(cmd, m.bridge.GetLibrary(ctx))
	case mb.CmdSearch:
		return m.search(ctx, cmd)
	case mb.CmdGetAddonCatalog:
		return m.addonCatalog(ctx, cmd)
	case mb.CmdInvokeAddon:
		return m.invokeAddon(ctx, cmd)
	case mb.CmdDispatchAction:
		return m.dispatchAction(ctx, cmd)
	case mb.CmdGetSkipIntroData:
		return m.skipIntro(ctx, cmd)
	default:
		return m.errorReply(cmd, "INVALID", "unsupported command")
	}
}

func (m *Module) search(ctx context.Context, cmd mb.CommandEnvelope) mb.ReplyEnvelope {
	var body mb.SearchBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return m.errorReply(cmd, "INVALID", "invalid body")
	}
	return m.reply(cmd, m.bridge.Search(ctx, body.Query))
}

func (m *Module) addonCatalog(ctx context.Context, cmd mb.CommandEnvelope) mb.ReplyEnvelope {
	var body mb.AddonCatalogBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return m.errorReply(cmd, "INVALID", "invalid body")
	}
	return m.reply(cmd, m.bridge.GetAddonCatalog(ctx, body.AddonID))
}

func (m *Module) invokeAddon(ctx context.Context, cmd mb.CommandEnvelope) mb.ReplyEnvelope {
	var body mb.InvokeAddonBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return m.errorReply(cmd, "INVALID", "invalid body")
	}
	return m.reply(cmd, m.bridge.InvokeAddon(ctx, body.AddonID, body.Method, body.Args))
}

func (m *Module) dispatchAction(ctx context.Context, cmd mb.CommandEnvelope) mb.ReplyEnvelope {
	var body mb.DispatchActionBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return m.errorReply(cmd, "INVALID", "invalid body")
	}
	return m.reply(cmd, m.bridge.DispatchAction(ctx, body.Action, body.Payload))
}

func (m *Module) skipIntro(ctx context.Context, cmd mb.CommandEnvelope) mb.ReplyEnvelope {
	var body mb.SkipIntroBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return m.errorReply(cmd, "INVALID", "invalid body")
	}
	return m.reply(cmd, m.bridge.GetSkipIntroData(ctx, body.ItemID, body.DurationMS))
}

// reply wraps the bridge text verbatim. The envelope OK flag mirrors the
// failure carried inside the text.
func (m *Module) reply(cmd mb.CommandEnvelope, text string) mb.ReplyEnvelope {
	reply := mb.ReplyEnvelope{
		ID:   cmd.ID,
		Type: "ack",
		OK:   true,
		TS:   m.config.Clock.NowUnix(),
		Body: json.RawMessage(text),
	}
	if failure := failureOf(text); failure != nil {
		reply.OK = false
		reply.Err = &mb.ReplyError{Code: failure.Code, Message: failure.Message}
	}
	return reply
}

func (m *Module) errorReply(cmd mb.CommandEnvelope, code string, message string) mb.ReplyEnvelope {
	return mb.ReplyEnvelope{
		ID:   cmd.ID,
		Type: "error",
		OK:   false,
		TS:   m.config.Clock.NowUnix(),
		Err:  &mb.ReplyError{Code: code, Message: message},
	}
}

type outcome struct {
	Error   *mb.ErrorBody `json:"error"`
	OK      *bool         `json:"ok"`
	Success *bool         `json:"success"`
}

// failureOf finds the error body of an encoded failure, invocation result or
// action ack. Lists and successful results yield nil.
func failureOf(text string) *mb.ErrorBody {
	if !strings.HasPrefix(text, "{") {
		return nil
	}
	var out outcome
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil
	}
	failed := out.Error != nil
	if out.OK != nil && !*out.OK {
		failed = true
	}
	if out.Success != nil && !*out.Success {
		failed = true
	}
	if !failed {
		return nil
	}
	if out.Error == nil {
		return &mb.ErrorBody{Code: bridge.CodeAddonFailed, Message: "request failed"}
	}
	return out.Error
}
