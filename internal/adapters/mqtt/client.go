package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/mikey-austin/media_bridge/internal/adapters/mqttserver"
	"github.com/mikey-austin/media_bridge/pkg/mb"
)

// Options configures the MQTT client.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	TLSCA     string
	TLSCert   string
	TLSKey    string
	TopicBase string
	Timeout   time.Duration
	// PresenceWait bounds how long retained presence is collected.
	PresenceWait time.Duration
}

// Client is an MQTT adapter implementing the Broker port.
type Client struct {
	client       paho.Client
	replyTopic   string
	topicBase    string
	timeout      time.Duration
	presenceWait time.Duration

	mu      sync.Mutex
	pending map[string]chan mb.ReplyEnvelope
}

// NewClient creates and connects an MQTT client.
func NewClient(opts Options) (*Client, error) {
	if opts.TopicBase == "" {
		opts.TopicBase = mb.BaseTopic
	}
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.PresenceWait == 0 {
		opts.PresenceWait = 250 * time.Millisecond
	}

	c := &Client{
		replyTopic:   mb.TopicReply(opts.TopicBase, opts.ClientID),
		topicBase:    opts.TopicBase,
		timeout:      opts.Timeout,
		presenceWait: opts.PresenceWait,
		pending:      map[string]chan mb.ReplyEnvelope{},
	}

	clientOpts := paho.NewClientOptions().AddBroker(opts.BrokerURL)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetConnectTimeout(opts.Timeout)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetOnConnectHandler(func(client paho.Client) {
		token := client.Subscribe(c.replyTopic, 1, c.handleReply)
		token.Wait()
	})

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}

	tlsConfig, err := mqttserver.TLSConfig(opts.TLSCA, opts.TLSCert, opts.TLSKey)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		clientOpts.SetTLSConfig(tlsConfig)
	}

	c.client = paho.NewClient(clientOpts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	// The connect handler runs asynchronously; subscribe before the first
	// command can be answered.
	if token := c.client.Subscribe(c.replyTopic, 1, c.handleReply); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return c, nil
}

// ReplyTopic returns the topic used for replies.
func (c *Client) ReplyTopic() string {
	return c.replyTopic
}

// PublishCommand publishes a command and waits for its reply.
func (c *Client) PublishCommand(ctx context.Context, nodeID string, cmd mb.CommandEnvelope) (mb.ReplyEnvelope, error) {
	replyCh := make(chan mb.ReplyEnvelope, 1)
	c.mu.Lock()
	c.pending[cmd.ID] = replyCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, cmd.ID)
		c.mu.Unlock()
	}()

	if err := c.Send(ctx, nodeID, cmd); err != nil {
		return mb.ReplyEnvelope{}, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return mb.ReplyEnvelope{}, ctx.Err()
	case reply := <-replyCh:
		return reply, nil
	case <-timer.C:
		return mb.ReplyEnvelope{}, errors.New("timeout waiting for reply")
	}
}

// Send publishes a command without waiting for a reply.
func (c *Client) Send(ctx context.Context, nodeID string, cmd mb.CommandEnvelope) error {
	req, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	token := c.client.Publish(mb.TopicCommands(c.topicBase, nodeID), 1, false, req)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		return token.Error()
	}
}

// ListPresence collects retained presence messages.
func (c *Client) ListPresence(ctx context.Context) ([]mb.Presence, error) {
	var mu sync.Mutex
	collect := make(map[string]mb.Presence)

	handler := func(_ paho.Client, msg paho.Message) {
		var presence mb.Presence
		if err := json.Unmarshal(msg.Payload(), &presence); err != nil || presence.NodeID == "" {
			return
		}
		mu.Lock()
		collect[presence.NodeID] = presence
		mu.Unlock()
	}

	topic := fmt.Sprintf("%s/node/+/presence", c.topicBase)
	if token := c.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	defer func() {
		token := c.client.Unsubscribe(topic)
		token.Wait()
	}()

	wait := time.NewTimer(c.presenceWait)
	select {
	case <-ctx.Done():
		wait.Stop()
	case <-wait.C:
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]mb.Presence, 0, len(collect))
	for _, presence := range collect {
		out = append(out, presence)
	}
	return out, nil
}

// Close disconnects from the broker.
func (c *Client) Close() {
	c.client.Disconnect(250)
}

func (c *Client) handleReply(_ paho.Client, msg paho.Message) {
	var reply mb.ReplyEnvelope
	if err := json.Unmarshal(msg.Payload(), &reply); err != nil {
		return
	}
	c.deliver(reply)
}

func (c *Client) deliver(reply mb.ReplyEnvelope) bool {
	c.mu.Lock()
	ch, ok := c.pending[reply.ID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- reply:
		return true
	default:
		return false
	}
}
