// Package pubsub publishes run notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// Config selects the project and default topic.
type Config struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Attributer is implemented by payloads that carry message attributes.
type Attributer interface {
	Attributes() map[string]string
}

// Publisher publishes JSON payloads, one pubsub.Publisher per topic.
type Publisher struct {
	client     *pubsub.Client
	projectID  string
	ownsClient bool
	logger     *zap.Logger

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// New wraps an existing client. Close stops the topic publishers but leaves
// the client open.
func New(client *pubsub.Client, projectID string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client:     client,
		projectID:  projectID,
		logger:     logger.Named("pubsub"),
		publishers: make(map[string]*pubsub.Publisher),
	}
}

// Open dials Pub/Sub with Application Default Credentials and checks that
// the configured topic exists and is active.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	if cfg.ProjectID == "" || cfg.TopicName == "" {
		return nil, fmt.Errorf("pubsub project_id and topic_name are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	p := New(client, cfg.ProjectID, logger)
	p.ownsClient = true

	topic, err := client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
		Topic: p.topicName(cfg.TopicName),
	})
	if err != nil {
		p.closeClient()
		return nil, fmt.Errorf("get pubsub topic %q: %w", cfg.TopicName, err)
	}
	if topic.GetState() != pubsubpb.Topic_ACTIVE {
		p.closeClient()
		return nil, fmt.Errorf("pubsub topic %q is not active (state %s)", cfg.TopicName, topic.GetState())
	}
	return p, nil
}

// Publish marshals payload to JSON and publishes it to topic, which may be a
// topic ID or a full resource name. Trace context is injected into the
// message attributes.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.client == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: make(map[string]string)}
	if a, ok := payload.(Attributer); ok {
		for k, v := range a.Attributes() {
			msg.Attributes[k] = v
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	id, err := p.publisherFor(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message to %s: %w", topic, err)
	}
	return id, nil
}

// Close flushes and stops every topic publisher, then closes the client when
// Open created it.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for name, pub := range p.publishers {
		pub.Stop()
		delete(p.publishers, name)
	}
	p.mu.Unlock()
	if p.ownsClient {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}

func (p *Publisher) publisherFor(topic string) *pubsub.Publisher {
	name := p.topicName(topic)
	p.mu.Lock()
	defer p.mu.Unlock()
	pub, ok := p.publishers[name]
	if !ok {
		pub = p.client.Publisher(name)
		p.publishers[name] = pub
	}
	return pub
}

func (p *Publisher) topicName(topic string) string {
	if strings.HasPrefix(topic, "projects/") {
		return topic
	}
	return fmt.Sprintf("projects/%s/topics/%s", p.projectID, topic)
}

func (p *Publisher) closeClient() {
	if err := p.client.Close(); err != nil {
		p.logger.Warn("close pubsub client after setup failure", zap.Error(err))
	}
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
