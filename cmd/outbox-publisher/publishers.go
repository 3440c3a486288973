package main

import (
	"context"
	"errors"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	ResumePublish(orderingKey string)
	Stop()
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// publisherSource opens a publisher for a topic. It may return nil when the
// topic cannot be resolved.
type publisherSource func(topic string) publisher

// topicPublishers keeps one open publisher per topic for the life of the relay.
type topicPublishers struct {
	mu     sync.Mutex
	source publisherSource
	open   map[string]publisher
}

func newTopicPublishers(source publisherSource) *topicPublishers {
	return &topicPublishers{source: source, open: map[string]publisher{}}
}

func (t *topicPublishers) get(topic string) publisher {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pub, ok := t.open[topic]; ok {
		return pub
	}
	pub := t.source(topic)
	if pub == nil {
		return nil
	}
	t.open[topic] = pub
	return pub
}

// stop flushes and closes every opened publisher.
func (t *topicPublishers) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for topic, pub := range t.open {
		pub.Stop()
		delete(t.open, topic)
	}
}

type topicOpener interface {
	Publisher(name string) *gcppubsub.Publisher
}

// gcpPublishers adapts the shared Pub/Sub client into a publisherSource with
// message ordering enabled.
func gcpPublishers(client topicOpener) publisherSource {
	return func(topic string) publisher {
		p := client.Publisher(topic)
		if p == nil {
			return nil
		}
		p.EnableMessageOrdering = true
		return &gcpPublisher{p: p}
	}
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func (g *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return &gcpPublishResult{r: g.p.Publish(ctx, msg)}
}

func (g *gcpPublisher) ResumePublish(orderingKey string) {
	if orderingKey == "" {
		return
	}
	g.p.ResumePublish(orderingKey)
}

func (g *gcpPublisher) Stop() {
	g.p.Stop()
}

type gcpPublishResult struct {
	r *gcppubsub.PublishResult
}

func (g *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if g.r == nil {
		return "", errors.New("publish result is nil")
	}
	return g.r.Get(ctx)
}
