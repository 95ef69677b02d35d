package notify

import (
	"context"
)

// Publisher publishes a JSON message to a topic. Implemented by the
// Pub/Sub client.
type Publisher interface {
	Publish(ctx context.Context, topic string, message any) (string, error)
}

// PubSubService publishes notifications to a Pub/Sub topic so that
// external integrations (ticketing, chat, SIEM) can consume activation
// events.
type PubSubService struct {
	publisher Publisher
	topic     string
}

// NewPubSubService publishes to the given topic, addressed as
// "projects/x/topics/y". An empty topic disables the channel.
func NewPubSubService(publisher Publisher, topic string) *PubSubService {
	return &PubSubService{
		publisher: publisher,
		topic:     topic,
	}
}

func (s *PubSubService) CanSend() bool {
	return s.topic != ""
}

type pubSubEnvelope struct {
	Type       string         `json:"type"`
	Attributes map[string]any `json:"attributes"`
}

func (s *PubSubService) Send(ctx context.Context, notification *Notification) error {
	_, err := s.publisher.Publish(ctx, s.topic, pubSubEnvelope{
		Type:       notification.Type,
		Attributes: notification.Properties,
	})
	return err
}
