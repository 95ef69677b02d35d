package clients

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"google.golang.org/api/option"
	"google.golang.org/api/pubsub/v1"

	"go.cloudsolutions.dev/jitaccess/internal/apierror"
)

// PubSubClient publishes notification events to a Pub/Sub topic so
// external systems can react to activation requests and approvals.
type PubSubClient struct {
	service *pubsub.Service
}

func NewPubSubClient(ctx context.Context, opts ...option.ClientOption) (*PubSubClient, error) {
	opts = append([]option.ClientOption{option.WithUserAgent(UserAgent)}, opts...)

	service, err := pubsub.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pub/sub client: %w", err)
	}

	return &PubSubClient{service: service}, nil
}

// Publish encodes the message as JSON and publishes it to the topic,
// addressed as "projects/x/topics/y". Returns the message id.
func (c *PubSubClient) Publish(ctx context.Context, topic string, message any) (string, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("failed to encode pub/sub message: %w", err)
	}

	response, err := c.service.Projects.Topics.
		Publish(topic, &pubsub.PublishRequest{
			Messages: []*pubsub.PubsubMessage{
				{Data: base64.StdEncoding.EncodeToString(data)},
			},
		}).
		Context(ctx).
		Do()
	if err != nil {
		switch apiErrorCode(err) {
		case 401:
			return "", apierror.NotAuthenticated("not authenticated").Err()
		case 403:
			return "", apierror.AccessDenied(fmt.Sprintf("denied access to topic '%s'", topic)).Err()
		case 404:
			return "", apierror.NotFound(fmt.Sprintf("the topic '%s' does not exist", topic)).Err()
		default:
			return "", err
		}
	}

	if len(response.MessageIds) == 0 {
		return "", nil
	}
	return response.MessageIds[0], nil
}
