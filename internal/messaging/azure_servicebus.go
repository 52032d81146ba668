package messaging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/config"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ServiceBusClient is an interface for Azure Service Bus operations
type ServiceBusClient interface {
	SendMessage(ctx context.Context, body interface{}, sessionID string, properties map[string]interface{}) error
	Close() error
}

// serviceBusClient implements the ServiceBusClient interface
type serviceBusClient struct {
	client    *azservicebus.Client
	sender    *azservicebus.Sender
	queueName string
	source    string
}

// mockServiceBusClient logs messages instead of sending them, for local development
type mockServiceBusClient struct {
	source string
	log    *logrus.Logger
}

// NewServiceBusClient creates a new Azure Service Bus client. Without a
// connection string a logging mock is returned.
func NewServiceBusClient(cfg config.ServiceBusConfig, source string, log *logrus.Logger) (ServiceBusClient, error) {
	if cfg.ConnectionString == "" {
		log.Warn("Service Bus connection string not set, using mock client")
		return &mockServiceBusClient{source: source, log: log}, nil
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create Service Bus client")
	}

	sender, err := client.NewSender(cfg.QueueName, nil)
	if err != nil {
		_ = client.Close(context.Background())
		return nil, errors.Wrap(err, "create Service Bus sender")
	}

	return &serviceBusClient{
		client:    client,
		sender:    sender,
		queueName: cfg.QueueName,
		source:    source,
	}, nil
}

func generateSessionID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// SendMessage sends a JSON message to the queue. Messages sharing a session
// ID are delivered in order.
func (s *serviceBusClient) SendMessage(ctx context.Context, body interface{}, sessionID string, properties map[string]interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal message body")
	}

	if sessionID == "" {
		sessionID = generateSessionID()
	}

	props := map[string]interface{}{
		"source": s.source,
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range properties {
		props[k] = v
	}

	msg := &azservicebus.Message{
		Body:                  data,
		ApplicationProperties: props,
		SessionID:             &sessionID,
	}

	if err := s.sender.SendMessage(ctx, msg, nil); err != nil {
		return errors.Wrapf(err, "send message to %s", s.queueName)
	}
	return nil
}

func (s *serviceBusClient) Close() error {
	if s.sender != nil {
		if err := s.sender.Close(context.Background()); err != nil {
			return err
		}
	}
	if s.client != nil {
		return s.client.Close(context.Background())
	}
	return nil
}

func (m *mockServiceBusClient) SendMessage(ctx context.Context, body interface{}, sessionID string, properties map[string]interface{}) error {
	m.log.WithFields(logrus.Fields{
		"source":     m.source,
		"session_id": sessionID,
		"properties": properties,
	}).Debugf("[MOCK ServiceBus] %+v", body)
	return nil
}

func (m *mockServiceBusClient) Close() error {
	return nil
}
