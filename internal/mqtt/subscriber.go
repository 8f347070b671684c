// Package mqtt feeds device reports published on a broker topic into ingestion.
package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/jengzang/mobile-supervisor-go/internal/config"
	"github.com/jengzang/mobile-supervisor-go/internal/logging"
	"github.com/jengzang/mobile-supervisor-go/internal/models"
	"github.com/jengzang/mobile-supervisor-go/internal/validation"
)

const (
	connectTimeout = 10 * time.Second
	ingestTimeout  = 10 * time.Second
	disconnectWait = 250 // milliseconds
)

// Ingestor is the position ingestion entry point
type Ingestor interface {
	Ingest(ctx context.Context, report models.PositionReport) (*models.IngestResult, error)
}

// Subscriber receives device reports from the broker
type Subscriber struct {
	cfg    config.MQTTConfig
	ingest Ingestor
	client paho.Client
	ctx    context.Context
}

// NewSubscriber creates a subscriber for cfg.Topic
func NewSubscriber(cfg config.MQTTConfig, ingest Ingestor) *Subscriber {
	return &Subscriber{cfg: cfg, ingest: ingest, ctx: context.Background()}
}

func (s *Subscriber) options() *paho.ClientOptions {
	opts := paho.NewClientOptions()
	broker := s.cfg.BrokerURL()
	opts.AddBroker(broker)

	clientID := s.cfg.ClientID
	if clientID == "" {
		clientID = "mobile-supervisor"
	}
	opts.SetClientID(fmt.Sprintf("%s-%d", clientID, time.Now().Unix()))
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	if strings.HasPrefix(broker, "ssl://") {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetCleanSession(true)

	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logging.Warn().Err(err).Str("broker", broker).Msg("MQTT connection lost, reconnecting")
	})
	return opts
}

// Serve connects, subscribes and blocks until ctx is canceled
func (s *Subscriber) Serve(ctx context.Context) error {
	s.ctx = ctx
	s.client = paho.NewClient(s.options())

	logging.Info().Str("broker", s.cfg.BrokerURL()).Str("topic", s.cfg.Topic).Msg("Connecting to MQTT broker")
	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("failed to connect to MQTT broker: timed out after %s", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	<-ctx.Done()

	if s.client.IsConnected() {
		s.client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
		s.client.Disconnect(disconnectWait)
	}
	logging.Info().Msg("MQTT subscriber stopped")
	return ctx.Err()
}

// onConnect subscribes on every (re)connection since sessions are clean
func (s *Subscriber) onConnect(client paho.Client) {
	token := client.Subscribe(s.cfg.Topic, 0, s.handleMessage)
	if token.Wait() && token.Error() != nil {
		logging.Error().Err(token.Error()).Str("topic", s.cfg.Topic).Msg("MQTT subscribe failed")
		return
	}
	logging.Info().Str("topic", s.cfg.Topic).Msg("MQTT subscribed")
}

// handleMessage decodes one report and ingests it. Bad messages are logged and dropped.
func (s *Subscriber) handleMessage(_ paho.Client, msg paho.Message) {
	report, err := validation.DecodeReport(msg.Payload())
	if err != nil {
		logging.Warn().Err(err).Str("topic", msg.Topic()).Msg("Dropping invalid MQTT report")
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, ingestTimeout)
	defer cancel()

	res, err := s.ingest.Ingest(ctx, report)
	if err != nil {
		evt := logging.Error()
		if models.IsClientError(err) {
			evt = logging.Warn()
		}
		evt.Err(err).Str("topic", msg.Topic()).Msg("MQTT report not ingested")
		return
	}
	logging.Debug().
		Str("device_id", res.DeviceID).
		Bool("accepted", res.Accepted).
		Str("reason", res.Reason).
		Msg("MQTT report ingested")
}
