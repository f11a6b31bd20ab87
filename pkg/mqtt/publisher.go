package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/solbridge/huawei-mqtt-bridge/pkg/config"
)

const publishWait = 5 * time.Second

// Publisher wraps the paho client. The last will marks
// <prefix>/status offline if we die without saying goodbye.
type Publisher struct {
	client    paho.Client
	qos       byte
	forceSync bool
}

func NewPublisher(cfg *config.CliConfig) *Publisher {
	scheme := "tcp"
	if cfg.MQTTTLS {
		scheme = "ssl"
	}
	statusTopic := cfg.TopicPrefix + "/status"

	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.MQTTHost, cfg.MQTTPort)).
		SetClientID(cfg.MQTTClientID).
		SetKeepAlive(time.Duration(cfg.MQTTKeepalive)*time.Second).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(60*time.Second).
		SetProtocolVersion(protocolVersion(cfg.MQTTProtocol)).
		SetWill(statusTopic, "offline", byte(cfg.MQTTQOS), true)

	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}
	if cfg.MQTTTLS {
		// matches the original add-on: encrypt but skip verification
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	}

	qos := byte(cfg.MQTTQOS)
	opts.OnConnect = func(c paho.Client) {
		logrus.Info("mqtt connected")
		c.Publish(statusTopic, qos, true, "online")
	}
	opts.OnConnectionLost = func(c paho.Client, err error) {
		logrus.Warnf("mqtt connection lost: %v", err)
	}

	return &Publisher{
		client:    paho.NewClient(opts),
		qos:       qos,
		forceSync: cfg.ForceSync,
	}
}

// protocolVersion maps the add-on's mqtt_protocol option to what the
// library supports. There is no v5 client here so v5 falls back to
// 3.1.1.
func protocolVersion(s string) uint {
	switch s {
	case "31", "v31", "3.1":
		return 3
	case "311", "v311", "3.1.1", "mqttv311":
		return 4
	default:
		logrus.Warnf("mqtt protocol %q not supported, using 3.1.1", s)
		return 4
	}
}

// Connect retries with exponential backoff until it succeeds or ctx is
// cancelled.
func (p *Publisher) Connect(ctx context.Context) error {
	backoff := time.Second
	for {
		token := p.client.Connect()
		token.Wait()
		err := token.Error()
		if err == nil {
			return nil
		}
		logrus.Warnf("mqtt connect failed: %v (retry in %s)", err, backoff)
		select {
		case <-ctx.Done():
			return fmt.Errorf("mqtt connect aborted: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 60*time.Second {
			backoff = 60 * time.Second
		}
	}
}

func (p *Publisher) Publish(topic, payload string, retain bool) error {
	token := p.client.Publish(topic, p.qos, retain, payload)
	if p.forceSync {
		if !token.WaitTimeout(publishWait) {
			return fmt.Errorf("publish to %s timed out", topic)
		}
		return token.Error()
	}
	// fire and forget, but failures still get logged
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			logrus.WithFields(logrus.Fields{"topic": topic}).Warnf("publish failed: %v", err)
		}
	}()
	return nil
}

// PublishSync always waits for delivery, used for the final offline
// status during shutdown.
func (p *Publisher) PublishSync(topic, payload string, retain bool, timeout time.Duration) error {
	token := p.client.Publish(topic, p.qos, retain, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

func (p *Publisher) IsConnected() bool {
	return p.client.IsConnected()
}

func (p *Publisher) Disconnect(grace time.Duration) {
	p.client.Disconnect(uint(grace.Milliseconds()))
}
