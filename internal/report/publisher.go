// Package report publishes per-cycle status reports to an MQTT broker
// so ground stations can follow link recovery without polling the node.
package report

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/radiolith/jamguard/internal/channel"
	"github.com/radiolith/jamguard/internal/monitor"
)

const publishTimeout = 10 * time.Second

// Config holds the broker connection settings.
type Config struct {
	Broker   string
	Topic    string
	Username string
	Password string
	QoS      byte
}

// CycleReport is the JSON payload published after each recovery cycle.
type CycleReport struct {
	CycleID       string     `json:"cycleId"`
	Sequence      int64      `json:"sequence"`
	At            time.Time  `json:"at"`
	PeakAmplitude float64    `json:"peakAmplitude"`
	Anomalous     bool       `json:"anomalous"`
	Jammed        bool       `json:"jammed"`
	Switched      bool       `json:"switched"`
	Channel       channel.ID `json:"channel"`
	Secured       bool       `json:"secured"`
}

// Publisher sends cycle reports to a broker. Publish failures are
// logged and never interrupt the monitoring loop.
type Publisher struct {
	client mqtt.Client
	topic  string
	qos    byte
	logger *slog.Logger
}

func clientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "jamguard-" + hex.EncodeToString(b)
}

// New connects to the broker and returns a publisher bound to
// <topic>/<runID>. The run ID keeps concurrent monitoring runs apart
// on a shared broker.
func New(cfg Config, runID string, logger *slog.Logger) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("report: broker address required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("report: topic required")
	}
	if runID == "" {
		return nil, errors.New("report: run ID required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID())
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("Connected to report broker", slog.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("Report broker connection lost", slog.Any("error", err))
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("report: connecting to broker: %w", token.Error())
	}

	return &Publisher{
		client: client,
		topic:  fmt.Sprintf("%s/%s", strings.TrimSuffix(cfg.Topic, "/"), runID),
		qos:    cfg.QoS,
		logger: logger,
	}, nil
}

// PublishCycle reports the outcome of one recovery cycle. Delivery is
// confirmed in the background so a slow broker cannot stall the caller.
func (p *Publisher) PublishCycle(result *monitor.CycleResult) {
	if result == nil {
		return
	}

	report := CycleReport{
		CycleID:       result.ID,
		Sequence:      result.Sequence,
		At:            result.StartedAt.UTC(),
		PeakAmplitude: result.PeakAmplitude,
		Anomalous:     result.Anomalous,
		Jammed:        result.Jammed,
		Switched:      result.Switched,
		Channel:       result.Channel,
		Secured:       result.Secured,
	}

	payload, err := json.Marshal(report)
	if err != nil {
		p.logger.Error("Failed to marshal cycle report", slog.Any("error", err))
		return
	}

	token := p.client.Publish(p.topic, p.qos, false, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			p.logger.Warn("Cycle report publish timed out", slog.String("topic", p.topic))
			return
		}
		if err := token.Error(); err != nil {
			p.logger.Warn("Failed to publish cycle report",
				slog.String("topic", p.topic),
				slog.Any("error", err))
		}
	}()
}

// Close waits briefly for in-flight messages and disconnects from the
// broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
