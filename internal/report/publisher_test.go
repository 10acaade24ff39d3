package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/radiolith/jamguard/internal/monitor"
)

type stubToken struct {
	err error
}

func (t *stubToken) Wait() bool                     { return true }
func (t *stubToken) WaitTimeout(time.Duration) bool { return true }
func (t *stubToken) Error() error                   { return t.err }

func (t *stubToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type recordingClient struct {
	mqtt.Client

	mu       sync.Mutex
	topics   []string
	qos      []byte
	payloads [][]byte
	err      error
}

func (c *recordingClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.topics = append(c.topics, topic)
	c.qos = append(c.qos, qos)
	c.payloads = append(c.payloads, payload.([]byte))
	return &stubToken{err: c.err}
}

func (c *recordingClient) published() (topics []string, payloads [][]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics, c.payloads
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestPublishCyclePayload(t *testing.T) {
	client := &recordingClient{}
	p := &Publisher{
		client: client,
		topic:  "jamguard/status/run-1",
		qos:    1,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	started := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	p.PublishCycle(&monitor.CycleResult{
		ID:            "cycle-1",
		Sequence:      7,
		StartedAt:     started,
		PeakAmplitude: 251.5,
		Anomalous:     true,
		Jammed:        true,
		Switched:      true,
		Channel:       4,
		Secured:       true,
	})

	topics, payloads := client.published()
	if len(topics) != 1 {
		t.Fatalf("Expected 1 publish, got %d", len(topics))
	}
	if topics[0] != "jamguard/status/run-1" {
		t.Errorf("Expected topic jamguard/status/run-1, got %s", topics[0])
	}

	var report CycleReport
	if err := json.Unmarshal(payloads[0], &report); err != nil {
		t.Fatalf("Unmarshaling payload: %v", err)
	}
	if report.CycleID != "cycle-1" || report.Sequence != 7 {
		t.Errorf("Unexpected cycle identity: %+v", report)
	}
	if !report.At.Equal(started) {
		t.Errorf("Expected report time %v, got %v", started, report.At)
	}
	if report.PeakAmplitude != 251.5 || !report.Anomalous || !report.Jammed {
		t.Errorf("Unexpected detection fields: %+v", report)
	}
	if !report.Switched || report.Channel != 4 || !report.Secured {
		t.Errorf("Unexpected recovery fields: %+v", report)
	}
}

func TestPublishCycleIgnoresNil(t *testing.T) {
	client := &recordingClient{}
	p := &Publisher{
		client: client,
		topic:  "jamguard/status/run-1",
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	p.PublishCycle(nil)

	if topics, _ := client.published(); len(topics) != 0 {
		t.Errorf("Expected no publishes for nil result, got %d", len(topics))
	}
}

func TestPublishCycleLogsBrokerErrors(t *testing.T) {
	client := &recordingClient{err: errors.New("broker unavailable")}
	buf := &syncBuffer{}
	p := &Publisher{
		client: client,
		topic:  "jamguard/status/run-1",
		logger: slog.New(slog.NewTextHandler(buf, nil)),
	}

	p.PublishCycle(&monitor.CycleResult{ID: "cycle-1", Secured: true})

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(buf.String(), "Failed to publish cycle report") {
		if time.Now().After(deadline) {
			t.Fatal("Expected publish failure to be logged")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		runID string
	}{
		{name: "missing broker", cfg: Config{Topic: "jamguard/status"}, runID: "run-1"},
		{name: "missing topic", cfg: Config{Broker: "tcp://localhost:1883"}, runID: "run-1"},
		{name: "missing run ID", cfg: Config{Broker: "tcp://localhost:1883", Topic: "jamguard/status"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, tt.runID, nil); err == nil {
				t.Error("Expected config error, got nil")
			}
		})
	}
}

func TestClientIDIsUnique(t *testing.T) {
	a, b := clientID(), clientID()
	if !strings.HasPrefix(a, "jamguard-") {
		t.Errorf("Expected jamguard- prefix, got %s", a)
	}
	if a == b {
		t.Errorf("Expected distinct client IDs, got %s twice", a)
	}
}
