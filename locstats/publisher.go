package locstats

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher pushes run summaries to MQTT
type Publisher struct {
	client  mqtt.Client
	prefix  string
	dataset string
	qos     byte
	retain  bool
}

// summaryMessage is the payload of the combined summaries topic
type summaryMessage struct {
	Dataset   string       `json:"dataset,omitempty"`
	Summaries []RunSummary `json:"summaries"`
	Failures  []RunFailure `json:"failures,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

// NewPublisher creates a summary publisher. A nil client disables
// publishing; every Publish call then returns an error.
func NewPublisher(client mqtt.Client, prefix, dataset string) *Publisher {
	if prefix == "" {
		prefix = "vtrstats"
	}
	return &Publisher{
		client:  client,
		prefix:  prefix,
		dataset: dataset,
		qos:     1,
		retain:  true,
	}
}

// RunTopic is the retained per-run topic
func (p *Publisher) RunTopic(run int) string {
	return fmt.Sprintf("%s/runs/%d", p.prefix, run)
}

// SummariesTopic carries the whole aggregation result
func (p *Publisher) SummariesTopic() string {
	return p.prefix + "/summaries"
}

// PublishSummary publishes one run's summary to its run topic
func (p *Publisher) PublishSummary(s RunSummary) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling run %d summary: %w", s.RunIndex, err)
	}
	return p.publish(p.RunTopic(s.RunIndex), payload)
}

// PublishResult publishes every summary to its run topic, then the combined
// result. It stops at the first failed publish.
func (p *Publisher) PublishResult(result AggregateResult) error {
	for _, s := range result.Summaries {
		if err := p.PublishSummary(s); err != nil {
			return err
		}
	}

	payload, err := json.Marshal(summaryMessage{
		Dataset:   p.dataset,
		Summaries: result.Summaries,
		Failures:  result.Failures,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshaling summaries: %w", err)
	}
	if err := p.publish(p.SummariesTopic(), payload); err != nil {
		return err
	}

	log.Printf("[MQTT] published %d summaries (%d failures)", len(result.Summaries), len(result.Failures))
	return nil
}

func (p *Publisher) publish(topic string, payload []byte) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// SetQoS sets the publish QoS (0, 1 or 2); other values are ignored
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether the broker retains published messages
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
