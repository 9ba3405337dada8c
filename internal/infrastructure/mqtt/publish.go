package mqtt

import (
	"encoding/json"
	"fmt"
	"time"
)

// maxPayloadSize bounds outgoing payloads (1MB).
const maxPayloadSize = 1 << 20

// Publish sends a message to the specified MQTT topic.
//
// Parameters:
//   - topic: The topic to publish to
//   - payload: The message payload (max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker keeps the message for new subscribers
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishJSON marshals v and publishes it with the configured QoS.
func (c *Client) PublishJSON(topic string, v any, retained bool) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: marshalling payload: %w", ErrPublishFailed, err)
	}
	return c.Publish(topic, data, byte(c.cfg.QoS), retained)
}

// PublishMachineState publishes a retained machine state.
func (c *Client) PublishMachineState(machineID string, state any) error {
	if !validTopicSegment(machineID) {
		return fmt.Errorf("%w: machine id %q", ErrInvalidTopic, machineID)
	}
	return c.PublishJSON(c.topics.MachineState(machineID), state, true)
}

// PublishCounter publishes a counter reading or estimate.
func (c *Client) PublishCounter(machineID string, reading any) error {
	if !validTopicSegment(machineID) {
		return fmt.Errorf("%w: machine id %q", ErrInvalidTopic, machineID)
	}
	return c.PublishJSON(c.topics.MachineCounter(machineID), reading, false)
}

// PublishCycle publishes one reconstructed production cycle.
func (c *Client) PublishCycle(machineID string, cycle any) error {
	if !validTopicSegment(machineID) {
		return fmt.Errorf("%w: machine id %q", ErrInvalidTopic, machineID)
	}
	return c.PublishJSON(c.topics.MachineCycle(machineID), cycle, false)
}

// HealthMessage is the payload of the gateway health topic.
type HealthMessage struct {
	GatewayID     string          `json:"gatewayId"`
	Timestamp     time.Time       `json:"timestamp"`
	Machines      map[string]bool `json:"machines"`
	UplinkOnline  bool            `json:"uplinkOnline"`
	UplinkPending int             `json:"uplinkPending"`
	ADAMOnline    *bool           `json:"adamOnline,omitempty"`
}

// PublishHealth publishes a retained gateway health summary.
func (c *Client) PublishHealth(msg HealthMessage) error {
	if msg.GatewayID == "" {
		msg.GatewayID = c.topics.GatewayID
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return c.PublishJSON(c.topics.Health(), msg, true)
}
