package mqtt

import (
	"encoding/json"
	"fmt"
)

// Subscribe registers a handler for messages on the specified topic.
//
// Topics can include MQTT wildcards (+ single level, # multi level).
// Subscriptions are tracked and restored after a reconnect.
//
// Parameters:
//   - topic: The topic pattern to subscribe to
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//   - handler: Callback function invoked for each message
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.forget(topic)
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.forget(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

func (c *Client) forget(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}

// SubscriptionCount returns the number of active subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// Supported command actions.
const (
	CommandRestart = "restart"
)

// Command is an inbound machine command.
type Command struct {
	MachineID string `json:"-"`
	Action    string `json:"action"`
}

// CommandHandler receives decoded machine commands.
type CommandHandler func(cmd Command) error

// SubscribeCommands subscribes to every machine command topic of this
// gateway. Payloads are JSON objects such as {"action":"restart"}; an
// empty payload means restart.
func (c *Client) SubscribeCommands(handler CommandHandler) error {
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	return c.Subscribe(c.topics.AllCommands(), 1, func(topic string, payload []byte) error {
		cmd, err := c.topics.ParseCommand(topic, payload)
		if err != nil {
			return err
		}
		return handler(cmd)
	})
}

// ParseCommand decodes a command message received on topic.
func (t Topics) ParseCommand(topic string, payload []byte) (Command, error) {
	machineID, ok := t.CommandMachine(topic)
	if !ok {
		return Command{}, fmt.Errorf("%w: %q is not a command topic", ErrInvalidTopic, topic)
	}

	cmd := Command{Action: CommandRestart}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return Command{}, fmt.Errorf("decoding command for %s: %w", machineID, err)
		}
	}
	cmd.MachineID = machineID
	if cmd.Action != CommandRestart {
		return Command{}, fmt.Errorf("unsupported command %q for %s", cmd.Action, machineID)
	}
	return cmd, nil
}
