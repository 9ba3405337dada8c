package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every gateway topic.
const TopicPrefix = "graylogic/gateway"

// Topics builds the topic hierarchy for one gateway:
//
//	graylogic/gateway/{gateway}/status                    retained, LWT
//	graylogic/gateway/{gateway}/health                    retained
//	graylogic/gateway/{gateway}/machine/{machine}/state   retained
//	graylogic/gateway/{gateway}/machine/{machine}/counter
//	graylogic/gateway/{gateway}/machine/{machine}/cycle
//	graylogic/gateway/{gateway}/command/{machine}         inbound
type Topics struct {
	GatewayID string
}

func (t Topics) base() string {
	return TopicPrefix + "/" + t.GatewayID
}

// Status returns the gateway online/offline topic.
func (t Topics) Status() string {
	return t.base() + "/status"
}

// Health returns the periodic gateway health topic.
func (t Topics) Health() string {
	return t.base() + "/health"
}

// MachineState returns the retained per-machine state topic.
//
// Example: graylogic/gateway/edge-01/machine/M01/state
func (t Topics) MachineState(machineID string) string {
	return fmt.Sprintf("%s/machine/%s/state", t.base(), machineID)
}

// MachineCounter returns the topic for counter readings and estimates.
func (t Topics) MachineCounter(machineID string) string {
	return fmt.Sprintf("%s/machine/%s/counter", t.base(), machineID)
}

// MachineCycle returns the topic for reconstructed production cycles.
func (t Topics) MachineCycle(machineID string) string {
	return fmt.Sprintf("%s/machine/%s/cycle", t.base(), machineID)
}

// Command returns the inbound command topic for one machine.
func (t Topics) Command(machineID string) string {
	return fmt.Sprintf("%s/command/%s", t.base(), machineID)
}

// AllCommands returns the subscription pattern for every machine command.
//
// Pattern: graylogic/gateway/{gateway}/command/+
func (t Topics) AllCommands() string {
	return t.base() + "/command/+"
}

// CommandMachine extracts the machine id from a command topic.
// It reports false if topic is not a command topic of this gateway.
func (t Topics) CommandMachine(topic string) (string, bool) {
	prefix := t.base() + "/command/"
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	id := strings.TrimPrefix(topic, prefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// validTopicSegment rejects ids that would break the hierarchy.
func validTopicSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#")
}
