package shdr

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Snapshot maps item name to the latest record for one device.
type Snapshot map[string]LineRecord

// Value returns the latest value of item, if seen.
func (s Snapshot) Value(item string) (string, bool) {
	rec, ok := s[item]
	if !ok {
		return "", false
	}
	return rec.Value, true
}

// MachineState is a typed view over a device snapshot.
type MachineState struct {
	DeviceID       string    `json:"deviceId"`
	Connected      bool      `json:"connected"`
	Availability   string    `json:"availability"`
	Execution      string    `json:"execution"`
	Mode           string    `json:"mode"`
	Program        string    `json:"program,omitempty"`
	ProgramComment string    `json:"programComment,omitempty"`
	PartCount      *int64    `json:"partCount,omitempty"`
	ToolID         string    `json:"toolId,omitempty"`
	LastUpdate     time.Time `json:"lastUpdate"`

	// Items holds every latest item value, including those without a field above.
	Items map[string]string `json:"items"`
}

// unavailable is the SHDR convention for an unknown value.
const unavailable = "UNAVAILABLE"

// StateFromSnapshot builds a MachineState from a snapshot. Missing status
// items read as UNAVAILABLE. Both "part_count" and "partcount" are accepted.
func StateFromSnapshot(deviceID string, snap Snapshot, connected bool) MachineState {
	ms := MachineState{
		DeviceID:     deviceID,
		Connected:    connected,
		Availability: unavailable,
		Execution:    unavailable,
		Mode:         unavailable,
		Items:        make(map[string]string, len(snap)),
	}

	for item, rec := range snap {
		ms.Items[item] = rec.Value
		if rec.ReceivedAt.After(ms.LastUpdate) {
			ms.LastUpdate = rec.ReceivedAt
		}
	}

	if v, ok := snap.Value(ItemAvailability); ok && v != "" {
		ms.Availability = v
	}
	if v, ok := snap.Value(ItemExecution); ok && v != "" {
		ms.Execution = v
	}
	if v, ok := snap.Value(ItemMode); ok && v != "" {
		ms.Mode = v
	}
	ms.Program, _ = snap.Value(ItemProgram)
	ms.ProgramComment, _ = snap.Value(ItemProgramComment)
	ms.ToolID, _ = snap.Value(ItemToolID)

	for _, item := range []string{ItemPartCount, ItemPartCountAlt} {
		if v, ok := snap.Value(item); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				ms.PartCount = &n
				break
			}
		}
	}

	return ms
}

// device pairs one client with the snapshot it alone writes.
type device struct {
	client *Client

	mu       sync.RWMutex
	snapshot Snapshot
}

func (d *device) apply(rec LineRecord) {
	d.mu.Lock()
	d.snapshot[rec.Item] = rec
	d.mu.Unlock()
}

func (d *device) copySnapshot() (Snapshot, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.snapshot) == 0 {
		return nil, false
	}
	out := make(Snapshot, len(d.snapshot))
	for k, v := range d.snapshot {
		out[k] = v
	}
	return out, true
}

// Registry supervises one Client per configured device and keeps the latest
// value of every item per device.
//
// Thread Safety:
//   - The device set is fixed at construction; all methods are safe for
//     concurrent use.
//   - Each device snapshot has its own lock and is written only by that
//     device's event dispatcher. Readers receive copies.
type Registry struct {
	devices map[string]*device
	order   []string

	onEvent    func(Event)
	callbackMu sync.RWMutex

	logger Logger
}

// NewRegistry creates clients for every device configuration.
//
// Returns:
//   - *Registry: Registry with all clients disconnected
//   - error: If a configuration is invalid or a device id is repeated
func NewRegistry(cfgs []Config) (*Registry, error) {
	r := &Registry{
		devices: make(map[string]*device, len(cfgs)),
		order:   make([]string, 0, len(cfgs)),
	}

	for _, cfg := range cfgs {
		if _, dup := r.devices[cfg.DeviceID]; dup {
			r.Close()
			return nil, fmt.Errorf("%w: duplicate device id %q", ErrInvalidConfig, cfg.DeviceID)
		}
		client, err := NewClient(cfg)
		if err != nil {
			r.Close()
			return nil, err
		}
		d := &device{client: client, snapshot: make(Snapshot)}
		client.SetOnEvent(func(ev Event) { r.handleEvent(d, ev) })
		r.devices[cfg.DeviceID] = d
		r.order = append(r.order, cfg.DeviceID)
	}
	sort.Strings(r.order)

	return r, nil
}

// SetLogger sets the logger for the registry and every client.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
	for _, d := range r.devices {
		d.client.SetLogger(logger)
	}
}

// SetOnEvent sets a handler that receives every client event after the
// registry has applied it. Called on the emitting client's dispatcher.
func (r *Registry) SetOnEvent(handler func(Event)) {
	r.callbackMu.Lock()
	r.onEvent = handler
	r.callbackMu.Unlock()
}

func (r *Registry) handleEvent(d *device, ev Event) {
	if ev.Type == EventRecord {
		d.apply(ev.Record)
	}

	r.callbackMu.RLock()
	handler := r.onEvent
	r.callbackMu.RUnlock()
	if handler != nil {
		handler(ev)
	}
}

// Start connects every client. Dial failures are retried in the
// background and do not fail Start.
func (r *Registry) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, id := range r.order {
		id := id
		d := r.devices[id]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.client.Connect(ctx); err != nil && r.logger != nil {
				r.logger.Warn("initial connect failed, retrying in background", "device_id", id, "error", err)
			}
		}()
	}
	wg.Wait()
}

// Devices returns the configured device ids in sorted order.
func (r *Registry) Devices() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Snapshot returns a copy of the device's latest items. It reports false
// for unknown devices and for devices that have never produced data.
func (r *Registry) Snapshot(deviceID string) (Snapshot, bool) {
	d, ok := r.devices[deviceID]
	if !ok {
		return nil, false
	}
	return d.copySnapshot()
}

// MachineState returns the typed view of a device that has produced data.
func (r *Registry) MachineState(deviceID string) (MachineState, bool) {
	d, ok := r.devices[deviceID]
	if !ok {
		return MachineState{}, false
	}
	snap, ok := d.copySnapshot()
	if !ok {
		return MachineState{}, false
	}
	return StateFromSnapshot(deviceID, snap, d.client.IsConnected()), true
}

// ConnectionState reports whether the device is currently connected.
// Unknown devices report false.
func (r *Registry) ConnectionState(deviceID string) bool {
	d, ok := r.devices[deviceID]
	if !ok {
		return false
	}
	return d.client.IsConnected()
}

// AllConnectionStates returns the connection state of every device.
func (r *Registry) AllConnectionStates() map[string]bool {
	out := make(map[string]bool, len(r.devices))
	for id, d := range r.devices {
		out[id] = d.client.IsConnected()
	}
	return out
}

// ConnectedCount returns the number of connected devices.
func (r *Registry) ConnectedCount() int {
	n := 0
	for _, d := range r.devices {
		if d.client.IsConnected() {
			n++
		}
	}
	return n
}

// Stats returns the client statistics for a device.
func (r *Registry) Stats(deviceID string) (Stats, bool) {
	d, ok := r.devices[deviceID]
	if !ok {
		return Stats{}, false
	}
	return d.client.Stats(), true
}

// Restart disconnects and reconnects one device, clearing its failure cap.
func (r *Registry) Restart(ctx context.Context, deviceID string) error {
	d, ok := r.devices[deviceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	return d.client.Restart(ctx)
}

// DisconnectAll disconnects every client and cancels pending reconnects.
func (r *Registry) DisconnectAll() {
	for _, d := range r.devices {
		d.client.Disconnect()
	}
}

// Close closes every client and waits for their goroutines.
func (r *Registry) Close() error {
	for _, d := range r.devices {
		d.client.Close()
	}
	return nil
}
