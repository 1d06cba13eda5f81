package device

import (
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/lares-bridge/internal/lares"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Listener observes registry changes. Callbacks receive snapshots and run
// on the panel client's read goroutine; they must not block.
type Listener interface {
	// DeviceDiscovered fires for every device announced by a discovery
	// sweep, including devices the registry already knows. Consumers use
	// it to re-announce presence after a reconnect.
	DeviceDiscovered(d Device)

	// DeviceUpdated fires once per device per status record that changed
	// at least one field.
	DeviceUpdated(d Device)
}

// Registry is the catalogue of devices derived from panel records. It
// implements lares.Sink: the panel client feeds it discovery and status
// records, and it translates them into typed devices and change
// notifications.
//
// Devices are never removed. The panel's configuration only changes when
// an installer reprograms it, which always drops the session; the fresh
// sweep after reconnect re-announces whatever still exists.
//
// All public methods are thread-safe.
type Registry struct {
	logger Logger

	mu      sync.RWMutex
	devices map[string]*Device

	listenerMu sync.RWMutex
	listeners  []Listener
}

var _ lares.Sink = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// AddListener registers a listener for discovery and update events.
func (r *Registry) AddListener(l Listener) {
	if l == nil {
		return
	}
	r.listenerMu.Lock()
	r.listeners = append(r.listeners, l)
	r.listenerMu.Unlock()
}

// Get retrieves a device by derived identifier.
// The returned device is a snapshot; callers can safely modify it.
func (r *Registry) Get(id string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return Device{}, false
	}
	return d.Snapshot(), true
}

// List retrieves all devices, ordered by identifier.
// The returned devices are snapshots; callers can safely modify them.
func (r *Registry) List() []Device {
	r.mu.RLock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListKind retrieves all devices of one kind, ordered by identifier.
// The returned devices are snapshots; callers can safely modify them.
func (r *Registry) ListKind(kind Kind) []Device {
	r.mu.RLock()
	var out []Device
	for _, d := range r.devices {
		if d.Kind == kind {
			out = append(out, d.Snapshot())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int
	ByKind       map[Kind]int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.devices),
		ByKind:       make(map[Kind]int),
	}
	for _, d := range r.devices {
		stats.ByKind[d.Kind]++
	}
	return stats
}

// ApplyDiscovery translates one discovery record into devices and
// announces them. Re-discovery of a known device refreshes its name but
// keeps the last known status: the status sweep that follows re-seeds it,
// and blanking here would flap consumers on every reconnect.
func (r *Registry) ApplyDiscovery(rec lares.InventoryRecord) {
	var created []*Device
	switch {
	case rec.Zone != nil:
		created = append(created, newZoneDevice(rec.Zone))
	case rec.Output != nil:
		created = append(created, newOutputDevice(rec.Output))
	case rec.BusSensor != nil:
		created = append(created, newSensorDevices(rec.BusSensor)...)
	case rec.Scenario != nil:
		if d := newScenarioDevice(rec.Scenario); d != nil {
			created = append(created, d)
		}
	}

	for _, d := range created {
		snap := r.upsert(d)
		r.logger.Debug("device discovered",
			"id", snap.ID,
			"kind", string(snap.Kind),
			"name", snap.Name)
		r.notifyDiscovered(snap)
	}
}

// ApplyStatusDelta routes one status record to the device it belongs to.
// Records for identifiers the registry has never seen are dropped: the
// panel pushes status for hardware the sweep did not announce, and those
// deltas have no device to land on.
func (r *Registry) ApplyStatusDelta(rec lares.StatusRecord) {
	switch {
	case rec.Zone != nil:
		id := DeriveID(KindZone, rec.Zone.ID.String())
		r.applyTo(id, func(d *Device) bool {
			return applyZoneDelta(d, rec.Zone)
		})
	case rec.Output != nil:
		r.applyOutput(rec.Output)
	case rec.BusSensor != nil:
		r.applySensor(rec.BusSensor)
	case rec.Scenario != nil:
		id := DeriveID(KindScenario, rec.Scenario.ID.String())
		r.applyTo(id, func(d *Device) bool {
			return applyScenarioDelta(d, rec.Scenario)
		})
	case rec.System != nil:
		r.applySystem(rec.System)
	}
}

// upsert inserts the device or refreshes an existing one in place,
// returning a snapshot of the stored state.
func (r *Registry) upsert(d *Device) Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.devices[d.ID]; ok {
		existing.Name = d.Name
		existing.UpdatedAt = time.Now().UTC()
		return existing.Snapshot()
	}
	d.UpdatedAt = time.Now().UTC()
	r.devices[d.ID] = d
	return d.Snapshot()
}

// applyTo runs one mutation under the write lock and notifies listeners
// when it reports a change. Unknown identifiers are silent no-ops.
func (r *Registry) applyTo(id string, mutate func(*Device) bool) {
	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	changed := mutate(d)
	var snap Device
	if changed {
		d.UpdatedAt = time.Now().UTC()
		snap = d.Snapshot()
	}
	r.mu.Unlock()

	if changed {
		r.notifyUpdated(snap)
	}
}

// applyOutput resolves which device an output status belongs to. One
// panel output is discovered as exactly one of light, cover, thermostat
// or gate, so at most one derived identifier exists.
func (r *Registry) applyOutput(rec *lares.OutputStatus) {
	native := rec.ID.String()

	r.mu.Lock()
	var d *Device
	for _, kind := range []Kind{KindLight, KindCover, KindThermostat, KindGate} {
		if found, ok := r.devices[DeriveID(kind, native)]; ok {
			d = found
			break
		}
	}
	if d == nil {
		r.mu.Unlock()
		return
	}

	var changed bool
	switch d.Kind {
	case KindCover:
		changed = applyCoverDelta(d, rec)
	case KindThermostat:
		changed = applyThermostatDelta(d, rec)
	case KindGate:
		changed = applyGateDelta(d, rec)
	default:
		changed = applyLightDelta(d, rec)
	}
	var snap Device
	if changed {
		d.UpdatedAt = time.Now().UTC()
		snap = d.Snapshot()
	}
	r.mu.Unlock()

	if changed {
		r.notifyUpdated(snap)
	}
}

// applySensor fans one bus module reading out to its measurement devices.
// Each measurement notifies independently.
func (r *Registry) applySensor(rec *lares.BusSensorStatus) {
	if rec.Domus == nil {
		return
	}
	native := rec.ID.String()
	r.applyTo(SensorID(SensorTemperature, native), func(d *Device) bool {
		return applySensorDelta(d, rec.Domus.Temperature)
	})
	r.applyTo(SensorID(SensorHumidity, native), func(d *Device) bool {
		return applySensorDelta(d, rec.Domus.Humidity)
	})
	r.applyTo(SensorID(SensorLight, native), func(d *Device) bool {
		return applySensorDelta(d, rec.Domus.Light)
	})
}

// applySystem folds the panel-wide ambient temperature into every climate
// device. Thermostat outputs report setpoints but not the measured
// temperature; the system record carries the only reading.
func (r *Registry) applySystem(rec *lares.SystemStatus) {
	if rec.Temperature == nil || !rec.Temperature.Inside.IsSet() {
		return
	}
	current, err := rec.Temperature.Inside.Float()
	if err != nil {
		return
	}

	r.mu.Lock()
	var updated []Device
	for _, d := range r.devices {
		if d.Kind != KindThermostat {
			continue
		}
		if applyAmbient(d, current) {
			d.UpdatedAt = time.Now().UTC()
			updated = append(updated, d.Snapshot())
		}
	}
	r.mu.Unlock()

	for _, snap := range updated {
		r.notifyUpdated(snap)
	}
}

func (r *Registry) snapshotListeners() []Listener {
	r.listenerMu.RLock()
	defer r.listenerMu.RUnlock()
	out := make([]Listener, len(r.listeners))
	copy(out, r.listeners)
	return out
}

func (r *Registry) notifyDiscovered(d Device) {
	for _, l := range r.snapshotListeners() {
		r.safeNotify(func() { l.DeviceDiscovered(d) })
	}
}

func (r *Registry) notifyUpdated(d Device) {
	for _, l := range r.snapshotListeners() {
		r.safeNotify(func() { l.DeviceUpdated(d) })
	}
}

// safeNotify isolates listener panics so one misbehaving consumer cannot
// take down the panel read loop.
func (r *Registry) safeNotify(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("device listener panicked", "panic", rec)
		}
	}()
	fn()
}
