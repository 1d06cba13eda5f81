// Package device provides the device registry for the Lares bridge.
//
// The registry is the catalogue of every entity the panel exposes. It sits
// between the panel client and the bridge: the client feeds it raw
// discovery and status records, the registry translates them into typed
// devices and emits change notifications for consumers (MQTT publisher,
// REST API, WebSocket stream).
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│                         Device Registry                          │
//	│                                                                  │
//	│  ┌──────────────────┐   ┌──────────────────┐   ┌──────────────┐  │
//	│  │     Registry     │   │     Mapping      │   │    Types     │  │
//	│  │  (registry.go)   │──▶│   (mapping.go)   │   │  (types.go)  │  │
//	│  │                  │   │                  │   │              │  │
//	│  │ • lares.Sink     │   │ • record→device  │   │ • Device     │  │
//	│  │ • query ops      │   │ • delta folding  │   │ • per-kind   │  │
//	│  │ • notifications  │   │ • motion derive  │   │   status     │  │
//	│  └──────────────────┘   └──────────────────┘   └──────────────┘  │
//	│           ▲                                                      │
//	└───────────│──────────────────────────────────────────────────────┘
//	            │ InventoryRecord / StatusRecord
//	┌───────────┴──────────┐        ┌──────────────────────────┐
//	│  Panel client        │        │  Listeners               │
//	│  (internal/lares)    │        │  • MQTT state publisher  │
//	└──────────────────────┘        │  • WebSocket hub         │
//	                                └──────────────────────────┘
//
// # Identity
//
// Device identifiers are derived, stable and collision-free: the kind
// joined to the panel's native id ("light_3", "zone_14"). Bus sensor
// modules fan out into one device per measurement ("sensor_temperature_4",
// "sensor_humidity_4", "sensor_light_4"). The native id alone is NOT
// unique across record families: output 3 and zone 3 are different
// hardware.
//
// # Key Types
//
//   - Device: one panel entity with exactly one kind-specific status
//   - Kind: light, cover, thermostat, sensor, zone, scenario, gate
//   - Listener: receives DeviceDiscovered / DeviceUpdated snapshots
//
// # Usage
//
//	registry := device.NewRegistry()
//	registry.SetLogger(log)
//	registry.AddListener(publisher)
//
//	// Wire into the panel client; records flow in from there.
//	client, err := lares.New(lares.Options{...}, listener, registry)
//
//	// Query devices
//	lights := registry.ListKind(device.KindLight)
//	d, ok := registry.Get("light_3")
//
// # Thread Safety
//
// The Registry is safe for concurrent use. Listener callbacks run on the
// panel client's read goroutine and receive independent snapshots; they
// must not call back into the registry while blocking on it.
package device
