package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteSessionEvent records a panel session transition.
//
// Used for plotting connection stability over time.
//
// Parameters:
//   - host: Panel host the session belongs to
//   - event: Transition name (connected, disconnected, auth_failure)
func (c *Client) WriteSessionEvent(host, event string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"panel_session",
		map[string]string{
			"host":  host,
			"event": event,
		},
		map[string]interface{}{
			"value": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSessionStats records the panel transport counters.
//
// The bridge health reporter calls this on a fixed interval so frame
// rates, parse errors and reconnect counts can be graphed.
//
// Parameters:
//   - host: Panel host
//   - state: Connection state at sample time (e.g., "ready")
//   - framesRx, framesTx: Cumulative frame counters
//   - parseErrors: Cumulative dropped-frame counter
//   - reconnects: Cumulative reconnect attempts
func (c *Client) WriteSessionStats(host, state string, framesRx, framesTx, parseErrors, reconnects int64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"panel_stats",
		map[string]string{
			"host":  host,
			"state": state,
		},
		map[string]interface{}{
			"frames_rx":    framesRx,
			"frames_tx":    framesTx,
			"parse_errors": parseErrors,
			"reconnects":   reconnects,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "bridge-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
