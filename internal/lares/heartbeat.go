package lares

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// defaultHeartbeatInterval is the transport ping cadence. The panel does
// not acknowledge application-level pings, so liveness rides on websocket
// control frames.
const defaultHeartbeatInterval = 30 * time.Second

// heartbeatLoop probes the connection while the session is ready.
//
// A probe is a transport ping; the pong handler installed on the session
// records every response, whether or not a probe is outstanding. When the
// oldest unanswered probe goes without a response for twice the interval,
// the connection is declared dead: the socket is force-closed with no
// close handshake and reconnection triggers immediately, exactly once per
// detection via the session's failure guard.
func (c *Client) heartbeatLoop(sess *session) {
	defer c.wg.Done()

	interval := c.opts.HeartbeatInterval
	sess.pongAt.Store(time.Now().UnixNano())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Unix nanos of the oldest unanswered probe; zero when idle.
	var probeAt int64

	for {
		select {
		case <-sess.failed:
			return
		case <-ticker.C:
			if probeAt != 0 && sess.pongAt.Load() >= probeAt {
				probeAt = 0
			}
			if probeAt != 0 {
				if stale := time.Since(time.Unix(0, probeAt)); stale >= 2*interval {
					sess.fail(fmt.Errorf("%w: no heartbeat response for %v", ErrConnectionFailed, stale.Round(time.Millisecond)))
					return
				}
			}

			deadline := time.Now().Add(writeTimeout)
			if err := sess.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				sess.fail(fmt.Errorf("%w: heartbeat probe: %w", ErrConnectionFailed, err))
				return
			}
			if probeAt == 0 {
				probeAt = time.Now().UnixNano()
			}
			c.logger.Debug("heartbeat probe sent")
		}
	}
}
