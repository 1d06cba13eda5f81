package lares

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"
)

// wsSubprotocol is the application sub-protocol token the panel requires
// during the websocket handshake.
const wsSubprotocol = "KS_WSOCK"

// DefaultPath is the websocket endpoint path served by the panel.
const DefaultPath = "/KseniaWsock"

// legacyCipherSuites pins the broad suite list older panel firmware can
// negotiate. The panel's embedded TLS stack predates current defaults.
var legacyCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
	tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
	tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_RSA_WITH_AES_128_CBC_SHA,
	tls.TLS_RSA_WITH_AES_256_CBC_SHA,
	tls.TLS_RSA_WITH_3DES_EDE_CBC_SHA,
}

// endpointURL builds the panel websocket URL from the client options.
func endpointURL(opts Options) string {
	scheme := "ws"
	if opts.UseTLS {
		scheme = "wss"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   opts.Host + ":" + strconv.Itoa(opts.Port),
		Path:   opts.Path,
	}
	return u.String()
}

// dial opens the websocket to the panel and completes the handshake.
// Cancellation and the connect timeout arrive through ctx.
func dial(ctx context.Context, opts Options) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Subprotocols:     []string{wsSubprotocol},
		HandshakeTimeout: opts.ConnectTimeout,
	}
	if opts.UseTLS {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // panels ship self-signed certificates
			MinVersion:         tls.VersionTLS10,
			CipherSuites:       legacyCipherSuites,
		}
	}

	conn, resp, err := dialer.DialContext(ctx, endpointURL(opts), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: handshake rejected (%s): %w", ErrConnectionFailed, resp.Status, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return conn, nil
}
