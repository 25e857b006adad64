package natsx

import (
	"os"
	"strings"

	"github.com/nats-io/nats.go"
)

// ClientName is the connection name reported to the NATS server.
const ClientName = "hoot"

// NewClient creates a new connection to a NATS server. An empty url falls
// back to the NATS_URL environment variable and then to nats.DefaultURL. The
// connection is configured with the client name "hoot", compression enabled
// and unlimited reconnects unless opts are given.
//
// Returns:
//   - *nats.Conn: A pointer to the established NATS connection.
//   - error: An error if the connection could not be established.
func NewClient(url string, opts ...nats.Option) (*nats.Conn, error) {
	if len(opts) == 0 {
		opts = append(opts, nats.Name(ClientName), nats.Compression(true), nats.MaxReconnects(-1))
	}
	return nats.Connect(ResolveURL(url), opts...)
}

// ResolveURL picks the server url from the argument, NATS_URL or the default.
func ResolveURL(url string) string {
	for _, u := range []string{url, os.Getenv("NATS_URL")} {
		if u = strings.TrimSpace(u); u != "" {
			return u
		}
	}
	return nats.DefaultURL
}
