// Package arweave talks to the permaweb: it resolves the authoritative
// transaction for a vault id through an index service with gateway
// fallback, fetches payload bytes, and uploads new versions chunk by chunk.
//
// The network is consumed as an eventually-consistent substrate. Every call
// is bounded by the HTTP client timeout; nothing here hangs indefinitely.
package arweave

import (
	"log/slog"
	"net/http"
	"regexp"
	"time"
)

const (
	// DefaultAppName tags every payload transaction so the index service
	// can find them.
	DefaultAppName = "keyfort"
	// vaultIDTagName is the transaction tag carrying the vault id.
	vaultIDTagName = "Vault-Id"

	indexAttempts    = 3
	indexBaseBackoff = 250 * time.Millisecond
	indexMaxBackoff  = time.Second
)

var defaultGateways = []string{
	"https://arweave.net",
	"https://ar-io.net",
	"https://permagate.io",
}

// Transaction ids are 43 base64url characters. Vault ids that match this
// shape may themselves be cross-chain transaction hashes.
var txIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{43}$`)

// Client queries and writes the storage network.
type Client struct {
	gateways  []string
	secondary []string
	httpc     *http.Client
	log       *slog.Logger
	appName   string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithGateways sets the prioritized gateway list.
func WithGateways(gateways ...string) ClientOption {
	return func(c *Client) {
		c.gateways = gateways
	}
}

// WithSecondaryGateways sets the gateway list for the secondary ledger,
// probed when a vault id itself looks like a cross-chain transaction hash.
func WithSecondaryGateways(gateways ...string) ClientOption {
	return func(c *Client) {
		c.secondary = gateways
	}
}

// WithHTTPClient sets the HTTP client. The default carries a 30s timeout.
func WithHTTPClient(httpc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpc = httpc
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// WithAppName sets the application tag on payload transactions.
func WithAppName(name string) ClientOption {
	return func(c *Client) {
		c.appName = name
	}
}

// NewClient builds a Client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		gateways: defaultGateways,
		httpc:    &http.Client{Timeout: 30 * time.Second},
		log:      slog.Default(),
		appName:  DefaultAppName,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LooksLikeTxID reports whether id has the shape of a storage-network
// transaction id.
func LooksLikeTxID(id string) bool {
	return txIDPattern.MatchString(id)
}
