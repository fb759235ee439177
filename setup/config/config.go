// Package config is the root Global configuration the Host API's
// new(model, app_key, key_material, path, config) call takes, plus the
// Defaults/Verify validation idiom every sub-section config follows.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/discretlib/discret-go/internal/logging"
)

// ConfigErrors accumulates human-readable validation failures so Verify
// can report every problem at once instead of failing on the first.
type ConfigErrors []string

func (e *ConfigErrors) Add(msg string) { *e = append(*e, msg) }

func (e ConfigErrors) Error() string {
	return strings.Join(e, "\n")
}

func checkNotEmpty(errs *ConfigErrors, key, value string) {
	if value == "" {
		errs.Add(fmt.Sprintf("%s must not be empty", key))
	}
}

func checkPositive(errs *ConfigErrors, key string, value int64) {
	if value <= 0 {
		errs.Add(fmt.Sprintf("%s must be positive", key))
	}
}

// DefaultOpts controls how Defaults fills in unset fields — Generate is
// true when writing out a fresh config file (as opposed to filling gaps
// in a partially user-specified one) for a first-run experience with
// sensible on-disk paths.
type DefaultOpts struct {
	Generate bool
}

// Global is the complete, validated configuration for one discret-go
// instance. Its fields are exactly the closed configuration option set
// (data_dir, enable_lan_discovery, beacons, max_peers, sync_batch_bytes,
// sync_credit_window, handshake_timeout_ms, full_text_index_default)
// plus the identity/logging/transport wiring detail needed to actually
// act on them — no further user-facing knobs are introduced.
type Global struct {
	// AppKey scopes this instance's database file: data_dir/<sha256(app_key)>.db
	AppKey string `yaml:"app_key"`

	// DataDir holds the database file, the install salt and any rotated
	// log files.
	DataDir string `yaml:"data_dir"`

	// EnableLANDiscovery turns on discovery.LAN's pinecone multicast
	// announce/listen loop.
	EnableLANDiscovery bool `yaml:"enable_lan_discovery"`

	// Beacons lists rendezvous endpoints by scheme (tor://, i2p://,
	// ygg://) a peer without a direct route dials through.
	Beacons []string `yaml:"beacons"`

	// MaxPeers bounds the peer.Manager's concurrent active sessions.
	MaxPeers int `yaml:"max_peers"`

	// SyncBatchBytes and SyncCreditWindow tune syncproto's per-round
	// transfer-step batch size and its credit-window flow control.
	SyncBatchBytes     int `yaml:"sync_batch_bytes"`
	SyncCreditWindow   int `yaml:"sync_credit_window"`
	HandshakeTimeoutMS int `yaml:"handshake_timeout_ms"`

	// FullTextIndexDefault sets whether an entity gets a bleve index
	// by default when its data-model declaration doesn't say otherwise.
	FullTextIndexDefault bool `yaml:"full_text_index_default"`

	Logging   []logging.FileHook `yaml:"logging"`
	SentryDSN string             `yaml:"sentry_dsn"`

	Transports   Transports   `yaml:"transports"`
	RateLimiting RateLimiting `yaml:"rate_limiting"`
}

// AppKeyHash is the hex-encoded digest naming this instance's database
// file under DataDir.
func (g *Global) AppKeyHash() string {
	sum := sha256.Sum256([]byte(g.AppKey))
	return hex.EncodeToString(sum[:])
}

// DatabasePath is data_dir/<app_key_hash>.db.
func (g *Global) DatabasePath() string {
	return filepath.Join(g.DataDir, g.AppKeyHash()+".db")
}

func (g *Global) Defaults(opts DefaultOpts) {
	if opts.Generate && g.DataDir == "" {
		g.DataDir = "./discret_data"
	}
	if g.MaxPeers == 0 {
		g.MaxPeers = 64
	}
	if g.SyncBatchBytes == 0 {
		g.SyncBatchBytes = 1 << 20
	}
	if g.SyncCreditWindow == 0 {
		g.SyncCreditWindow = 256
	}
	if g.HandshakeTimeoutMS == 0 {
		g.HandshakeTimeoutMS = 5000
	}
	g.Transports.Defaults()
	g.RateLimiting.Defaults()
}

func (g *Global) Verify(errs *ConfigErrors) {
	checkNotEmpty(errs, "app_key", g.AppKey)
	checkNotEmpty(errs, "data_dir", g.DataDir)
	checkPositive(errs, "max_peers", int64(g.MaxPeers))
	checkPositive(errs, "sync_batch_bytes", int64(g.SyncBatchBytes))
	checkPositive(errs, "sync_credit_window", int64(g.SyncCreditWindow))
	checkPositive(errs, "handshake_timeout_ms", int64(g.HandshakeTimeoutMS))
	g.Transports.Verify(errs)
	g.RateLimiting.Verify(errs)
}

// Transports enables and configures the peer.Capability adapters this
// instance listens on.
type Transports struct {
	WebSocket WebSocketTransport `yaml:"websocket"`
	Tor       TorTransport       `yaml:"tor"`
	I2P       I2PTransport       `yaml:"i2p"`
	Overlay   OverlayTransport   `yaml:"overlay"`
}

func (t *Transports) Defaults() {
	if t.WebSocket.Enabled && t.WebSocket.ListenAddress == "" {
		t.WebSocket.ListenAddress = "0.0.0.0:9543"
	}
}

func (t *Transports) Verify(errs *ConfigErrors) {
	if t.WebSocket.Enabled {
		checkNotEmpty(errs, "transports.websocket.listen_address", t.WebSocket.ListenAddress)
	}
	if t.Tor.Enabled {
		checkNotEmpty(errs, "transports.tor.service_name", t.Tor.ServiceName)
	}
	if t.I2P.Enabled {
		checkNotEmpty(errs, "transports.i2p.service_name", t.I2P.ServiceName)
		checkNotEmpty(errs, "transports.i2p.sam_address", t.I2P.SAMAddress)
	}
}

type WebSocketTransport struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

type TorTransport struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

type I2PTransport struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	SAMAddress  string `yaml:"sam_address"`
}

// OverlayTransport configures discovery.Rendezvous's Yggdrasil overlay
// session, including static peers to seed connectivity.
type OverlayTransport struct {
	Enabled bool     `yaml:"enabled"`
	Peers   []string `yaml:"peers"`
}

// RateLimiting gates ingress rows per peer via room.Engine's blacklist
// cooldown (RecordFault/Blacklisted). Verify checks every field, but
// discret.New passes only Threshold and Cooloff to room.NewEngine:
// Enabled, the exempt lists and PerOperationOverrides are not applied.
type RateLimiting struct {
	Enabled   bool          `yaml:"enabled"`
	Threshold int           `yaml:"threshold"`
	Cooloff   time.Duration `yaml:"cooloff"`

	ExemptPeerKeys    []string `yaml:"exempt_peer_keys"`
	ExemptIPAddresses []string `yaml:"exempt_ip_addresses"`

	PerOperationOverrides map[string]RateLimitOverride `yaml:"per_operation_overrides"`
}

type RateLimitOverride struct {
	Threshold int           `yaml:"threshold"`
	Cooloff   time.Duration `yaml:"cooloff"`
}

func (r *RateLimiting) Defaults() {
	if r.Threshold == 0 {
		r.Threshold = 5
	}
	if r.Cooloff == 0 {
		r.Cooloff = 30 * time.Second
	}
}

func (r *RateLimiting) Verify(errs *ConfigErrors) {
	if !r.Enabled {
		return
	}
	if r.Threshold <= 0 || r.Cooloff <= 0 {
		errs.Add("rate_limiting: both 'threshold' and 'cooloff' must be positive when rate limiting is enabled")
	}
	for name, override := range r.PerOperationOverrides {
		if override.Threshold <= 0 || override.Cooloff <= 0 {
			errs.Add(fmt.Sprintf("rate_limiting.per_operation_overrides.%s: both 'threshold' and 'cooloff' must be positive", name))
		}
	}
	for _, ip := range r.ExemptIPAddresses {
		if _, _, err := net.ParseCIDR(ip); err != nil {
			if net.ParseIP(ip) == nil {
				errs.Add(fmt.Sprintf("invalid IP address or CIDR for rate_limiting.exempt_ip_addresses: %s", ip))
			}
		}
	}
}
