// Package discret is the host API: new/mutate/query/delete,
// subscribe_for_events, private_room, invite/accept, wired from every
// component package into one embeddable library type that owns a
// process context, brings every component up, and exposes one surface
// — a function-call API rather than an HTTP-routed one, since this
// system has no external HTTP surface of its own.
package discret

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/discretlib/discret-go/discovery"
	"github.com/discretlib/discret-go/errs"
	"github.com/discretlib/discret-go/eventbus"
	"github.com/discretlib/discret-go/identity"
	"github.com/discretlib/discret-go/internal/logging"
	"github.com/discretlib/discret-go/invite"
	"github.com/discretlib/discret-go/peer"
	"github.com/discretlib/discret-go/planner"
	"github.com/discretlib/discret-go/ql/deletion"
	"github.com/discretlib/discret-go/ql/mutation"
	"github.com/discretlib/discret-go/ql/query"
	"github.com/discretlib/discret-go/room"
	"github.com/discretlib/discret-go/roomserver/fulltext"
	"github.com/discretlib/discret-go/roomserver/internal"
	"github.com/discretlib/discret-go/roomserver/storage/sqlite3"
	"github.com/discretlib/discret-go/schema"
	"github.com/discretlib/discret-go/setup/config"
	"github.com/discretlib/discret-go/setup/process"
	"github.com/discretlib/discret-go/transport/i2p"
	"github.com/discretlib/discret-go/transport/tor"
	"github.com/discretlib/discret-go/transport/wsstream"
)

const inviteTTL = 24 * time.Hour

// Host is one running discret instance: its own identity, schema,
// storage, room set, event bus and peer session manager.
type Host struct {
	cfg      *config.Global
	identity *identity.Identity
	registry *schema.Registry
	version  schema.Version

	executor *internal.Executor
	querier  *internal.Querier
	rooms    *room.Engine
	bus      *eventbus.Bus
	peers    *peer.Manager
	fulltext *fulltext.Index

	caps []peer.Capability
	lan  *discovery.LAN

	proc *process.ProcessContext

	mu sync.Mutex
}

// New opens (creating on first run) one discret-go instance: model is
// a data-model DSL document declaring the initial schema, appKey
// scopes the database file, keyMaterial plus the per-install salt
// derive the node's identity, path overrides cfg.DataDir when
// non-empty, and cfg supplies the rest of the closed configuration
// option set.
func New(model, appKey, keyMaterial, path string, cfg *config.Global) (*Host, error) {
	if cfg == nil {
		cfg = &config.Global{}
	}
	cfg.AppKey = appKey
	if path != "" {
		cfg.DataDir = path
	}
	cfg.Defaults(config.DefaultOpts{Generate: true})

	var verr config.ConfigErrors
	cfg.Verify(&verr)
	if len(verr) > 0 {
		return nil, errs.WithKind(fmt.Errorf("invalid configuration: %s", verr.Error()), errs.SchemaViolation)
	}

	logging.SetupStdLogging()
	if err := logging.SetupHookLogging(cfg.Logging); err != nil {
		return nil, err
	}
	if err := logging.SetupSentry(cfg.SentryDSN); err != nil {
		return nil, err
	}

	salt, err := identity.LoadOrCreateSalt(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	id, err := identity.Derive(keyMaterial, salt)
	if err != nil {
		return nil, err
	}

	registry := schema.New()
	version, err := registry.Update(model)
	if err != nil {
		return nil, err
	}

	store, err := sqlite3.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	rooms, err := room.NewEngine(cfg.RateLimiting.Threshold, cfg.RateLimiting.Cooloff)
	if err != nil {
		return nil, err
	}

	bus, err := eventbus.New(filepath.Join(cfg.DataDir, "eventbus"))
	if err != nil {
		return nil, err
	}

	executor := internal.NewExecutor(registry, store, rooms, bus)
	querier := internal.NewQuerier(registry, store)

	idx := fulltext.New(registry, cfg.FullTextIndexDefault)
	executor.FullText = idx
	querier.Search = idx

	h := &Host{
		cfg: cfg, identity: id, registry: registry, version: version,
		executor: executor, querier: querier, rooms: rooms, bus: bus,
		fulltext: idx,
		proc:     process.NewProcessContext(),
	}

	h.peers = peer.NewManager(peer.Config{
		LocalKey: id.SigningPublic, Registry: registry, Store: store,
		Signer: executor.Signer, Rooms: rooms, Bus: bus, Writer: executor.Writer,
		CreditPerRoom: int64(cfg.SyncCreditWindow),
	})

	if err := h.startTransports(); err != nil {
		h.Close()
		return nil, err
	}
	if cfg.EnableLANDiscovery {
		if err := h.startLANDiscovery(); err != nil {
			h.Close()
			return nil, err
		}
	}

	return h, nil
}

// startTransports brings up every configured peer.Capability and its
// Serve accept loop, each tracked by the ProcessContext.
func (h *Host) startTransports() error {
	if h.cfg.Transports.WebSocket.Enabled {
		tlsCfg, err := selfSignedTLSConfig(h.identity.SigningPrivate)
		if err != nil {
			return err
		}
		wsT, err := wsstream.New(h.cfg.Transports.WebSocket.ListenAddress, tlsCfg, h.identity.SigningPublic)
		if err != nil {
			return err
		}
		h.caps = append(h.caps, wsT)
	}
	if h.cfg.Transports.Tor.Enabled {
		torT, err := tor.New(h.proc.Context(), h.cfg.Transports.Tor.ServiceName, h.identity.SigningPublic)
		if err != nil {
			return err
		}
		h.caps = append(h.caps, torT)
	}
	if h.cfg.Transports.I2P.Enabled {
		i2pT, err := i2p.New(h.cfg.Transports.I2P.ServiceName, h.cfg.Transports.I2P.SAMAddress, h.identity.SigningPublic)
		if err != nil {
			return err
		}
		h.caps = append(h.caps, i2pT)
	}

	for _, c := range h.caps {
		c := c
		h.proc.ComponentStarted()
		go func() {
			defer h.proc.ComponentFinished()
			if err := h.peers.Serve(h.proc.Context(), c, h.rooms.RoomIDs()); err != nil {
				logrus.WithError(err).WithField("scheme", c.Scheme()).Warn("transport accept loop ended")
			}
		}()
	}
	return nil
}

func (h *Host) startLANDiscovery() error {
	if len(h.caps) == 0 {
		return fmt.Errorf("enable_lan_discovery requires at least one enabled transport")
	}
	primary := h.caps[0]
	lan, err := discovery.NewLAN(h.identity.SigningPublic, primary.Scheme(), func(found discovery.Found) {
		ctx, cancel := context.WithTimeout(h.proc.Context(), time.Duration(h.cfg.HandshakeTimeoutMS)*time.Millisecond)
		defer cancel()
		if err := discovery.ConnectDiscovered(ctx, h.peers, primary, found, h.rooms.RoomIDs()); err != nil {
			logrus.WithError(err).Debug("LAN peer connect failed")
		}
	})
	if err != nil {
		return err
	}
	h.lan = lan
	return nil
}

// Mutate executes dsl signed with the host's own identity.
func (h *Host) Mutate(ctx context.Context, dsl string, params map[string]interface{}) (map[string]string, error) {
	file, err := mutation.Parse(dsl)
	if err != nil {
		return nil, err
	}
	return h.executor.Mutate(ctx, file, params, h.identity.SigningPrivate, h.version, internal.Now())
}

// Query executes dsl against every room the host is currently a member
// of.
func (h *Host) Query(ctx context.Context, dsl string, params map[string]interface{}) (map[string]interface{}, error) {
	file, err := query.Parse(dsl)
	if err != nil {
		return nil, err
	}
	scope := planner.RoomScope{AllowedRooms: h.rooms.RoomIDs()}
	return h.querier.Query(ctx, file, params, scope)
}

// Delete executes dsl against every room the host is currently a
// member of.
func (h *Host) Delete(ctx context.Context, dsl string, params map[string]interface{}) error {
	file, err := deletion.Parse(dsl)
	if err != nil {
		return err
	}
	scope := planner.RoomScope{AllowedRooms: h.rooms.RoomIDs()}
	return h.executor.Delete(ctx, file, params, h.identity.SigningPrivate, h.version, internal.Now(), scope)
}

// SubscribeForEvents returns the bounded-buffer stream of local and
// remote-originated events.
func (h *Host) SubscribeForEvents() *eventbus.Subscription {
	return h.bus.Subscribe(256)
}

// PrivateRoom creates a new single-owner Room and returns its id.
func (h *Host) PrivateRoom() (string, error) {
	roomID := uuid.NewString()
	r := room.NewPrivateRoom(roomID, h.identity.PublicKeyHex(), internal.Now())
	h.rooms.Put(r)
	return roomID, nil
}

// Invite mints a signed invitation token for roomID at role.
func (h *Host) Invite(roomID string, role room.Role) (string, error) {
	now := time.Now()
	t := invite.Token{
		RoomID: roomID,
		Role:   role,
		Issuer: h.identity.PublicKeyHex(),
		Expiry: invite.NewExpiry(now, inviteTTL),
		Nonce:  uuid.NewString(),
	}
	return invite.Generate(h.identity.SigningPrivate, t)
}

// Accept redeems tokenText: it authors the corresponding membership
// epoch locally. No peer endpoint accompanies the token itself, so the
// bounded-retry first sync round is left disabled here — it fires
// instead once discovery locates the issuer and a normal session opens.
func (h *Host) Accept(ctx context.Context, tokenText string) error {
	deps := invite.AcceptDeps{Rooms: h.rooms}
	_, err := invite.Accept(ctx, deps, tokenText, h.identity.PublicKeyHex(), peer.Endpoint{}, internal.Now())
	return err
}

// Close tears down every background component via its supervising
// process.ProcessContext.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lan != nil {
		_ = h.lan.Close()
	}
	for _, c := range h.caps {
		if cl, ok := c.(io.Closer); ok {
			_ = cl.Close()
		}
	}
	h.proc.Shutdown()
	<-h.proc.WaitForShutdown()
	if h.fulltext != nil {
		_ = h.fulltext.Close()
	}
	if h.bus != nil {
		h.bus.Close()
	}
}

// selfSignedTLSConfig builds a TLS certificate whose key pair *is* the
// node's ed25519 signing identity, so a peer's extractPinnedKey sees
// the signing public key directly in the presented certificate,
// without a separate PKI.
func selfSignedTLSConfig(priv ed25519.PrivateKey) (*tls.Config, error) {
	pub := priv.Public().(ed25519.PublicKey)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkixName(pub),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
	if err != nil {
		return nil, fmt.Errorf("create self-signed certificate: %w", err)
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true, // nolint: gosec -- pinning is by signing key, not CA chain
	}, nil
}

func pkixName(pub ed25519.PublicKey) pkix.Name {
	return pkix.Name{CommonName: hex.EncodeToString(pub)}
}
