// Package p2p is the libp2p-based overlay DAFS nodes use to find each
// other and exchange file chunks, direct messages, and recommender model
// updates without a central server.
package p2p

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	libp2pprotocol "github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/rs/zerolog"

	"github.com/dafs-project/dafs/internal/security"
	"github.com/dafs-project/dafs/pkg/protocol"
)

// Per-peer inbound request budget: each remote peer may open this many
// stream requests per interval across all three protocols before the
// host starts dropping its streams.
const (
	peerRequestRate     = 20
	peerRequestInterval = time.Second
	peerRequestBurst    = 40
)

// MDNSServiceTag is the mDNS service tag nodes advertise under for LAN
// discovery.
const MDNSServiceTag = "dafs.local"

// Config holds the P2P host configuration.
type Config struct {
	ListenPort     int
	EnableMDNS     bool
	EnableDHT      bool
	BootstrapPeers []string
}

// DefaultConfig returns a sensible default P2P configuration.
func DefaultConfig() Config {
	return Config{
		ListenPort: 0,
		EnableMDNS: true,
		EnableDHT:  true,
	}
}

// PeerInfo describes a peer known to the host.
type PeerInfo struct {
	ID        string   `json:"id"`
	Addresses []string `json:"addresses"`
	Connected bool     `json:"connected"`
}

// StreamHandler processes one decoded envelope received on a protocol
// stream and returns the envelope to write back, or nil for no reply.
type StreamHandler func(peerID string, env *protocol.Envelope) (*protocol.Envelope, error)

// Host wraps a libp2p host with the three DAFS request/response protocols.
type Host struct {
	mu       sync.RWMutex
	host     host.Host
	dht      *dht.IpfsDHT
	mdnsSvc  mdns.Service
	handlers map[libp2pprotocol.ID]StreamHandler
	limiter  *security.RateLimiter
	logger   zerolog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates and starts a new P2P host, wiring up the file-exchange,
// messaging, and peer-discovery protocol handlers passed in handlers (a
// handler may be nil to leave that protocol unhandled, e.g. on a
// read-only archival node).
func New(cfg Config, handlers map[libp2pprotocol.ID]StreamHandler, logger zerolog.Logger) (*Host, error) {
	ctx, cancel := context.WithCancel(context.Background())

	listenAddr := fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.ListenPort)
	quicAddr := fmt.Sprintf("/ip4/0.0.0.0/udp/%d/quic-v1", cfg.ListenPort)

	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(listenAddr, quicAddr),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Transport(libp2pquic.NewTransport),
		libp2p.Security(noise.ID, noise.New),
		libp2p.NATPortMap(),
		libp2p.EnableHolePunching(),
		libp2p.EnableRelay(),
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("p2p: create host: %w", err)
	}

	p2pHost := &Host{
		host:     h,
		handlers: make(map[libp2pprotocol.ID]StreamHandler),
		limiter:  security.NewRateLimiter(peerRequestRate, peerRequestInterval, peerRequestBurst),
		logger:   logger.With().Str("component", "p2p_host").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}

	for _, id := range []libp2pprotocol.ID{
		libp2pprotocol.ID(protocol.FileExchangeProtocolID),
		libp2pprotocol.ID(protocol.MessagingProtocolID),
		libp2pprotocol.ID(protocol.PeerDiscoveryProtocolID),
	} {
		fn := handlers[id]
		if fn == nil {
			continue
		}
		p2pHost.handlers[id] = fn
		h.SetStreamHandler(id, p2pHost.makeStreamHandler(id, fn))
	}

	logger.Info().
		Str("peer_id", h.ID().String()).
		Strs("addrs", multiaddrsToStrings(h)).
		Msg("p2p host started")

	if cfg.EnableMDNS {
		if err := p2pHost.startMDNS(); err != nil {
			logger.Warn().Err(err).Msg("mDNS discovery failed to start")
		}
	}

	if cfg.EnableDHT {
		if err := p2pHost.startDHT(ctx, cfg.BootstrapPeers); err != nil {
			logger.Warn().Err(err).Msg("DHT discovery failed to start")
		}
	}

	return p2pHost, nil
}

// ID returns the host's peer ID.
func (h *Host) ID() string {
	return h.host.ID().String()
}

// Addrs returns the host's listen addresses.
func (h *Host) Addrs() []string {
	return multiaddrsToStrings(h.host)
}

// Connect connects to a peer given its multiaddr string (e.g.
// "/ip4/1.2.3.4/tcp/4001/p2p/Qm...").
func (h *Host) Connect(ctx context.Context, addrStr string) error {
	addr, err := peer.AddrInfoFromString(addrStr)
	if err != nil {
		return fmt.Errorf("p2p: parse addr: %w", err)
	}
	if err := h.host.Connect(ctx, *addr); err != nil {
		return fmt.Errorf("p2p: connect to %s: %w", addr.ID, err)
	}
	h.logger.Info().Str("peer_id", addr.ID.String()).Msg("connected to peer")
	return nil
}

// Request opens a stream to peerIDStr over protoID, writes msg, and waits
// for one response envelope, subject to timeout.
func (h *Host) Request(ctx context.Context, peerIDStr string, protoID libp2pprotocol.ID, timeout time.Duration, msgType protocol.MessageType, msg interface{}) (*protocol.Envelope, error) {
	pid, err := peer.Decode(peerIDStr)
	if err != nil {
		return nil, fmt.Errorf("p2p: decode peer id: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stream, err := h.host.NewStream(reqCtx, pid, protoID)
	if err != nil {
		return nil, fmt.Errorf("p2p: open stream to %s: %w", peerIDStr, err)
	}
	defer stream.Close()

	stream.SetDeadline(time.Now().Add(timeout))

	wire, err := protocol.Encode(msgType, msg)
	if err != nil {
		return nil, fmt.Errorf("p2p: encode request: %w", err)
	}
	if _, err := stream.Write(wire); err != nil {
		return nil, fmt.Errorf("p2p: write request to %s: %w", peerIDStr, err)
	}
	if err := stream.CloseWrite(); err != nil {
		return nil, fmt.Errorf("p2p: close write to %s: %w", peerIDStr, err)
	}

	env, err := protocol.Decode(bufio.NewReader(stream))
	if err != nil {
		return nil, fmt.Errorf("p2p: decode response from %s: %w", peerIDStr, err)
	}
	return env, nil
}

// RequestFileExchange is Request pinned to the file-exchange protocol and
// its timeout, for callers that only ever speak that protocol.
func (h *Host) RequestFileExchange(ctx context.Context, peerIDStr string, msgType protocol.MessageType, msg interface{}) (*protocol.Envelope, error) {
	return h.Request(ctx, peerIDStr, libp2pprotocol.ID(protocol.FileExchangeProtocolID), protocol.FileExchangeTimeout, msgType, msg)
}

// RequestMessaging is Request pinned to the messaging protocol and its
// timeout.
func (h *Host) RequestMessaging(ctx context.Context, peerIDStr string, msgType protocol.MessageType, msg interface{}) (*protocol.Envelope, error) {
	return h.Request(ctx, peerIDStr, libp2pprotocol.ID(protocol.MessagingProtocolID), protocol.MessagingTimeout, msgType, msg)
}

// RequestPeerDiscovery is Request pinned to the peer-discovery protocol and
// its timeout.
func (h *Host) RequestPeerDiscovery(ctx context.Context, peerIDStr string, msgType protocol.MessageType, msg interface{}) (*protocol.Envelope, error) {
	return h.Request(ctx, peerIDStr, libp2pprotocol.ID(protocol.PeerDiscoveryProtocolID), protocol.PeerDiscoveryTimeout, msgType, msg)
}

// ConnectedPeerIDs returns the peer ID string of every currently connected
// peer, for callers that only need identity, not full PeerInfo.
func (h *Host) ConnectedPeerIDs() []string {
	conns := h.host.Network().Conns()
	seen := make(map[peer.ID]bool)
	ids := make([]string, 0, len(conns))
	for _, conn := range conns {
		pid := conn.RemotePeer()
		if seen[pid] {
			continue
		}
		seen[pid] = true
		ids = append(ids, pid.String())
	}
	return ids
}

// Peers returns info about every currently connected peer.
func (h *Host) Peers() []PeerInfo {
	conns := h.host.Network().Conns()
	peers := make([]PeerInfo, 0, len(conns))
	seen := make(map[peer.ID]bool)

	for _, conn := range conns {
		pid := conn.RemotePeer()
		if seen[pid] {
			continue
		}
		seen[pid] = true

		addrs := make([]string, 0)
		for _, addr := range h.host.Peerstore().Addrs(pid) {
			addrs = append(addrs, addr.String())
		}

		peers = append(peers, PeerInfo{
			ID:        pid.String(),
			Addresses: addrs,
			Connected: h.host.Network().Connectedness(pid) == network.Connected,
		})
	}
	return peers
}

// PeerCount returns the number of distinct connected peers.
func (h *Host) PeerCount() int {
	conns := h.host.Network().Conns()
	seen := make(map[peer.ID]bool)
	for _, conn := range conns {
		seen[conn.RemotePeer()] = true
	}
	return len(seen)
}

// Stop shuts down the P2P host and its discovery services.
func (h *Host) Stop() error {
	h.cancel()

	if h.mdnsSvc != nil {
		if err := h.mdnsSvc.Close(); err != nil {
			h.logger.Warn().Err(err).Msg("failed to close mDNS")
		}
	}
	if h.dht != nil {
		if err := h.dht.Close(); err != nil {
			h.logger.Warn().Err(err).Msg("failed to close DHT")
		}
	}
	if err := h.host.Close(); err != nil {
		return fmt.Errorf("p2p: close host: %w", err)
	}

	h.logger.Info().Msg("p2p host stopped")
	return nil
}

// makeStreamHandler adapts a StreamHandler to a raw libp2p network.StreamHandler:
// decode the incoming envelope, invoke fn, encode and write back any reply.
func (h *Host) makeStreamHandler(protoID libp2pprotocol.ID, fn StreamHandler) network.StreamHandler {
	return func(s network.Stream) {
		defer s.Close()

		peerID := s.Conn().RemotePeer().String()
		if !h.limiter.Allow(peerID) {
			h.logger.Debug().Str("peer_id", peerID).Str("protocol", string(protoID)).Msg("peer rate limited")
			return
		}

		env, err := protocol.Decode(bufio.NewReader(s))
		if err != nil {
			h.logger.Debug().Err(err).Str("peer_id", peerID).Str("protocol", string(protoID)).Msg("decode failed")
			return
		}

		reply, err := fn(peerID, env)
		if err != nil {
			h.logger.Debug().Err(err).Str("peer_id", peerID).Str("protocol", string(protoID)).Msg("handler failed")
			return
		}
		if reply == nil {
			return
		}

		wire, err := reply.EncodeRaw()
		if err != nil {
			h.logger.Warn().Err(err).Msg("encode reply failed")
			return
		}
		if _, err := s.Write(wire); err != nil {
			h.logger.Debug().Err(err).Str("peer_id", peerID).Msg("write reply failed")
		}
	}
}

// startMDNS sets up mDNS for LAN peer discovery.
func (h *Host) startMDNS() error {
	notifee := &mdnsNotifee{host: h}
	svc := mdns.NewMdnsService(h.host, MDNSServiceTag, notifee)
	if err := svc.Start(); err != nil {
		return err
	}
	h.mdnsSvc = svc
	h.logger.Info().Msg("mDNS discovery started")
	return nil
}

// startDHT sets up the Kademlia DHT for internet peer discovery.
func (h *Host) startDHT(ctx context.Context, bootstrapPeers []string) error {
	kadDHT, err := dht.New(ctx, h.host, dht.Mode(dht.ModeAutoServer))
	if err != nil {
		return fmt.Errorf("p2p: create DHT: %w", err)
	}
	if err := kadDHT.Bootstrap(ctx); err != nil {
		return fmt.Errorf("p2p: bootstrap DHT: %w", err)
	}
	h.dht = kadDHT

	for _, addrStr := range bootstrapPeers {
		addr, err := peer.AddrInfoFromString(addrStr)
		if err != nil {
			h.logger.Warn().Str("addr", addrStr).Err(err).Msg("invalid bootstrap peer")
			continue
		}
		go func(ai peer.AddrInfo) {
			ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := h.host.Connect(ctx, ai); err != nil {
				h.logger.Debug().Str("peer", ai.ID.String()).Err(err).Msg("bootstrap connect failed")
			}
		}(*addr)
	}

	h.logger.Info().Msg("DHT discovery started")
	return nil
}

// FindPeers uses the DHT to discover peers advertising rendezvous.
func (h *Host) FindPeers(ctx context.Context, rendezvous string) (<-chan peer.AddrInfo, error) {
	if h.dht == nil {
		return nil, fmt.Errorf("p2p: DHT not initialized")
	}

	routingDiscovery := drouting.NewRoutingDiscovery(h.dht)
	if _, err := routingDiscovery.Advertise(ctx, rendezvous); err != nil {
		return nil, fmt.Errorf("p2p: advertise: %w", err)
	}
	peerChan, err := routingDiscovery.FindPeers(ctx, rendezvous)
	if err != nil {
		return nil, fmt.Errorf("p2p: find peers: %w", err)
	}
	return peerChan, nil
}

// LibP2PHost returns the underlying libp2p host for advanced use.
func (h *Host) LibP2PHost() host.Host {
	return h.host
}

type mdnsNotifee struct {
	host *Host
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.host.host.ID() {
		return
	}

	n.host.logger.Info().Str("peer_id", pi.ID.String()).Msg("mDNS: peer discovered")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.host.host.Connect(ctx, pi); err != nil {
		n.host.logger.Debug().Err(err).Str("peer_id", pi.ID.String()).Msg("mDNS: auto-connect failed")
	}
}

func multiaddrsToStrings(h host.Host) []string {
	addrs := h.Addrs()
	result := make([]string, len(addrs))
	for i, a := range addrs {
		result[i] = fmt.Sprintf("%s/p2p/%s", a, h.ID())
	}
	return result
}
</content>
