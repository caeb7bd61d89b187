package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	libp2pprotocol "github.com/libp2p/go-libp2p/core/protocol"
	"github.com/rs/zerolog"

	"github.com/dafs-project/dafs/internal/cache"
	"github.com/dafs-project/dafs/internal/config"
	"github.com/dafs-project/dafs/internal/files"
	"github.com/dafs-project/dafs/internal/identity"
	"github.com/dafs-project/dafs/internal/kv"
	"github.com/dafs-project/dafs/internal/messaging"
	"github.com/dafs-project/dafs/internal/observability"
	"github.com/dafs-project/dafs/internal/p2p"
	"github.com/dafs-project/dafs/internal/recommend"
	"github.com/dafs-project/dafs/internal/store/sqlite"
	"github.com/dafs-project/dafs/pkg/crypto"
	"github.com/dafs-project/dafs/pkg/protocol"
	"github.com/dafs-project/dafs/pkg/version"
)

// modelExchangeInterval paces how often this node shares its locally
// trained recommender weights with connected peers for aggregation.
const modelExchangeInterval = 10 * time.Minute

func main() {
	cfg, err := config.Load("config.json")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:        cfg.GetLogLevel(),
		Format:       cfg.Logging.Format,
		OutputPath:   cfg.Logging.OutputPath,
		ErrorPath:    cfg.Logging.ErrorPath,
		EnableCaller: cfg.Logging.EnableCaller,
		EnableStack:  cfg.Logging.EnableStack,
		Service:      cfg.App.Name,
		Version:      version.Version,
	})

	logger.Info().
		Str("version", version.Version).
		Str("git_commit", version.GitCommit).
		Str("platform", version.Platform).
		Msg("starting dafs node")

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker(logger, version.Version)

	store, err := kv.Open(kv.Options{Dir: cfg.Storage.KVDir}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open metadata store — cannot start without it")
	}
	defer store.Close()
	health.RegisterCheck("kv", observability.KVHealthCheck(func(ctx context.Context) error {
		_, err := store.Exists(ctx, kv.NamespaceIdentity, []byte("__health__"))
		return err
	}))

	searchIndex, err := files.NewSearchIndex(sqlite.Config{
		Path:            cfg.Storage.SearchIndexPath,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		WALMode:         true,
		ForeignKeys:     true,
		BusyTimeout:     5 * time.Second,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open search index — cannot start without it")
	}
	health.RegisterCheck("search_index", observability.SearchIndexHealthCheck(func(ctx context.Context) error {
		_, err := searchIndex.Search(ctx, nil, "", 1)
		return err
	}))

	identityRegistry := identity.NewRegistry(store, logger)

	self, seed, err := bootstrapLocalIdentity(context.Background(), identityRegistry, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to establish local node identity")
	}
	identityKeyPair, err := crypto.KeyPairFromSeed(seed)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to derive node key pair from identity seed")
	}
	signingKeyPair := crypto.DeriveSigningKeyPair(identityKeyPair)
	sessions := crypto.NewSessionManager(identityKeyPair, "dafs-messaging")

	filesRepo := files.NewRepository(store, logger)
	localStorage, err := files.NewLocalStorage(cfg.Storage.FilesDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize file storage")
	}
	uploadStager, err := files.NewUploadStager(cfg.Storage.UploadTmpDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize upload staging directory")
	}
	var searchCache *cache.LRU
	if cfg.Cache.LRU.Enabled {
		searchCache = cache.NewLRU(cfg.Cache.LRU.MaxEntries)
	}
	filesSvc := files.NewService(filesRepo, localStorage, searchIndex, uploadStager, identityRegistry, searchCache, logger)

	recommendSvc, err := recommend.NewService(context.Background(), store, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize recommender")
	}
	defer recommendSvc.Stop()

	tracker := p2p.NewTracker()
	bootstrapStore := p2p.NewBootstrapStore(store)

	// messagingSvc is filled in once the host exists, since it needs the
	// host as its Transport; the handler map below closes that loop by
	// capturing the variable rather than its (not yet set) value.
	var messagingSvc *messaging.Service

	handlers := map[libp2pprotocol.ID]p2p.StreamHandler{
		libp2pprotocol.ID(protocol.MessagingProtocolID): func(peerID string, env *protocol.Envelope) (*protocol.Envelope, error) {
			return messagingSvc.HandleStream(peerID, env)
		},
		libp2pprotocol.ID(protocol.FileExchangeProtocolID):  fileExchangeHandler(filesSvc, recommendSvc, self.UserID, identityKeyPair.PrivateKey, logger),
		libp2pprotocol.ID(protocol.PeerDiscoveryProtocolID): peerDiscoveryHandler(tracker, bootstrapStore, recommendSvc.Verifier(), self.UserID, logger),
	}

	host, err := p2p.New(p2p.Config{
		ListenPort:     cfg.P2P.ListenPort,
		EnableMDNS:     cfg.P2P.EnableMDNS,
		EnableDHT:      cfg.P2P.EnableDHT,
		BootstrapPeers: cfg.P2P.BootstrapPeers,
	}, handlers, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start p2p host — cannot start without an overlay")
	}
	health.RegisterCheck("p2p_host", observability.P2PHostHealthCheck(func() error {
		host.PeerCount()
		return nil
	}))

	presence := messaging.NewPresenceTracker(5 * time.Minute)
	defer presence.Stop()
	messagingRepo := messaging.NewRepository(store, logger)
	messagingSvc = messaging.NewService(messagingRepo, host, sessions, presence, self.UserID, logger)

	stopExchange := make(chan struct{})
	go runModelExchangeLoop(host, recommendSvc, self.UserID, signingKeyPair, logger, stopExchange)
	go recordPeerCountLoop(host, metrics, stopExchange)
	go runPeerAnnounceLoop(host, self.UserID, signingKeyPair, logger, stopExchange)

	logger.Info().
		Str("user_id", self.UserID).
		Str("username", self.Username).
		Str("peer_id", host.ID()).
		Msg("dafs node started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	close(stopExchange)
	if err := host.Stop(); err != nil {
		logger.Error().Err(err).Msg("p2p host shutdown error")
	}
	if err := searchIndex.Close(); err != nil {
		logger.Error().Err(err).Msg("search index close error")
	}

	logger.Info().Msg("dafs node shut down successfully")
}

// bootstrapLocalIdentity loads this node's operator identity, registering a
// fresh one on first run. A dafs node runs on behalf of exactly one local
// identity; DAFS_USERNAME/DAFS_PASSWORD mirror the other DAFS_* environment
// overrides config.Load already recognizes.
func bootstrapLocalIdentity(ctx context.Context, registry *identity.Registry, logger zerolog.Logger) (*identity.WrappedIdentity, [crypto.KeySize]byte, error) {
	username := os.Getenv("DAFS_USERNAME")
	password := os.Getenv("DAFS_PASSWORD")
	if username == "" {
		username = "node-operator"
	}

	record, seed, err := registry.Authenticate(ctx, username, password)
	if err == nil {
		return record, seed, nil
	}

	record, seed, err = registry.Register(ctx, username, username, password)
	if err != nil {
		return nil, [crypto.KeySize]byte{}, err
	}
	logger.Info().Str("username", username).Msg("registered new local node identity")
	return record, seed, nil
}

// recordPeerCountLoop periodically samples the host's connected-peer count
// into the P2P active-connections gauge, until stop is closed.
func recordPeerCountLoop(host *p2p.Host, metrics *observability.Metrics, stop <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			metrics.P2PActiveConnections.WithLabelValues("direct").Set(float64(host.PeerCount()))
		}
	}
}

// peerAnnounceInterval paces how often a node re-announces its addresses
// and recommender signing key to every connected peer. This is the only
// path by which a peer's Verifier learns a signing key, so it must repeat
// periodically to cover peers that connect after the last announce.
const peerAnnounceInterval = time.Minute

// runPeerAnnounceLoop periodically sends a PeerDiscovery announcement,
// carrying this node's signing public key, to every connected peer so
// they can authenticate this node's future federated model updates.
func runPeerAnnounceLoop(host *p2p.Host, selfID string, signer *crypto.SigningKeyPair, logger zerolog.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(peerAnnounceInterval)
	defer ticker.Stop()

	announce := protocol.PeerDiscovery{
		PeerID:           host.ID(),
		Addresses:        host.Addrs(),
		HasUser:          true,
		UserID:           selfID,
		SigningPublicKey: signer.PublicKey,
	}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, peerID := range host.ConnectedPeerIDs() {
				ctx, cancel := context.WithTimeout(context.Background(), protocol.PeerDiscoveryTimeout)
				_, err := host.RequestPeerDiscovery(ctx, peerID, protocol.TypePeerDiscovery, announce)
				cancel()
				if err != nil {
					logger.Debug().Err(err).Str("peer_id", peerID).Msg("peer announce failed")
				}
			}
		}
	}
}

// runModelExchangeLoop periodically shares this node's locally trained
// recommender weights with every connected peer, and stops when stop is
// closed.
func runModelExchangeLoop(host *p2p.Host, svc *recommend.Service, selfID string, signer *crypto.SigningKeyPair, logger zerolog.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(modelExchangeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			update, err := svc.BuildUpdate(selfID, signer)
			if err != nil {
				logger.Warn().Err(err).Msg("failed to build model update")
				continue
			}
			for _, peerID := range host.ConnectedPeerIDs() {
				ctx, cancel := context.WithTimeout(context.Background(), protocol.FileExchangeTimeout)
				_, err := host.RequestFileExchange(ctx, peerID, protocol.TypeModelUpdate, update)
				cancel()
				if err != nil {
					logger.Debug().Err(err).Str("peer_id", peerID).Msg("model update send failed")
				}
			}
		}
	}
}
