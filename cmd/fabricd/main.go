// Command fabricd is a mesh fabric node daemon: it loads host
// configuration, brings up the peer store, reputation graph, skill
// router, task queue/executor and delegate coordinator, then serves
// the wire protocol over TCP until signaled to shut down.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/meshfabric/node/blobstore"
	"github.com/meshfabric/node/crypto/anchor"
	"github.com/meshfabric/node/delegate"
	"github.com/meshfabric/node/handshake"
	"github.com/meshfabric/node/id"
	"github.com/meshfabric/node/internal/config"
	"github.com/meshfabric/node/internal/logger"
	"github.com/meshfabric/node/internal/metrics"
	"github.com/meshfabric/node/internal/transport"
	"github.com/meshfabric/node/peerstore"
	"github.com/meshfabric/node/relay"
	"github.com/meshfabric/node/reputation"
	"github.com/meshfabric/node/reputation/gossip"
	"github.com/meshfabric/node/session"
	"github.com/meshfabric/node/skill"
	"github.com/meshfabric/node/task"
)

func main() {
	cfg := config.MustLoad()
	log := newLogger(cfg.Logging.Level)

	identity, err := loadOrCreateIdentity(cfg.Node.DataDir)
	if err != nil {
		log.Fatal("failed to load node identity", logger.Error(err))
	}
	log.Info("node identity ready", logger.String("node_id", identity.ID.Full()))

	node, err := buildNode(cfg, identity, log)
	if err != nil {
		log.Fatal("failed to build node runtime", logger.Error(err))
	}

	if err := node.Start(); err != nil {
		log.Fatal("failed to start node runtime", logger.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")
	node.Stop()
}

func newLogger(level string) *logger.StructuredLogger {
	l := logger.NewDefaultLogger()
	switch strings.ToUpper(level) {
	case "DEBUG":
		l.SetLevel(logger.DebugLevel)
	case "WARN":
		l.SetLevel(logger.WarnLevel)
	case "ERROR":
		l.SetLevel(logger.ErrorLevel)
	default:
		l.SetLevel(logger.InfoLevel)
	}
	return l
}

// identityFileName is the file under a node's data directory holding
// its hex-encoded Ed25519 private key (seed || public key, 64 bytes).
const identityFileName = "identity.key"

func loadOrCreateIdentity(dataDir string) (*id.Identity, error) {
	if dataDir == "" {
		return id.NewIdentity()
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	path := filepath.Join(dataDir, identityFileName)
	raw, err := os.ReadFile(path)
	if err == nil {
		keyBytes, decodeErr := hex.DecodeString(strings.TrimSpace(string(raw)))
		if decodeErr != nil || len(keyBytes) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("malformed identity file %s", path)
		}
		return id.IdentityFromPrivateKey(ed25519.PrivateKey(keyBytes)), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read identity file: %w", err)
	}

	identity, err := id.NewIdentity()
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(identity.PrivateKey)), 0o600); err != nil {
		return nil, fmt.Errorf("persist identity file: %w", err)
	}
	return identity, nil
}

// node bundles every component buildNode wires together, so main only
// has to call Start/Stop once.
type node struct {
	cfg      *config.Config
	identity *id.Identity
	log      logger.Logger

	peers       *peerstore.Store
	graph       *reputation.Graph
	gossiper    *gossip.Gossiper
	replayGuard *session.NonceCache
	sessions    *session.Manager
	localSkills *skill.LocalSkillRegistry
	netSkills   *skill.NetworkSkillRegistry
	router      *skill.Router
	queue       *task.Queue
	executor    *task.Executor
	coordinator *delegate.Coordinator
	relayStore  *relay.Store
	blobs       *blobstore.MemoryStore

	wireServer   *transport.Server
	gossipServer *gossip.Server
	anchorSched  *anchor.Scheduler

	gossipStop    chan struct{}
	peerPruneStop chan struct{}
}

// peerPruneInterval is how often the node sweeps its peer store for
// entries that have gone stale (no handshake/touch activity within
// peerstore.DefaultStaleThreshold).
const peerPruneInterval = 30 * time.Second

func buildNode(cfg *config.Config, identity *id.Identity, log logger.Logger) (*node, error) {
	n := &node{
		cfg:      cfg,
		identity: identity,
		log:      log,
	}

	n.peers = peerstore.New()
	n.graph = reputation.New(identity.ID)
	n.gossiper = gossip.NewGossiper(identity.ID, n.graph, cfg.Node.GossipFanout*32)
	n.replayGuard = session.NewNonceCache(handshake.ReplayWindow)
	n.sessions = session.NewManager()

	n.localSkills = skill.NewLocalSkillRegistry()
	n.netSkills = skill.NewNetworkSkillRegistry()
	for _, s := range cfg.Node.DeclaredSkills {
		n.netSkills.MarkLocal(skill.Normalize(s))
	}
	n.router = skill.NewRouterWithWeight(identity.ID, n.graph, n.netSkills, cfg.Node.TrustWeight)

	n.queue = task.NewQueue()
	n.executor = task.NewExecutor(n.localSkills)

	n.relayStore = relay.NewStore()
	n.blobs = blobstore.NewMemoryStore()

	dispatcher := transport.NewDispatcher(identity, capabilitiesFromConfig(cfg), n.peers)
	n.coordinator = delegate.New(identity.ID, n.router, n.queue, n.executor, n.graph, n.gossiper, dispatcher, n.peers)

	n.wireServer = transport.NewServer(identity, capabilitiesFromConfig(cfg), n.peers, n.replayGuard, n.executor, n.relayStore, n.blobs, log)
	n.gossipServer = gossip.NewServer(identity.ID, n.gossiper, log)
	n.gossipServer.SetSkillRegistry(n.netSkills)

	if cfg.Anchor.Enabled {
		backend, err := buildAnchorBackend(cfg.Anchor)
		if err != nil {
			return nil, fmt.Errorf("build anchor backend: %w", err)
		}
		n.anchorSched = anchor.NewScheduler(n.graph, backend, cfg.Anchor.Interval)
	}

	return n, nil
}

func capabilitiesFromConfig(cfg *config.Config) handshake.Capabilities {
	return handshake.Capabilities{
		CanRelay:   cfg.Node.CanRelay,
		CanStore:   cfg.Node.CanStore,
		CanCompute: cfg.Node.CanCompute,
	}
}

func buildAnchorBackend(cfg config.AnchorConfig) (anchor.ChainAnchor, error) {
	keyEnv := cfg.PrivateKeyEnv
	if keyEnv == "" {
		keyEnv = "FABRIC_ANCHOR_PRIVATE_KEY"
	}
	key := os.Getenv(keyEnv)
	if key == "" {
		return nil, fmt.Errorf("environment variable %s is not set", keyEnv)
	}

	switch cfg.Backend {
	case "ethereum":
		return anchor.NewEthereumAnchor(context.Background(), anchor.EthereumConfig{
			RPCEndpoint:   cfg.RPCEndpoint,
			PrivateKeyHex: key,
		})
	case "solana":
		return anchor.NewSolanaAnchor(anchor.SolanaConfig{
			RPCEndpoint:    cfg.RPCEndpoint,
			FeePayerBase58: key,
		})
	default:
		return nil, fmt.Errorf("unsupported anchor backend: %q", cfg.Backend)
	}
}

// Start brings every background component of the node up: the
// delegate coordinator's scheduler, the wire and gossip servers, the
// metrics endpoint, and (optionally) the anchor scheduler.
func (n *node) Start() error {
	n.coordinator.Start(delegate.DefaultExpirationInterval)

	n.gossipStop = make(chan struct{})
	go gossip.Pump(n.gossiper, n.peers, n.log, n.gossipStop)

	n.peerPruneStop = make(chan struct{})
	go n.pruneLoop()

	n.announceSkills()

	bindAddr := fmt.Sprintf(":%d", n.cfg.Node.BindPort)
	go func() {
		if err := n.wireServer.Serve(bindAddr); err != nil {
			n.log.Error("wire server exited", logger.Error(err))
		}
	}()

	gossipAddr := fmt.Sprintf(":%d", n.cfg.Node.BindPort+1)
	go func() {
		if err := n.gossipServer.Serve(gossipAddr); err != nil {
			n.log.Error("gossip server exited", logger.Error(err))
		}
	}()

	if n.cfg.Metrics.Enabled {
		addr := n.cfg.Metrics.Addr
		if addr == "" {
			addr = ":9090"
		}
		go func() {
			if err := metrics.StartServer(addr); err != nil {
				n.log.Error("metrics server exited", logger.Error(err))
			}
		}()
	}

	if n.anchorSched != nil {
		n.anchorSched.Start()
	}

	n.log.Info("node started",
		logger.String("wire_addr", resolveLocalAddr(bindAddr)),
		logger.String("gossip_addr", resolveLocalAddr(gossipAddr)),
	)
	return nil
}

// announceSkills gossips this node's declared skill set to every peer
// currently known to the peer store, so NetworkSkillRegistry entries
// propagate without waiting for a handshake round trip with each one.
func (n *node) announceSkills() {
	declared := make([]skill.ID, 0, len(n.cfg.Node.DeclaredSkills))
	for _, s := range n.cfg.Node.DeclaredSkills {
		declared = append(declared, skill.Normalize(s))
	}
	if len(declared) == 0 {
		return
	}
	announcement := skill.Announcement{Node: n.identity.ID, Skills: declared}
	for _, peerID := range n.peers.Peers() {
		n.gossiper.Send(peerID, announcement)
	}
}

// pruneLoop periodically evicts stale peers from the peer store and
// reports the peer store's size and eviction count to Prometheus,
// until peerPruneStop is closed.
func (n *node) pruneLoop() {
	ticker := time.NewTicker(peerPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.peerPruneStop:
			return
		case now := <-ticker.C:
			removed := n.peers.PruneStale(now)
			if removed > 0 {
				metrics.PeerstoreStalePruned.Add(float64(removed))
			}
			metrics.PeerstoreSize.Set(float64(n.peers.Len()))
		}
	}
}

// Stop stops the anchor scheduler, signals the peer-prune loop and the
// gossip pump to exit, closes the gossip and wire servers, stops the
// delegate coordinator, and closes the replay guard and session
// manager. It does not wait for the prune loop or the gossip pump to
// return, and the metrics server, when enabled, keeps running.
func (n *node) Stop() {
	if n.anchorSched != nil {
		n.anchorSched.Stop()
	}
	if n.peerPruneStop != nil {
		close(n.peerPruneStop)
	}
	if n.gossipStop != nil {
		close(n.gossipStop)
	}
	_ = n.gossipServer.Close()
	_ = n.wireServer.Close()
	n.coordinator.Stop()
	n.replayGuard.Close()
	_ = n.sessions.Close()
}

func resolveLocalAddr(bindAddr string) string {
	host, port, err := net.SplitHostPort(bindAddr)
	if err != nil {
		return bindAddr
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, port)
}
