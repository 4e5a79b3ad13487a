// Package node wires the gossip engine together: store, network manager,
// dispatcher and the local gateways. It is the surface the bot/API
// collaborators talk to; they never touch the store or the network
// directly.
package node

import (
	"fmt"
	"sync"
	"time"

	stdlog "log"

	"github.com/google/uuid"

	"github.com/frstrtr/rebot-sub001/config"
	"github.com/frstrtr/rebot-sub001/network"
	"github.com/frstrtr/rebot-sub001/storage"
)

// Node is one participant in the spammer-report gossip network.
type Node struct {
	cfg    *config.Config
	nodeID string

	store      *storage.SpammerStore
	manager    *network.Manager
	dispatcher *network.Dispatcher

	mu        sync.Mutex
	running   bool
	startedAt time.Time
}

// NewNode assembles a node from configuration. The store is opened here,
// creating the backing files if absent, and closed by Stop.
func NewNode(cfg *config.Config) (*Node, error) {
	backing, err := storage.NewBadgerStorage(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	store := storage.NewSpammerStore(backing)
	nodeID := uuid.NewString()
	manager := network.NewManager(nodeID, cfg.P2P)
	dispatcher := network.NewDispatcher(manager, store)

	return &Node{
		cfg:        cfg,
		nodeID:     nodeID,
		store:      store,
		manager:    manager,
		dispatcher: dispatcher,
	}, nil
}

// ID returns the node's process-lifetime identity.
func (n *Node) ID() string {
	return n.nodeID
}

// Start brings up the P2P listener and bootstrap dialing.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return fmt.Errorf("node already running")
	}

	if err := n.manager.Start(); err != nil {
		return err
	}
	n.running = true
	n.startedAt = time.Now()
	stdlog.Printf("Node %s started", n.nodeID)
	return nil
}

// Stop shuts the node down: peers and listener first, then the store, so no
// connection context can touch released storage.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running {
		return nil
	}
	n.running = false

	if err := n.manager.Stop(); err != nil {
		stdlog.Printf("Error stopping P2P manager: %v", err)
	}
	if err := n.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	stdlog.Printf("Node %s stopped", n.nodeID)
	return nil
}

// Report is a local spammer submission from the bot/API layer.
type Report struct {
	UserID      string
	Note        string
	Timestamp   int64
	IsSpammer   bool
	LolsBotData interface{}
	CasChatData interface{}
	P2PData     interface{}
}

// SubmitReport accepts a local report, persists it and disseminates it
// network-wide with this node as origin. A report that is older than the
// stored record is rejected without broadcast. A storage failure is
// returned to the caller; nothing has been broadcast in that case.
func (n *Node) SubmitReport(r Report) (bool, error) {
	if r.UserID == "" {
		return false, fmt.Errorf("report has no user_id")
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().Unix()
	}

	rec := &storage.SpammerRecord{
		UserID:      r.UserID,
		Note:        r.Note,
		Timestamp:   r.Timestamp,
		OriginID:    n.nodeID,
		IsSpammer:   r.IsSpammer,
		LolsBotData: r.LolsBotData,
		CasChatData: r.CasChatData,
		P2PData:     r.P2PData,
	}

	changed, err := n.store.Upsert(rec)
	if err != nil {
		return false, fmt.Errorf("failed to persist report: %w", err)
	}
	if !changed {
		return false, nil
	}

	n.manager.OriginateMessage(network.KindReportSpammer, network.RecordPayload(rec))
	return true, nil
}

// Amnesty removes a record locally and broadcasts the removal.
func (n *Node) Amnesty(userID string) (bool, error) {
	existed, err := n.store.Delete(userID)
	if err != nil {
		return false, fmt.Errorf("failed to remove record: %w", err)
	}
	n.manager.OriginateMessage(network.KindReportAmnesty, map[string]interface{}{
		"user_id": userID,
	})
	return existed, nil
}

// Lookup answers "is this identifier a known spammer" from the local store.
func (n *Node) Lookup(userID string) (*storage.SpammerRecord, error) {
	return n.store.Get(userID)
}

// LookupNetwork answers from the local store first and, on a miss, fans the
// query out to direct peers, returning the first positive answer within the
// configured window. A record learned from the network is persisted locally.
func (n *Node) LookupNetwork(userID string) (*storage.SpammerRecord, error) {
	rec, err := n.store.Get(userID)
	if err != nil || rec != nil {
		return rec, err
	}

	rec, err = n.dispatcher.QueryNetwork(userID, n.cfg.API.QueryTimeout)
	if err != nil || rec == nil {
		return nil, err
	}
	if _, err := n.store.Upsert(rec); err != nil {
		stdlog.Printf("Failed to cache network answer for %s: %v", userID, err)
	}
	return rec, nil
}

// AllRecords lists every stored spammer record.
func (n *Node) AllRecords() ([]*storage.SpammerRecord, error) {
	return n.store.All()
}

// Status returns a snapshot for the status endpoints and the periodic log.
func (n *Node) Status() map[string]interface{} {
	n.mu.Lock()
	running := n.running
	startedAt := n.startedAt
	n.mu.Unlock()

	count, _ := n.store.Count()
	status := map[string]interface{}{
		"node_id":         n.nodeID,
		"running":         running,
		"spammer_records": count,
		"p2p":             n.manager.Stats(),
	}
	if running {
		status["uptime_seconds"] = int64(time.Since(startedAt).Seconds())
	}
	return status
}

// PeerCount reports the number of live P2P connections.
func (n *Node) PeerCount() int {
	return n.manager.PeerCount()
}
