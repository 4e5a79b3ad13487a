package network

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	stdlog "log"

	"github.com/google/uuid"

	"github.com/frstrtr/rebot-sub001/storage"
)

// RecordStore is the Store surface the dispatcher drives.
type RecordStore interface {
	Get(userID string) (*storage.SpammerRecord, error)
	Upsert(rec *storage.SpammerRecord) (bool, error)
	Delete(userID string) (bool, error)
	All() ([]*storage.SpammerRecord, error)
}

// Dispatcher interprets decoded messages by kind and applies them against
// the store or the manager. It also tracks pending network queries so
// query-response messages find their way back to the local caller.
type Dispatcher struct {
	mgr   *Manager
	store RecordStore

	mu      sync.Mutex
	pending map[string]chan map[string]interface{}
}

// NewDispatcher wires a dispatcher into the manager.
func NewDispatcher(mgr *Manager, store RecordStore) *Dispatcher {
	d := &Dispatcher{
		mgr:     mgr,
		store:   store,
		pending: make(map[string]chan map[string]interface{}),
	}
	mgr.SetDispatcher(d.Dispatch)
	mgr.SetPeerReadyHandler(d.onPeerReady)
	return d
}

// onPeerReady runs once per connection after the handshake: announce our
// known peers and stream the full spammer table so the newcomer converges.
func (d *Dispatcher) onPeerReady(p *Peer) {
	infos := d.mgr.PeerInfos()
	peers := make([]interface{}, 0, len(infos))
	for _, info := range infos {
		peers = append(peers, map[string]interface{}{
			"host": info.Host,
			"port": info.Port,
			"uuid": info.UUID,
		})
	}
	announce := &Message{
		Kind:     KindAnnouncePeer,
		OriginID: d.mgr.NodeID(),
		Payload:  map[string]interface{}{"peers": peers},
	}
	if err := p.SendWait(announce); err != nil {
		stdlog.Printf("Failed to announce peers to %s: %v", p.Addr(), err)
		return
	}

	go d.syncState(p)
}

// syncState streams the full spammer table to a newly handshaken peer. It
// runs off the peer's read loop so a table larger than the send queue
// cannot stall inbound processing, and blocks for queue space instead of
// dropping records. A dead connection ends the transfer.
func (d *Dispatcher) syncState(p *Peer) {
	records, err := d.store.All()
	if err != nil {
		stdlog.Printf("State sync to %s aborted: %v", p.Addr(), err)
		return
	}
	for _, rec := range records {
		origin := rec.OriginID
		if origin == "" {
			origin = d.mgr.NodeID()
		}
		msg := &Message{
			Kind:     KindReportSpammer,
			OriginID: origin,
			Payload:  RecordPayload(rec),
		}
		if err := p.SendWait(msg); err != nil {
			stdlog.Printf("State sync to %s stopped at %s: %v", p.Addr(), rec.UserID, err)
			return
		}
	}
	if len(records) > 0 {
		stdlog.Printf("Synchronized %d spammer records to %s", len(records), p.Addr())
	}
}

// Dispatch applies one inbound message. The returned bool asks the manager
// to flood the message onward; an error rolls back the dedup bookkeeping so
// the message can be retried. Unrecognized kinds are logged and discarded
// without closing the connection.
func (d *Dispatcher) Dispatch(in *Inbound) (bool, error) {
	msg := in.Msg
	switch msg.Kind {
	case KindHandshakeInit:
		return false, d.handleHandshakeInit(in)
	case KindHandshakeResponse:
		d.mgr.AdoptIdentity(in.Peer, msg.OriginID, payloadPort(msg.Payload))
		return false, nil
	case KindAnnouncePeer:
		return d.handleAnnouncePeer(msg), nil
	case KindReportSpammer:
		return d.handleReportSpammer(msg)
	case KindReportAmnesty:
		return d.handleReportAmnesty(msg)
	case KindQuerySpammer:
		return false, d.handleQuerySpammer(in)
	case KindQueryResponse:
		d.resolveQuery(msg.Payload)
		return false, nil
	default:
		stdlog.Printf("Discarding message with unknown kind %q from %s", msg.Kind, in.Peer.Addr())
		return false, nil
	}
}

func (d *Dispatcher) handleHandshakeInit(in *Inbound) error {
	if !d.mgr.AdoptIdentity(in.Peer, in.Msg.OriginID, payloadPort(in.Msg.Payload)) {
		return nil
	}
	resp := &Message{
		Kind:     KindHandshakeResponse,
		OriginID: d.mgr.NodeID(),
		Payload: map[string]interface{}{
			"listen_port": d.mgr.cfg.ListenPort,
		},
	}
	if err := in.Peer.Send(resp); err != nil {
		stdlog.Printf("Failed to send handshake response to %s: %v", in.Peer.Addr(), err)
	}
	return nil
}

// handleAnnouncePeer registers announced addresses and dials the unknown
// ones opportunistically. Entries carrying our own identity are skipped;
// so are addresses already covered by a live connection.
func (d *Dispatcher) handleAnnouncePeer(msg *Message) bool {
	list, _ := msg.Payload["peers"].([]interface{})
	for _, item := range list {
		info, ok := peerInfoFromValue(item)
		if !ok {
			continue
		}
		if info.UUID == d.mgr.NodeID() {
			continue
		}
		addr := net.JoinHostPort(info.Host, strconv.Itoa(info.Port))
		if d.mgr.HasPeerAddr(addr) {
			continue
		}
		stdlog.Printf("Connecting to announced peer %s", addr)
		d.mgr.ConnectTo(addr)
	}
	return true
}

func (d *Dispatcher) handleReportSpammer(msg *Message) (bool, error) {
	rec, err := recordFromPayload(msg.Payload)
	if err != nil {
		stdlog.Printf("Ignoring malformed spammer report: %v", err)
		return false, nil
	}
	if rec.OriginID == "" {
		rec.OriginID = msg.OriginID
	}

	changed, err := d.store.Upsert(rec)
	if err != nil {
		return false, fmt.Errorf("failed to store spammer report for %s: %w", rec.UserID, err)
	}
	if changed {
		stdlog.Printf("Stored spammer report for user_id: %s", rec.UserID)
	}
	// A strictly older report is accepted for dedup bookkeeping but does
	// not mutate the store or spread further.
	return changed, nil
}

func (d *Dispatcher) handleReportAmnesty(msg *Message) (bool, error) {
	userID, ok := payloadUserID(msg.Payload)
	if !ok {
		return false, nil
	}
	existed, err := d.store.Delete(userID)
	if err != nil {
		return false, fmt.Errorf("failed to apply amnesty for %s: %w", userID, err)
	}
	if existed {
		stdlog.Printf("Removed spammer record for user_id: %s (amnesty)", userID)
	}
	return true, nil
}

// handleQuerySpammer answers a direct peer's lookup from the local store.
// Queries are not flooded; each node answers only for itself, and the
// querier resolves conflicting answers first-response-wins.
func (d *Dispatcher) handleQuerySpammer(in *Inbound) error {
	userID, ok := payloadUserID(in.Msg.Payload)
	queryID, _ := in.Msg.Payload["query_id"].(string)
	if !ok || queryID == "" {
		return nil
	}

	rec, err := d.store.Get(userID)
	if err != nil {
		return fmt.Errorf("lookup for %s failed: %w", userID, err)
	}

	payload := map[string]interface{}{
		"query_id": queryID,
		"user_id":  userID,
		"found":    rec != nil,
	}
	if rec != nil {
		payload["record"] = RecordPayload(rec)
	}
	resp := &Message{
		Kind:     KindQueryResponse,
		OriginID: d.mgr.NodeID(),
		Payload:  payload,
	}
	if err := in.Peer.Send(resp); err != nil {
		stdlog.Printf("Failed to send query response to %s: %v", in.Peer.Addr(), err)
	}
	return nil
}

// QueryNetwork asks every direct peer whether it knows the identifier and
// waits for the first positive answer within the timeout window. A nil
// record with nil error means nobody answered positively in time.
func (d *Dispatcher) QueryNetwork(userID string, timeout time.Duration) (*storage.SpammerRecord, error) {
	queryID := uuid.NewString()

	ch := make(chan map[string]interface{}, 8)
	d.mu.Lock()
	d.pending[queryID] = ch
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, queryID)
		d.mu.Unlock()
	}()

	query := &Message{
		Kind:     KindQuerySpammer,
		OriginID: d.mgr.NodeID(),
		Payload: map[string]interface{}{
			"user_id":  userID,
			"query_id": queryID,
		},
	}
	if d.mgr.Broadcast(query, nil) == 0 {
		return nil, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case payload := <-ch:
			found, _ := payload["found"].(bool)
			if !found {
				continue
			}
			rec, err := recordFromValue(payload["record"])
			if err != nil {
				continue
			}
			return rec, nil
		case <-timer.C:
			return nil, nil
		}
	}
}

func (d *Dispatcher) resolveQuery(payload map[string]interface{}) {
	queryID, _ := payload["query_id"].(string)
	if queryID == "" {
		return
	}
	d.mu.Lock()
	ch := d.pending[queryID]
	d.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- payload:
	default:
	}
}

// Payload helpers. Identifiers travel as strings but some producers emit
// them as JSON numbers; both are accepted.

func payloadUserID(payload map[string]interface{}) (string, bool) {
	switch v := payload["user_id"].(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatInt(int64(v), 10), true
	case json.Number:
		return v.String(), true
	}
	return "", false
}

func payloadPort(payload map[string]interface{}) int {
	port, _ := numberToInt(payload["listen_port"])
	return port
}

func recordFromPayload(payload map[string]interface{}) (*storage.SpammerRecord, error) {
	if payload == nil {
		return nil, fmt.Errorf("report has no payload")
	}
	return recordFromValue(payload)
}

func recordFromValue(v interface{}) (*storage.SpammerRecord, error) {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("record is not a JSON object")
	}
	userID, ok := payloadUserID(obj)
	if !ok {
		return nil, fmt.Errorf("record has no user_id")
	}

	rec := &storage.SpammerRecord{UserID: userID}
	rec.Note, _ = obj["note"].(string)
	rec.OriginID, _ = obj["origin_id"].(string)
	rec.IsSpammer, _ = obj["is_spammer"].(bool)
	if ts, ok := obj["timestamp"].(float64); ok {
		rec.Timestamp = int64(ts)
	}
	rec.LolsBotData = obj["lols_bot_data"]
	rec.CasChatData = obj["cas_chat_data"]
	rec.P2PData = obj["p2p_data"]
	return rec, nil
}

// RecordPayload renders a stored record as a report-spammer payload.
func RecordPayload(rec *storage.SpammerRecord) map[string]interface{} {
	payload := map[string]interface{}{
		"user_id":    rec.UserID,
		"timestamp":  rec.Timestamp,
		"is_spammer": rec.IsSpammer,
	}
	if rec.Note != "" {
		payload["note"] = rec.Note
	}
	if rec.OriginID != "" {
		payload["origin_id"] = rec.OriginID
	}
	if rec.LolsBotData != nil {
		payload["lols_bot_data"] = rec.LolsBotData
	}
	if rec.CasChatData != nil {
		payload["cas_chat_data"] = rec.CasChatData
	}
	if rec.P2PData != nil {
		payload["p2p_data"] = rec.P2PData
	}
	return payload
}
