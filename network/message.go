package network

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Message kinds exchanged on the wire.
const (
	KindHandshakeInit     = "handshake-init"
	KindHandshakeResponse = "handshake-response"
	KindAnnouncePeer      = "announce-peer"
	KindReportSpammer     = "report-spammer"
	KindReportAmnesty     = "report-amnesty"
	KindQuerySpammer      = "query-spammer"
	KindQueryResponse     = "query-response"
)

// Message is the gossip envelope. Payload is a dynamic value tree because
// forwarded payloads vary in shape and may arrive double-encoded; the codec
// normalizes them before a Message is built.
type Message struct {
	Kind     string                 `json:"kind"`
	OriginID string                 `json:"origin_id"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
}

// Inbound wraps a decoded message with its arrival connection and the local
// receipt time used for dedup-window bookkeeping.
type Inbound struct {
	Peer       *Peer
	Msg        *Message
	ReceivedAt time.Time
}

// Encode serializes the message as a single JSON text ready for the wire.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %v", m.Kind, err)
	}
	return data, nil
}

// DedupKey derives the flood de-duplication key from the message origin and
// a content hash of its payload. encoding/json sorts map keys, so the hash
// is stable regardless of which gossip path delivered the message.
func (m *Message) DedupKey() string {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		payload = nil
	}
	h := xxhash.New()
	h.WriteString(m.Kind)
	h.WriteString("|")
	h.Write(payload)
	return fmt.Sprintf("%s:%016x", m.OriginID, h.Sum64())
}

// floodable reports whether this kind participates in gossip flooding.
// Handshakes and query responses are point-to-point and never forwarded.
func (m *Message) floodable() bool {
	switch m.Kind {
	case KindAnnouncePeer, KindReportSpammer, KindReportAmnesty:
		return true
	}
	return false
}

// MessageFromValue builds a Message from a codec-decoded value tree.
// Messages without an object shape or a kind are rejected.
func MessageFromValue(v interface{}) (*Message, error) {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("message is not a JSON object")
	}

	kind, _ := obj["kind"].(string)
	if kind == "" {
		return nil, ErrUnknownKind
	}

	origin, _ := obj["origin_id"].(string)
	payload, _ := obj["payload"].(map[string]interface{})

	return &Message{
		Kind:     kind,
		OriginID: origin,
		Payload:  payload,
	}, nil
}

// PeerInfo is the announce-peer payload element.
type PeerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	UUID string `json:"uuid"`
}

// peerInfoFromValue extracts a PeerInfo from a decoded payload element.
func peerInfoFromValue(v interface{}) (PeerInfo, bool) {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return PeerInfo{}, false
	}
	host, _ := obj["host"].(string)
	port, ok := numberToInt(obj["port"])
	if host == "" || !ok {
		return PeerInfo{}, false
	}
	uuid, _ := obj["uuid"].(string)
	return PeerInfo{Host: host, Port: port, UUID: uuid}, true
}

func numberToInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}
