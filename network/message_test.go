package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageEncodeDecodeRoundTrip(t *testing.T) {
	msg := &Message{
		Kind:     KindReportSpammer,
		OriginID: "node-1",
		Payload: map[string]interface{}{
			"user_id": "5967544195",
			"note":    "crypto spam",
		},
	}

	data, err := msg.Encode()
	require.NoError(t, err)

	v, err := Decode(string(data))
	require.NoError(t, err)

	got, err := MessageFromValue(v)
	require.NoError(t, err)
	assert.Equal(t, msg.Kind, got.Kind)
	assert.Equal(t, msg.OriginID, got.OriginID)
	assert.Equal(t, "5967544195", got.Payload["user_id"])
}

func TestDedupKeyStability(t *testing.T) {
	a := &Message{
		Kind:     KindReportSpammer,
		OriginID: "node-1",
		Payload:  map[string]interface{}{"user_id": "1", "note": "x"},
	}
	// Same content, different map construction order.
	b := &Message{
		Kind:     KindReportSpammer,
		OriginID: "node-1",
		Payload:  map[string]interface{}{"note": "x", "user_id": "1"},
	}
	assert.Equal(t, a.DedupKey(), b.DedupKey())
}

func TestDedupKeyDiscriminates(t *testing.T) {
	base := &Message{
		Kind:     KindReportSpammer,
		OriginID: "node-1",
		Payload:  map[string]interface{}{"user_id": "1"},
	}

	tests := []struct {
		name string
		msg  *Message
	}{
		{"different origin", &Message{Kind: KindReportSpammer, OriginID: "node-2", Payload: map[string]interface{}{"user_id": "1"}}},
		{"different kind", &Message{Kind: KindReportAmnesty, OriginID: "node-1", Payload: map[string]interface{}{"user_id": "1"}}},
		{"different payload", &Message{Kind: KindReportSpammer, OriginID: "node-1", Payload: map[string]interface{}{"user_id": "2"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base.DedupKey(), tt.msg.DedupKey())
		})
	}
}

func TestFloodableKinds(t *testing.T) {
	floodable := map[string]bool{
		KindHandshakeInit:     false,
		KindHandshakeResponse: false,
		KindAnnouncePeer:      true,
		KindReportSpammer:     true,
		KindReportAmnesty:     true,
		KindQuerySpammer:      false,
		KindQueryResponse:     false,
	}

	for kind, want := range floodable {
		msg := &Message{Kind: kind}
		assert.Equal(t, want, msg.floodable(), "kind %s", kind)
	}
}

func TestMessageFromValueRejectsMalformed(t *testing.T) {
	_, err := MessageFromValue("not an object")
	require.Error(t, err)

	_, err = MessageFromValue(map[string]interface{}{"origin_id": "x"})
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestPeerInfoFromValue(t *testing.T) {
	info, ok := peerInfoFromValue(map[string]interface{}{
		"host": "10.0.0.5",
		"port": float64(9828),
		"uuid": "abc",
	})
	require.True(t, ok)
	assert.Equal(t, PeerInfo{Host: "10.0.0.5", Port: 9828, UUID: "abc"}, info)

	_, ok = peerInfoFromValue(map[string]interface{}{"port": float64(1)})
	assert.False(t, ok, "missing host must be rejected")

	_, ok = peerInfoFromValue(map[string]interface{}{"host": "10.0.0.5"})
	assert.False(t, ok, "missing port must be rejected")
}
