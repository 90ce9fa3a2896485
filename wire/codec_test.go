package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bytesN(n int, fill byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = fill
	}
	return b
}

func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	frame, err := Encode(m)
	require.NoError(t, err)

	decodedBody, err := ReadFrame(bytes.NewReader(frame))
	require.NoError(t, err)

	decoded, err := Decode(decodedBody)
	require.NoError(t, err)
	assert.Equal(t, m.Tag(), decoded.Tag())
	return decoded
}

func TestHelloRoundTrip(t *testing.T) {
	h := &Hello{
		ProtocolVersion: ProtocolVersion,
		NodeID:          bytesN(32, 0x01),
		SigningPubKey:   bytesN(32, 0x02),
		Capabilities:    []byte(`{"relay":true}`),
		EphemeralPubKey: bytesN(32, 0x03),
		Timestamp:       1700000000,
		Signature:       bytesN(64, 0x04),
	}
	decoded := roundTrip(t, h).(*Hello)
	assert.Equal(t, h.ProtocolVersion, decoded.ProtocolVersion)
	assert.Equal(t, h.NodeID, decoded.NodeID)
	assert.Equal(t, h.SigningPubKey, decoded.SigningPubKey)
	assert.Equal(t, h.Capabilities, decoded.Capabilities)
	assert.Equal(t, h.EphemeralPubKey, decoded.EphemeralPubKey)
	assert.Equal(t, h.Timestamp, decoded.Timestamp)
	assert.Equal(t, h.Signature, decoded.Signature)
}

func TestHello_SignedFieldsExcludesSignature(t *testing.T) {
	h := &Hello{
		ProtocolVersion: 1,
		NodeID:          bytesN(32, 0xAA),
		SigningPubKey:   bytesN(32, 0xBB),
		Capabilities:    []byte("caps"),
		EphemeralPubKey: bytesN(32, 0xCC),
		Timestamp:       42,
		Signature:       bytesN(64, 0xDD),
	}
	signed1 := h.SignedFields()
	h.Signature = bytesN(64, 0xEE)
	signed2 := h.SignedFields()
	assert.Equal(t, signed1, signed2, "signed fields must not depend on the signature itself")
}

func TestChallengeRoundTrip(t *testing.T) {
	c := &Challenge{Nonce: bytesN(32, 0x11), EphemeralPubKey: bytesN(32, 0x22)}
	decoded := roundTrip(t, c).(*Challenge)
	assert.Equal(t, c.Nonce, decoded.Nonce)
	assert.Equal(t, c.EphemeralPubKey, decoded.EphemeralPubKey)
}

func TestProveRoundTrip(t *testing.T) {
	p := &Prove{Signature: bytesN(64, 0x33)}
	decoded := roundTrip(t, p).(*Prove)
	assert.Equal(t, p.Signature, decoded.Signature)
}

func TestWelcomeRoundTrip(t *testing.T) {
	w := &Welcome{SessionID: bytesN(32, 0x44), HeartbeatMs: 5000, MaxMessageSize: MaxMessageSize}
	decoded := roundTrip(t, w).(*Welcome)
	assert.Equal(t, w.SessionID, decoded.SessionID)
	assert.Equal(t, w.HeartbeatMs, decoded.HeartbeatMs)
	assert.Equal(t, w.MaxMessageSize, decoded.MaxMessageSize)
}

func TestPingPongRoundTrip(t *testing.T) {
	ping := &Ping{Nonce: 123456789}
	decodedPing := roundTrip(t, ping).(*Ping)
	assert.Equal(t, ping.Nonce, decodedPing.Nonce)

	pong := &Pong{Nonce: 123456789}
	decodedPong := roundTrip(t, pong).(*Pong)
	assert.Equal(t, pong.Nonce, decodedPong.Nonce)
}

func TestCapsRoundTrip(t *testing.T) {
	roundTrip(t, &CapsGet{})

	set := &CapsSet{Capabilities: []byte(`{"compute":true,"relay":false}`)}
	decoded := roundTrip(t, set).(*CapsSet)
	assert.Equal(t, set.Capabilities, decoded.Capabilities)
}

func TestTaskRequestRoundTrip(t *testing.T) {
	tr := &TaskRequest{
		TaskID:      bytesN(16, 0x55),
		Skill:       "image-classify",
		Input:       []byte("raw-input-bytes"),
		Params:      []byte(`{"topk":5}`),
		TimeoutSecs: 300,
		Priority:    200,
		MinTrust:    500000,
	}
	decoded := roundTrip(t, tr).(*TaskRequest)
	assert.Equal(t, tr.TaskID, decoded.TaskID)
	assert.Equal(t, tr.Skill, decoded.Skill)
	assert.Equal(t, tr.Input, decoded.Input)
	assert.Equal(t, tr.Params, decoded.Params)
	assert.Equal(t, tr.TimeoutSecs, decoded.TimeoutSecs)
	assert.Equal(t, tr.Priority, decoded.Priority)
	assert.Equal(t, tr.MinTrust, decoded.MinTrust)
}

func TestTaskAckRoundTrip(t *testing.T) {
	ack := &TaskAck{
		TaskID:     bytesN(16, 0x66),
		Status:     TaskAckCompleted,
		Output:     []byte("result-bytes"),
		Error:      "",
		DurationMs: 1234,
	}
	decoded := roundTrip(t, ack).(*TaskAck)
	assert.Equal(t, ack.TaskID, decoded.TaskID)
	assert.Equal(t, ack.Status, decoded.Status)
	assert.Equal(t, ack.Output, decoded.Output)
	assert.Equal(t, ack.Error, decoded.Error)
	assert.Equal(t, ack.DurationMs, decoded.DurationMs)
}

func TestTaskAckFailedCarriesError(t *testing.T) {
	ack := &TaskAck{
		TaskID: bytesN(16, 0x77),
		Status: TaskAckFailed,
		Error:  "skill not found",
	}
	decoded := roundTrip(t, ack).(*TaskAck)
	assert.Equal(t, TaskAckFailed, decoded.Status)
	assert.Equal(t, "skill not found", decoded.Error)
	assert.Empty(t, decoded.Output)
}

func TestEventChunkRoundTrip(t *testing.T) {
	get := &EventChunkGet{Hash: bytesN(32, 0x88)}
	decodedGet := roundTrip(t, get).(*EventChunkGet)
	assert.Equal(t, get.Hash, decodedGet.Hash)

	put := &EventChunkPut{Hash: bytesN(32, 0x99), Body: []byte("chunk-body")}
	decodedPut := roundTrip(t, put).(*EventChunkPut)
	assert.Equal(t, put.Hash, decodedPut.Hash)
	assert.Equal(t, put.Body, decodedPut.Body)
}

func TestArtifactRoundTrip(t *testing.T) {
	get := &ArtifactGet{Hash: bytesN(32, 0xAA)}
	decodedGet := roundTrip(t, get).(*ArtifactGet)
	assert.Equal(t, get.Hash, decodedGet.Hash)

	put := &ArtifactPut{Hash: bytesN(32, 0xBB), Body: []byte("artifact-body")}
	decodedPut := roundTrip(t, put).(*ArtifactPut)
	assert.Equal(t, put.Hash, decodedPut.Hash)
	assert.Equal(t, put.Body, decodedPut.Body)
}

func TestRelayBeaconRoundTrip(t *testing.T) {
	beacon := &RelayBeaconMsg{
		RecipientPubKeyHash: bytesN(8, 0xCC),
		TTL:                 10,
		HopCount:            0,
		EncryptedPayload:    []byte("sealed-payload"),
	}
	decoded := roundTrip(t, beacon).(*RelayBeaconMsg)
	assert.Equal(t, beacon.RecipientPubKeyHash, decoded.RecipientPubKeyHash)
	assert.Equal(t, beacon.TTL, decoded.TTL)
	assert.Equal(t, beacon.HopCount, decoded.HopCount)
	assert.Equal(t, beacon.EncryptedPayload, decoded.EncryptedPayload)
}

func TestRelayForwardRoundTrip(t *testing.T) {
	fwd := &RelayForward{Beacon: &RelayBeaconMsg{
		RecipientPubKeyHash: bytesN(8, 0xDD),
		TTL:                 5,
		HopCount:            2,
		EncryptedPayload:    []byte("payload"),
	}}
	decoded := roundTrip(t, fwd).(*RelayForward)
	assert.Equal(t, fwd.Beacon.RecipientPubKeyHash, decoded.Beacon.RecipientPubKeyHash)
	assert.Equal(t, fwd.Beacon.HopCount, decoded.Beacon.HopCount)
}

func TestRelayDeliverAndFetchRoundTrip(t *testing.T) {
	deliver := &RelayDeliver{BeaconHash: bytesN(32, 0xEE)}
	decodedDeliver := roundTrip(t, deliver).(*RelayDeliver)
	assert.Equal(t, deliver.BeaconHash, decodedDeliver.BeaconHash)

	fetch := &RelayFetch{PubKeyPrefix: bytesN(8, 0xFF)}
	decodedFetch := roundTrip(t, fetch).(*RelayFetch)
	assert.Equal(t, fetch.PubKeyPrefix, decodedFetch.PubKeyPrefix)
}

func TestErrorMessageRoundTrip(t *testing.T) {
	e := &ErrorMessage{Code: "NO_CAPABLE_NODE", Message: "no node advertises skill image-classify"}
	decoded := roundTrip(t, e).(*ErrorMessage)
	assert.Equal(t, e.Code, decoded.Code)
	assert.Equal(t, e.Message, decoded.Message)
}

func TestDecode_UnknownTag(t *testing.T) {
	_, err := Decode([]byte{0x7A, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrUnknownTag)
}

func TestDecode_EmptyBody(t *testing.T) {
	_, err := Decode([]byte{})
	require.Error(t, err)
	var protoErr *Error
	assert.ErrorAs(t, err, &protoErr)
	assert.Equal(t, KindProtocolError, protoErr.Kind)
}

func TestReadFrame_RejectsOversizedLength(t *testing.T) {
	var lenBuf [4]byte
	lenBuf[0] = 0xFF
	lenBuf[1] = 0xFF
	lenBuf[2] = 0xFF
	lenBuf[3] = 0xFF
	_, err := ReadFrame(bytes.NewReader(lenBuf[:]))
	require.Error(t, err)
	var protoErr *Error
	assert.ErrorAs(t, err, &protoErr)
}

func TestReadFrame_RejectsZeroLength(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0x00, 0x00, 0x00, 0x00}))
	require.Error(t, err)
}

func TestReadFrame_ShortReadOnTruncatedBody(t *testing.T) {
	var lenBuf [4]byte
	lenBuf[3] = 10 // claims 10 bytes of body, supplies none
	_, err := ReadFrame(bytes.NewReader(lenBuf[:]))
	require.Error(t, err)
}

func TestEncode_RejectsOversizedMessage(t *testing.T) {
	huge := &ArtifactPut{Hash: bytesN(32, 0x01), Body: bytesN(MaxMessageSize+1, 0x02)}
	_, err := Encode(huge)
	require.Error(t, err)
	var protoErr *Error
	assert.ErrorAs(t, err, &protoErr)
}

func TestTagString(t *testing.T) {
	assert.Equal(t, "hello", TagHello.String())
	assert.Equal(t, "task_request", TagTaskRequest.String())
	assert.Contains(t, Tag(0x99).String(), "unknown")
}

func TestWriteAndReadFrame_Stream(t *testing.T) {
	var buf bytes.Buffer
	msgs := []Message{
		&Ping{Nonce: 1},
		&Pong{Nonce: 1},
		&ErrorMessage{Code: "X", Message: "y"},
	}
	for _, m := range msgs {
		require.NoError(t, WriteFrame(&buf, m))
	}

	for _, want := range msgs {
		body, err := ReadFrame(&buf)
		require.NoError(t, err)
		got, err := Decode(body)
		require.NoError(t, err)
		assert.Equal(t, want.Tag(), got.Tag())
	}
}
