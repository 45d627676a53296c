package transport

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, env frameEnvelope) frameEnvelope {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, env))
	got, err := readFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	return got
}

func TestWireRoundTripsHandshake(t *testing.T) {
	env := frameEnvelope{Kind: frameHandshakeKind, Handshake: &frameHandshake{NodeID: [16]byte{1, 2, 3}}}
	got := roundTrip(t, env)
	require.NotNil(t, got.Handshake)
	assert.Equal(t, env.Handshake.NodeID, got.Handshake.NodeID)
	assert.Nil(t, got.Deliver)
}

func TestWireRoundTripsDeliver(t *testing.T) {
	env := frameEnvelope{
		Kind: frameDeliverKind,
		Deliver: &frameDeliver{
			DestPid:      7,
			SenderNode:   [16]byte{9},
			SenderPid:    3,
			PayloadBytes: []byte{0xa1, 0x00},
			RequestID:    42,
		},
	}
	got := roundTrip(t, env)
	require.NotNil(t, got.Deliver)
	assert.Equal(t, *env.Deliver, *got.Deliver)
}

func TestWireRoundTripsNotifyExit(t *testing.T) {
	env := frameEnvelope{
		Kind: frameNotifyExitKind,
		NotifyExit: &frameNotifyExit{
			TargetPid: 1,
			FromNode:  [16]byte{2},
			FromPid:   5,
			Reason:    3,
			Linked:    true,
		},
	}
	got := roundTrip(t, env)
	require.NotNil(t, got.NotifyExit)
	assert.Equal(t, *env.NotifyExit, *got.NotifyExit)
}

func TestWireRoundTripsLookupRequestAndReply(t *testing.T) {
	reqEnv := frameEnvelope{Kind: frameLookupRequestKind, LookupRequest: &frameLookupRequest{}}
	gotReq := roundTrip(t, reqEnv)
	assert.Equal(t, frameLookupRequestKind, gotReq.Kind)

	replyEnv := frameEnvelope{Kind: frameLookupReplyKind, LookupReply: &frameLookupReply{Found: true, Pid: 99}}
	gotReply := roundTrip(t, replyEnv)
	require.NotNil(t, gotReply.LookupReply)
	assert.True(t, gotReply.LookupReply.Found)
	assert.Equal(t, uint64(99), gotReply.LookupReply.Pid)
}

func TestWireRoundTripsGroupPublish(t *testing.T) {
	env := frameEnvelope{
		Kind: frameGroupPublishKind,
		GroupPublish: &frameGroupPublish{
			GroupName:    "room",
			SenderNode:   [16]byte{4},
			SenderPid:    1,
			PayloadBytes: []byte{0x01},
		},
	}
	got := roundTrip(t, env)
	require.NotNil(t, got.GroupPublish)
	assert.Equal(t, *env.GroupPublish, *got.GroupPublish)
}

func TestReadFrameRejectsOversizedLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	_, err := readFrame(bufio.NewReader(&buf))
	assert.Error(t, err)
}

func TestReadFrameOnEmptyReaderReturnsError(t *testing.T) {
	_, err := readFrame(bufio.NewReader(&bytes.Buffer{}))
	assert.Error(t, err)
}
