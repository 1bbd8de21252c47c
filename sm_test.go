// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"loqui.im/xmpp/stanza"
)

func entries(n int) []smEntry {
	out := make([]smEntry, n)
	for i := range out {
		out[i] = smEntry{el: stanza.NewMessage("chat", nil), sent: time.Now()}
	}
	return out
}

func TestValidateAckPrunes(t *testing.T) {
	m := &smState{enabled: true, outH: 5, queue: entries(5)}
	m.validateAck(3, zap.NewNop())
	require.Len(t, m.queue, 2)
	require.Equal(t, uint32(3), m.ackedH)

	// A repeated ack with the same value changes nothing.
	m.validateAck(3, zap.NewNop())
	require.Len(t, m.queue, 2)

	m.validateAck(5, zap.NewNop())
	require.Empty(t, m.queue)
}

func TestValidateAckWraparound(t *testing.T) {
	m := &smState{enabled: true, outH: 2, ackedH: 0xFFFFFFFE, queue: entries(4)}
	m.validateAck(1, zap.NewNop())
	require.Len(t, m.queue, 1)
	require.Equal(t, uint32(1), m.ackedH)
}

func TestValidateAckAheadClamps(t *testing.T) {
	m := &smState{enabled: true, outH: 3, ackedH: 1, queue: entries(2)}
	m.validateAck(7, zap.NewNop())
	require.Empty(t, m.queue)
	require.Equal(t, uint32(7), m.ackedH)
	require.Equal(t, uint32(7), m.outH)
}

func TestValidateAckDeeperThanQueueClamps(t *testing.T) {
	m := &smState{enabled: true, outH: 10, ackedH: 4, queue: entries(2)}
	m.validateAck(10, zap.NewNop())
	require.Empty(t, m.queue)
	require.Equal(t, uint32(10), m.ackedH)
}

func TestPreserveAccumulates(t *testing.T) {
	m := &smState{enabled: true, queue: entries(2)}
	m.preserve()
	require.Len(t, m.oldQueue, 2)
	require.Empty(t, m.queue)

	// A second failed reconnect must not drop what the first preserved.
	m.queue = entries(3)
	m.preserve()
	require.Len(t, m.oldQueue, 5)
}

func TestAcceptResume(t *testing.T) {
	m := &smState{resumeID: "tok", canResume: true, outH: 5, ackedH: 2, oldQueue: entries(3)}
	replay := m.acceptResume(4, zap.NewNop())
	require.Len(t, replay, 1)
	require.Empty(t, m.oldQueue)
	require.Equal(t, uint32(4), m.ackedH)
	require.Equal(t, uint32(4), m.outH)
	require.True(t, m.enabled)
}

func TestTrackOutboundClones(t *testing.T) {
	m := &smState{enabled: true}
	msg := stanza.NewMessage("chat", nil)
	m.trackOutbound(msg)
	require.Equal(t, uint32(1), m.outH)
	require.Len(t, m.queue, 1)

	// Mutating the original must not touch the retained copy.
	msg.SetAttr("id", "changed")
	require.NotEqual(t, "changed", m.queue[0].el.ID())
}

func TestCountingSkipsManagementElements(t *testing.T) {
	m := &smState{enabled: true}
	m.countInbound(stanza.New("r", "urn:xmpp:sm:3"))
	m.countInbound(stanza.New("a", "urn:xmpp:sm:3"))
	require.Zero(t, m.inH)

	m.countInbound(stanza.NewMessage("chat", nil))
	require.Equal(t, uint32(1), m.inH)
	require.Equal(t, uint32(1), m.inSinceAck)
}
