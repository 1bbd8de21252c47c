// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"bytes"
	"context"
	"encoding/xml"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"loqui.im/xmpp/internal/runqueue"
	"loqui.im/xmpp/jid"
	"loqui.im/xmpp/stanza"
)

// lockedBuf lets the test read what the engine wrote without racing it.
type lockedBuf struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (lb *lockedBuf) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.b.Write(p)
}

func (lb *lockedBuf) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.b.String()
}

// newTestEngine builds a ready session whose output goes to buf, bypassing
// negotiation entirely.
func newTestEngine(t *testing.T, buf *lockedBuf) *Session {
	t.Helper()
	cfg := Config{JID: "romeo@example.net", RequestTimeout: 100 * time.Millisecond}.withDefaults()
	s := &Session{
		config:  cfg,
		log:     zap.NewNop(),
		origin:  jid.MustParse("romeo@example.net"),
		rq:      runqueue.New(),
		sm:      &smState{},
		pending: make(map[string]*pendingReq),
	}
	s.enc = xml.NewEncoder(buf)
	s.resetState(Secure | Authn | Bound | Ready)
	return s
}

// onQueue runs fn on the session's executor and waits for it.
func onQueue(s *Session, fn func()) {
	done := make(chan struct{})
	s.rq.Post(func() { fn(); close(done) })
	<-done
}

func TestSendAwaitResolvedExactlyOnce(t *testing.T) {
	s := newTestEngine(t, &lockedBuf{})

	var handled int
	s.Handle(MatchName("iq"), 0, func(*stanza.Element) bool { handled++; return true })

	iq := stanza.NewIQ(stanza.GetIQ, nil).SetID("req1")
	reply := stanza.NewIQ(stanza.ResultIQ, nil).SetID("req1")

	got := make(chan *stanza.Element, 1)
	go func() {
		el, err := s.SendAwait(context.Background(), iq)
		require.NoError(t, err)
		got <- el
	}()

	require.Eventually(t, func() bool {
		var n int
		onQueue(s, func() { n = len(s.pending) })
		return n == 1
	}, time.Second, time.Millisecond)

	onQueue(s, func() { s.dispatch(reply) })
	require.Equal(t, "req1", (<-got).ID())

	// The reply resolved the request; it must not also hit the chain, and
	// a duplicate reply is unclaimed so it flows down the chain.
	onQueue(s, func() {})
	require.Zero(t, handled)
	onQueue(s, func() { s.dispatch(reply) })
	require.Equal(t, 1, handled)
}

func TestSendAwaitTimeout(t *testing.T) {
	s := newTestEngine(t, &lockedBuf{})

	var handled int
	s.Handle(MatchName("iq"), 0, func(*stanza.Element) bool { handled++; return true })

	iq := stanza.NewIQ(stanza.GetIQ, nil).SetID("slow")
	_, err := s.SendAwait(context.Background(), iq)
	require.ErrorIs(t, err, ErrRequestTimeout)

	// A reply arriving after the timeout is no longer correlated.
	reply := stanza.NewIQ(stanza.ResultIQ, nil).SetID("slow")
	onQueue(s, func() { s.dispatch(reply) })
	require.Equal(t, 1, handled)

	var pending int
	onQueue(s, func() { pending = len(s.pending) })
	require.Zero(t, pending)
}

func TestSendAwaitDuplicateID(t *testing.T) {
	s := newTestEngine(t, &lockedBuf{})
	s.config.RequestTimeout = 5 * time.Second

	got := make(chan *stanza.Element, 1)
	go func() {
		el, err := s.SendAwait(context.Background(), stanza.NewIQ(stanza.GetIQ, nil).SetID("dup"))
		require.NoError(t, err)
		got <- el
	}()

	require.Eventually(t, func() bool {
		var n int
		onQueue(s, func() { n = len(s.pending) })
		return n == 1
	}, time.Second, time.Millisecond)

	// A second request on a live ID fails fast instead of orphaning the
	// first one.
	_, err := s.SendAwait(context.Background(), stanza.NewIQ(stanza.GetIQ, nil).SetID("dup"))
	require.ErrorIs(t, err, ErrDuplicateRequestID)

	// The first request is untouched and still resolves with its reply.
	onQueue(s, func() { s.dispatch(stanza.NewIQ(stanza.ResultIQ, nil).SetID("dup")) })
	require.Equal(t, "dup", (<-got).ID())

	var pending int
	onQueue(s, func() { pending = len(s.pending) })
	require.Zero(t, pending)
}

func TestSendAwaitCancel(t *testing.T) {
	s := newTestEngine(t, &lockedBuf{})
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := s.SendAwait(ctx, stanza.NewIQ(stanza.GetIQ, nil))
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		var n int
		onQueue(s, func() { n = len(s.pending) })
		return n == 1
	}, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errCh, ErrRequestCancelled)
}

func TestSendAwaitClosedStream(t *testing.T) {
	s := newTestEngine(t, &lockedBuf{})
	onQueue(s, func() { s.addState(OutputStreamClosed) })

	_, err := s.SendAwait(context.Background(), stanza.NewIQ(stanza.GetIQ, nil))
	require.ErrorIs(t, err, ErrOutputStreamClosed)
}

func TestHandlerPriorityAndConsume(t *testing.T) {
	s := newTestEngine(t, &lockedBuf{})

	var order []string
	s.Handle(MatchName("message"), 10, func(*stanza.Element) bool {
		order = append(order, "low")
		return false
	})
	s.Handle(MatchName("message"), 5, func(*stanza.Element) bool {
		order = append(order, "first")
		return false
	})
	s.Handle(MatchName("message"), 5, func(*stanza.Element) bool {
		order = append(order, "second")
		return true // consume
	})
	s.Handle(MatchName("message"), 20, func(*stanza.Element) bool {
		order = append(order, "never")
		return false
	})

	onQueue(s, func() { s.dispatch(stanza.NewMessage("chat", nil)) })
	require.Equal(t, []string{"first", "second"}, order)
}

func TestUnhandle(t *testing.T) {
	s := newTestEngine(t, &lockedBuf{})

	var calls int
	token := s.Handle(MatchAll(), 0, func(*stanza.Element) bool { calls++; return false })

	onQueue(s, func() { s.dispatch(stanza.NewMessage("chat", nil)) })
	require.Equal(t, 1, calls)

	s.Unhandle(token)
	onQueue(s, func() { s.dispatch(stanza.NewMessage("chat", nil)) })
	require.Equal(t, 1, calls)
}

func TestUnhandledIQGetsServiceUnavailable(t *testing.T) {
	buf := &lockedBuf{}
	s := newTestEngine(t, buf)

	from := jid.MustParse("juliet@example.net/balcony")
	iq := stanza.NewIQ(stanza.GetIQ, nil).SetID("q1")
	iq.SetAttr("from", from.String())
	iq.Append(stanza.New("query", "jabber:iq:version"))

	onQueue(s, func() { s.dispatch(iq) })

	out := buf.String()
	require.Contains(t, out, "service-unavailable")
	require.Contains(t, out, `type="error"`)
	require.Contains(t, out, `to="juliet@example.net/balcony"`)
	require.Contains(t, out, `id="q1"`)

	// Result IQs never get the fallback treatment.
	result := stanza.NewIQ(stanza.ResultIQ, nil).SetID("q2")
	onQueue(s, func() { s.dispatch(result) })
	require.False(t, strings.Contains(buf.String(), `id="q2"`))
}
