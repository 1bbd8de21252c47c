// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"loqui.im/xmpp/internal/attr"
	"loqui.im/xmpp/stanza"
)

// A Matcher selects the stanzas a handler wants to see.
type Matcher func(el *stanza.Element) bool

// A HandlerFunc processes one inbound stanza. Returning true consumes the
// stanza and stops propagation down the chain.
type HandlerFunc func(el *stanza.Element) bool

// MatchName matches stanzas by their local name ("message", "presence",
// "iq").
func MatchName(local string) Matcher {
	return func(el *stanza.Element) bool { return el.Name() == local }
}

// MatchNameNS matches stanzas carrying a direct child with the given name
// and namespace, the usual shape of extension payloads.
func MatchNameNS(local, space string) Matcher {
	return func(el *stanza.Element) bool { return el.ChildNS(local, space) != nil }
}

// MatchAll matches every stanza.
func MatchAll() Matcher {
	return func(*stanza.Element) bool { return true }
}

type handlerReg struct {
	token    uint64
	priority int
	seq      uint64
	match    Matcher
	fn       HandlerFunc
}

type awaitResult struct {
	el  *stanza.Element
	err error
}

type pendingReq struct {
	ch    chan awaitResult
	timer *time.Timer
}

// Handle registers fn for stanzas accepted by match. Handlers run in
// ascending priority order (registration order breaking ties) on the
// session's internal executor, so they must not block. The returned token
// is passed to Unhandle to remove the registration.
func (s *Session) Handle(match Matcher, priority int, fn HandlerFunc) uint64 {
	token := atomic.AddUint64(&s.handlerToken, 1)
	s.rq.Post(func() {
		s.handlers = append(s.handlers, &handlerReg{
			token:    token,
			priority: priority,
			seq:      token,
			match:    match,
			fn:       fn,
		})
		sort.SliceStable(s.handlers, func(i, j int) bool {
			if s.handlers[i].priority != s.handlers[j].priority {
				return s.handlers[i].priority < s.handlers[j].priority
			}
			return s.handlers[i].seq < s.handlers[j].seq
		})
	})
	return token
}

// Unhandle removes a handler registration.
func (s *Session) Unhandle(token uint64) {
	s.rq.Post(func() {
		for i, h := range s.handlers {
			if h.token == token {
				s.handlers = append(s.handlers[:i], s.handlers[i+1:]...)
				return
			}
		}
	})
}

// dispatch routes one inbound stanza. ID correlation wins over the handler
// chain: a reply that resolves a pending request is never re-dispatched.
// Runs on the run queue.
func (s *Session) dispatch(el *stanza.Element) {
	if el.Name() == "iq" {
		typ := el.Type()
		if typ == stanza.ResultIQ || typ == stanza.ErrorIQ {
			if p, ok := s.pending[el.ID()]; ok {
				delete(s.pending, el.ID())
				if p.timer != nil {
					p.timer.Stop()
				}
				p.ch <- awaitResult{el: el}
				return
			}
		}
	}

	for _, h := range s.handlers {
		if !h.match(el) {
			continue
		}
		if h.fn(el) {
			return
		}
	}

	// A get or set IQ nobody claimed must still be answered.
	if el.Name() == "iq" {
		switch el.Type() {
		case stanza.GetIQ, stanza.SetIQ:
			reply := stanza.ErrorReply(el, "cancel", stanza.ServiceUnavailable, "")
			s.sendOnQueue(reply)
		}
	}
}

// Send transmits a stanza without waiting for any reply. Transmission
// happens on the session's executor in the order Send was called.
func (s *Session) Send(el *stanza.Element) {
	s.rq.Post(func() { s.sendOnQueue(el) })
}

// SendAwait transmits an IQ (assigning a fresh ID when absent) and blocks
// until the matching reply arrives, the request timeout elapses, or ctx is
// cancelled. Each outcome resolves the request exactly once. A request
// whose ID is already awaiting a reply fails immediately with
// ErrDuplicateRequestID.
func (s *Session) SendAwait(ctx context.Context, el *stanza.Element) (*stanza.Element, error) {
	if el.ID() == "" {
		el.SetID(attr.RandomID())
	}
	id := el.ID()

	timeout := s.config.RequestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}

	ch := make(chan awaitResult, 1)
	s.rq.Post(func() {
		if s.state&Ready == 0 || s.state&OutputStreamClosed != 0 {
			ch <- awaitResult{err: ErrOutputStreamClosed}
			return
		}
		if _, ok := s.pending[id]; ok {
			// A second request on the same ID would orphan the first
			// one's completion channel.
			ch <- awaitResult{err: ErrDuplicateRequestID}
			return
		}
		p := &pendingReq{ch: ch}
		s.pending[id] = p
		s.sendOnQueue(el)
		p.timer = time.AfterFunc(timeout, func() {
			s.rq.Post(func() { s.resolvePending(id, ErrRequestTimeout) })
		})
	})

	select {
	case res := <-ch:
		return res.el, res.err
	case <-ctx.Done():
		s.rq.Post(func() { s.resolvePending(id, ErrRequestCancelled) })
		// The queue decides the race: if the reply got there first we
		// still return it.
		res := <-ch
		return res.el, res.err
	}
}

// resolvePending fails a pending request if it has not been resolved yet.
// Runs on the run queue.
func (s *Session) resolvePending(id string, err error) {
	p, ok := s.pending[id]
	if !ok {
		return
	}
	delete(s.pending, id)
	if p.timer != nil {
		p.timer.Stop()
	}
	p.ch <- awaitResult{err: err}
}

// failAllPending resolves every outstanding request with err, used when the
// stream goes away. Runs on the run queue.
func (s *Session) failAllPending(err error) {
	for id, p := range s.pending {
		delete(s.pending, id)
		if p.timer != nil {
			p.timer.Stop()
		}
		p.ch <- awaitResult{err: err}
	}
}

// sendOnQueue writes a stanza to the stream, tracking it for stream
// management and requesting an ack when the unacked queue grows past the
// configured limit. Runs on the run queue.
func (s *Session) sendOnQueue(el *stanza.Element) {
	if s.state&Ready == 0 || s.state&OutputStreamClosed != 0 {
		s.log.Warn("dropping stanza, output stream closed",
			zap.String("name", el.Name()), zap.String("id", el.ID()))
		return
	}
	s.sm.trackOutbound(el)
	if err := s.writeElement(el); err != nil {
		s.log.Error("stanza write failed", zap.Error(err))
		return
	}
	if s.sm.enabled && countable(el) && len(s.sm.queue) > s.config.AckQueueLimit {
		s.requestAck()
	}
}
