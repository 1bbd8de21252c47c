// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"encoding/xml"
	"io"
	"sync"

	"go.uber.org/zap"

	"loqui.im/xmpp/internal/ns"
	"loqui.im/xmpp/internal/runqueue"
	"loqui.im/xmpp/jid"
	"loqui.im/xmpp/stanza"
	"loqui.im/xmpp/stream"
	"loqui.im/xmpp/transport"
)

// A Session is a client-side XMPP stream: it negotiates the stream features
// the server advertises, then routes stanzas between the transport and the
// registered handlers.
//
// All session state is mutated on an internal serialized executor; the
// exported methods may be called from any goroutine.
type Session struct {
	config Config
	log    *zap.Logger

	// origin is the configured bare address; local is the full address
	// after binding.
	origin *jid.JID
	local  *jid.JID

	rq *runqueue.RunQueue

	tr  transport.Transport
	dec *xml.Decoder
	enc *xml.Encoder

	stateMu sync.Mutex
	state   SessionState
	phase   Phase

	phaseSubs []func(Phase)
	dropSubs  []func(error, []*stanza.Element)

	features      []StreamFeature
	streamInfo    stream.Info
	lastStreamErr *stream.Error
	sm            *smState
	resumeReplay  []smEntry

	handlers     []*handlerReg
	handlerToken uint64
	pending      map[string]*pendingReq

	closing   bool
	serveDone chan struct{}
}

// NewSession creates a session for the address in cfg. No connection is
// made until Connect is called.
func NewSession(cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	addr, err := jid.Parse(cfg.JID)
	if err != nil {
		return nil, err
	}
	s := &Session{
		config:  cfg,
		log:     cfg.Logger,
		origin:  addr.Bare(),
		rq:      runqueue.New(),
		sm:      &smState{},
		pending: make(map[string]*pendingReq),
	}
	s.features = s.featureTable()
	return s, nil
}

// LocalAddr returns the session's full address once a resource has been
// bound, and the configured bare address before that.
func (s *Session) LocalAddr() *jid.JID {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.local != nil {
		return s.local
	}
	return s.origin
}

// State returns the current session state bits.
func (s *Session) State() SessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Phase returns the session's current lifecycle phase.
func (s *Session) Phase() Phase {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.phase
}

// StreamInfo returns the metadata of the server's current stream header.
func (s *Session) StreamInfo() stream.Info {
	ch := make(chan stream.Info, 1)
	s.rq.Post(func() { ch <- s.streamInfo })
	return <-ch
}

// Resumable reports whether preserved stream management state exists that a
// future Connect will try to resume.
func (s *Session) Resumable() bool {
	ch := make(chan bool, 1)
	s.rq.Post(func() { ch <- s.sm.resumeID != "" && s.sm.canResume })
	return <-ch
}

// ResumeLocation returns the preferred reconnect host the server announced
// when stream management was enabled, or "" when none was given. Callers
// reconnecting to resume can feed it to transport.Redialer.Redirect.
func (s *Session) ResumeLocation() string {
	ch := make(chan string, 1)
	s.rq.Post(func() { ch <- s.sm.location })
	return <-ch
}

// LastStreamError returns the stream error that terminated the most recent
// stream, or nil when none occurred. After a see-other-host redirect the
// returned error carries the new target, suitable for
// transport.Redialer.Redirect.
func (s *Session) LastStreamError() error {
	ch := make(chan error, 1)
	s.rq.Post(func() {
		if s.lastStreamErr == nil {
			ch <- nil
			return
		}
		ch <- *s.lastStreamErr
	})
	return <-ch
}

// OnPhase registers fn to be called (on the session's executor, in engine
// order) whenever the lifecycle phase changes.
func (s *Session) OnPhase(fn func(Phase)) {
	s.rq.Post(func() { s.phaseSubs = append(s.phaseSubs, fn) })
}

// OnDeliveryUnknown registers fn to be called (on the session's executor)
// when unacknowledged stanzas are dropped because preserved resumption
// state was discarded. The error passed is ErrSessionNotResumable; the
// stanzas are in original send order and their fate is unknown, not
// failed.
func (s *Session) OnDeliveryUnknown(fn func(err error, stanzas []*stanza.Element)) {
	s.rq.Post(func() { s.dropSubs = append(s.dropSubs, fn) })
}

// setPhase updates the phase and notifies subscribers. Runs on the run
// queue.
func (s *Session) setPhase(p Phase) {
	s.stateMu.Lock()
	s.phase = p
	s.stateMu.Unlock()
	for _, fn := range s.phaseSubs {
		fn(p)
	}
}

// addState sets bits on the session state. Runs on the run queue.
func (s *Session) addState(bits SessionState) {
	s.stateMu.Lock()
	s.state |= bits
	s.stateMu.Unlock()
}

// resetState replaces the whole state mask. Runs on the run queue.
func (s *Session) resetState(bits SessionState) {
	s.stateMu.Lock()
	s.state = bits
	s.stateMu.Unlock()
}

// Connect negotiates a session over tr: stream headers, TLS upgrade,
// authentication, then either resumption of a previous session or resource
// binding and stream management. It blocks until the session is established
// or negotiation fails.
func (s *Session) Connect(ctx context.Context, tr transport.Transport) error {
	// Unblock transport reads if the caller gives up mid-negotiation.
	watch := make(chan struct{})
	defer close(watch)
	go func() {
		select {
		case <-ctx.Done():
			tr.Close()
		case <-watch:
		}
	}()

	errCh := make(chan error, 1)
	s.rq.Post(func() { errCh <- s.connect(ctx, tr) })
	return <-errCh
}

// connect runs the whole negotiation on the run queue so that no other
// engine task can interleave with it.
func (s *Session) connect(ctx context.Context, tr transport.Transport) error {
	s.tr = tr
	s.closing = false
	var base SessionState
	if tr.IsSecure() {
		base |= Secure
	}
	s.resetState(base)
	s.lastStreamErr = nil
	s.setPhase(Connecting)

	if err := s.negotiate(ctx); err != nil {
		s.addState(InputStreamClosed | OutputStreamClosed)
		s.setPhase(Disconnected)
		s.tr.Close()
		return err
	}

	s.setPhase(Established)
	s.serveDone = make(chan struct{})
	go s.serve(s.dec)

	// Replay before any queued Send task can slip in.
	if replay := s.resumeReplay; len(replay) > 0 {
		s.resumeReplay = nil
		s.replayPreserved(replay)
	}
	return nil
}

// serve is the read loop of an established session. It owns the decoder;
// everything it reads is posted to the run queue in receive order.
func (s *Session) serve(dec *xml.Decoder) {
	defer close(s.serveDone)
	for {
		tok, err := dec.Token()
		if err != nil {
			s.rq.Post(func() { s.onInputClosed(err) })
			return
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el, err := stanza.ReadElement(dec, t)
			if err != nil {
				s.rq.Post(func() { s.onInputClosed(err) })
				return
			}
			s.rq.Post(func() { s.handleInbound(el) })
		case xml.EndElement:
			// The peer closed its side of the stream.
			s.rq.Post(func() { s.onInputClosed(nil) })
			return
		}
	}
}

// handleInbound routes one element read from an established stream. Runs on
// the run queue.
func (s *Session) handleInbound(el *stanza.Element) {
	if el.Namespace() == ns.Stream && el.Name() == "error" {
		s.onStreamError(stream.FromElement(el))
		return
	}
	if el.Namespace() == ns.SM {
		s.handleSM(el)
		return
	}
	s.sm.countInbound(el)
	if s.sm.enabled && s.sm.inSinceAck >= unpromptedAckThreshold {
		s.sendAck()
	}
	s.dispatch(el)
}

// onStreamError handles a fatal stream error from the peer. Runs on the run
// queue.
func (s *Session) onStreamError(streamErr stream.Error) {
	if host, ok := streamErr.SeeOtherHost(); ok {
		s.log.Warn("server redirected stream", zap.String("host", host))
	} else {
		s.log.Error("stream error from server", zap.String("condition", streamErr.Err))
	}
	s.lastStreamErr = &streamErr
	s.closeOutput()
	s.failAllPending(streamErr)
}

// onInputClosed is the single teardown path for an established stream,
// whether it ended gracefully, was reset, or timed out. Runs on the run
// queue.
func (s *Session) onInputClosed(err error) {
	if s.State()&InputStreamClosed != 0 {
		return
	}
	reason := transport.Classify(err)
	s.log.Info("input stream closed", zap.Stringer("reason", reason))
	s.addState(InputStreamClosed)

	if s.closing || reason == transport.ReasonGraceful {
		// Orderly shutdown: everything written was seen by the peer.
		s.sm.discard()
	} else if s.sm.enabled && s.sm.canResume {
		s.startGracePeriod()
	} else {
		s.reportDeliveryUnknown(s.sm.takeUnacked())
		s.sm.discard()
	}

	s.closeOutput()
	s.failAllPending(ErrInputStreamClosed)
	s.tr.Close()
	s.setPhase(Disconnected)
}

// closeOutput sends the closing stream tag once. Runs on the run queue.
func (s *Session) closeOutput() {
	if s.State()&OutputStreamClosed != 0 {
		return
	}
	s.addState(OutputStreamClosed)
	if _, err := io.WriteString(s.tr, "</stream:stream>"); err != nil {
		s.log.Debug("closing tag write failed", zap.Error(err))
	}
}

// Close shuts the session down in an orderly fashion: pending acks are
// flushed, the closing stream tag is sent, and the peer is given until ctx
// expires to close its side before the transport is torn down.
func (s *Session) Close(ctx context.Context) error {
	type closeInfo struct {
		serveDone chan struct{}
		tr        transport.Transport
	}
	started := make(chan closeInfo, 1)
	s.rq.Post(func() {
		if s.tr == nil {
			started <- closeInfo{}
			return
		}
		s.closing = true
		s.setPhase(Closing)
		if s.sm.enabled {
			// Last chance to learn the fate of unacked stanzas.
			s.requestAck()
			s.sendAck()
		}
		s.closeOutput()
		started <- closeInfo{serveDone: s.serveDone, tr: s.tr}
	})

	info := <-started
	if info.tr == nil {
		return nil
	}
	if info.serveDone != nil {
		select {
		case <-info.serveDone:
			// The read loop's teardown already closed the transport.
			return nil
		case <-ctx.Done():
		}
	}
	return info.tr.Close()
}

// writeElement serializes an element to the stream. Negotiation and the run
// queue are the only callers, so writes are never concurrent.
func (s *Session) writeElement(el *stanza.Element) error {
	if ce := s.log.Check(zap.DebugLevel, "write element"); ce != nil {
		ce.Write(zap.String("name", el.Name()), zap.String("id", el.ID()))
	}
	if _, err := el.WriteXML(s.enc); err != nil {
		return err
	}
	return s.enc.Flush()
}

// readElement reads the next complete element during negotiation, before
// the serve loop owns the decoder. Stream errors are surfaced as errors.
func (s *Session) readElement(ctx context.Context) (*stanza.Element, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tok, err := s.dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el, err := stanza.ReadElement(s.dec, t)
			if err != nil {
				return nil, err
			}
			if el.Namespace() == ns.Stream && el.Name() == "error" {
				return nil, stream.FromElement(el)
			}
			if ce := s.log.Check(zap.DebugLevel, "read element"); ce != nil {
				ce.Write(zap.String("name", el.Name()), zap.String("id", el.ID()))
			}
			return el, nil
		case xml.EndElement:
			return nil, ErrInputStreamClosed
		}
	}
}
