// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"encoding/xml"
	"strconv"
	"time"

	"go.uber.org/zap"

	"loqui.im/xmpp/internal/ns"
	"loqui.im/xmpp/stanza"
)

// smEntry is one unacknowledged outbound stanza, retained for replay.
type smEntry struct {
	el   *stanza.Element
	sent time.Time
}

// smState holds the stream management counters and queues. All fields are
// touched only on the session's run queue or during synchronous
// negotiation.
//
// Counters are uint32 and wrap around; all comparisons go through signed
// differences so that wraparound is handled uniformly.
type smState struct {
	enabled   bool
	resumeID  string
	canResume bool
	location  string

	outH       uint32 // outbound stanzas counted since enable
	ackedH     uint32 // highest outbound count acked by the server
	inH        uint32 // inbound stanzas counted since enable
	inSinceAck uint32

	queue    []smEntry // unacked stanzas of the current connection
	oldQueue []smEntry // unacked stanzas carried across reconnects

	graceTimer *time.Timer
}

// countable reports whether el participates in stream management counting.
// Management elements themselves (r, a, enabled, resumed, ...) never do.
func countable(el *stanza.Element) bool {
	return stanza.IsStanza(el) && el.Namespace() != ns.SM
}

// trackOutbound records a stanza sent while management is active. A copy is
// retained so later mutation by the caller cannot corrupt the replay queue.
func (m *smState) trackOutbound(el *stanza.Element) {
	if !m.enabled || !countable(el) {
		return
	}
	m.outH++
	m.queue = append(m.queue, smEntry{el: el.Clone(), sent: time.Now()})
}

// countInbound advances the inbound counter for el if it is countable.
func (m *smState) countInbound(el *stanza.Element) {
	if !m.enabled || !countable(el) {
		return
	}
	m.inH++
	m.inSinceAck++
}

// validateAck prunes the unacked queue against a server-reported h. A value
// ahead of our own counter or deeper than the queue means the two sides
// disagree about history; the queue is dropped wholesale and both counters
// clamp to the server's value, which is what the server will base future
// acks on.
func (m *smState) validateAck(h uint32, log *zap.Logger) {
	if int32(h-m.outH) > 0 {
		log.Error("ack counter ahead of sent counter, dropping queue",
			zap.Uint32("server_h", h), zap.Uint32("out_h", m.outH))
		m.queue = m.queue[:0]
		m.ackedH = h
		m.outH = h
		return
	}
	acked := int32(h - m.ackedH)
	if acked < 0 {
		log.Warn("ack counter went backwards, ignoring",
			zap.Uint32("server_h", h), zap.Uint32("acked_h", m.ackedH))
		return
	}
	if int(acked) > len(m.queue) {
		log.Error("ack counter does not match queue, dropping queue",
			zap.Int32("acked", acked), zap.Int("queued", len(m.queue)))
		m.queue = m.queue[:0]
	} else {
		m.queue = m.queue[acked:]
	}
	m.ackedH = h
}

// preserve moves the current unacked queue onto the old queue so that
// repeated reconnect failures accumulate rather than drop stanzas.
func (m *smState) preserve() {
	m.oldQueue = append(m.oldQueue, m.queue...)
	m.queue = nil
}

// acceptResume prunes the old queue against the h carried by <resumed/> and
// returns the stanzas that still need to be replayed. Counters are aligned
// to the server's value; replayed stanzas are re-counted by the normal send
// path.
func (m *smState) acceptResume(h uint32, log *zap.Logger) []smEntry {
	acked := int32(h - m.ackedH)
	switch {
	case acked < 0 || int(acked) > len(m.oldQueue):
		log.Error("resume ack does not match preserved queue, dropping it",
			zap.Int32("acked", acked), zap.Int("queued", len(m.oldQueue)))
		m.oldQueue = nil
	default:
		m.oldQueue = m.oldQueue[acked:]
	}
	m.ackedH = h
	m.outH = h
	replay := m.oldQueue
	m.oldQueue = nil
	m.queue = nil
	m.enabled = true
	return replay
}

// takeUnacked returns every stanza still unacknowledged, preserved or
// current, in original send order.
func (m *smState) takeUnacked() []smEntry {
	entries := make([]smEntry, 0, len(m.oldQueue)+len(m.queue))
	entries = append(entries, m.oldQueue...)
	entries = append(entries, m.queue...)
	return entries
}

// discard throws away all preserved state; the session can no longer be
// resumed.
func (m *smState) discard() {
	if m.graceTimer != nil {
		m.graceTimer.Stop()
		m.graceTimer = nil
	}
	*m = smState{}
}

// smFeature negotiates stream management for a fresh (non-resumed) session.
// A server that answers <enable/> with <failed/> simply leaves the session
// running without management.
func smFeature() StreamFeature {
	return StreamFeature{
		Name:       xml.Name{Space: ns.SM, Local: "sm"},
		Necessary:  Secure | Authn | Bound,
		Prohibited: StreamMgmt,
		Parse: func(el *stanza.Element) (bool, interface{}, error) {
			return false, nil, nil
		},
		Negotiate: func(ctx context.Context, s *Session, _ interface{}) (SessionState, bool, error) {
			enable := stanza.New("enable", ns.SM).SetAttr("resume", "true")
			if err := s.writeElement(enable); err != nil {
				return 0, false, err
			}
			resp, err := s.readElement(ctx)
			if err != nil {
				return 0, false, err
			}
			switch {
			case resp.Name() == "enabled" && resp.Namespace() == ns.SM:
				*s.sm = smState{
					enabled:   true,
					resumeID:  resp.Attr("id"),
					canResume: resp.Attr("resume") == "true" || resp.Attr("resume") == "1",
					location:  resp.Attr("location"),
				}
				s.log.Info("stream management enabled",
					zap.Bool("resumable", s.sm.canResume))
				return StreamMgmt, false, nil
			case resp.Name() == "failed" && resp.Namespace() == ns.SM:
				s.log.Warn("stream management refused by server")
				return 0, false, nil
			}
			return 0, false, &ProtocolError{msg: "unexpected enable response " + resp.Name()}
		},
	}
}

// tryResume attempts stream resumption on a fresh stream. It returns true
// when the previous session was resumed (binding is skipped entirely) and
// false when negotiation should continue normally.
func (s *Session) tryResume(ctx context.Context, featureList *stanza.Element) (bool, error) {
	if s.config.NoStreamMgmt || s.sm.resumeID == "" || !s.sm.canResume {
		return false, nil
	}
	if s.state&Authn == 0 || s.state&Bound != 0 {
		return false, nil
	}
	if featureList.ChildNS("sm", ns.SM) == nil {
		return false, nil
	}
	s.setPhase(Resuming)

	resume := stanza.New("resume", ns.SM).
		SetAttr("h", strconv.FormatUint(uint64(s.sm.inH), 10)).
		SetAttr("previd", s.sm.resumeID)
	if err := s.writeElement(resume); err != nil {
		return false, err
	}
	resp, err := s.readElement(ctx)
	if err != nil {
		return false, err
	}

	switch {
	case resp.Name() == "resumed" && resp.Namespace() == ns.SM:
		h, err := parseH(resp.Attr("h"))
		if err != nil {
			return false, &ProtocolError{msg: "resumed without valid h"}
		}
		if s.sm.graceTimer != nil {
			s.sm.graceTimer.Stop()
			s.sm.graceTimer = nil
		}
		s.resumeReplay = s.sm.acceptResume(h, s.log)
		s.log.Info("session resumed",
			zap.Uint32("server_h", h),
			zap.Int("replay", len(s.resumeReplay)))
		return true, nil

	case resp.Name() == "failed" && resp.Namespace() == ns.SM:
		if h, err := parseH(resp.Attr("h")); err == nil {
			// The server still told us how much it saw before the old
			// session died; anything beyond that is delivery-unknown.
			acked := int32(h - s.sm.ackedH)
			if acked >= 0 && int(acked) <= len(s.sm.oldQueue) {
				s.sm.oldQueue = s.sm.oldQueue[acked:]
			}
		}
		s.log.Info("resume refused by server, renegotiating session")
		s.reportDeliveryUnknown(s.sm.takeUnacked())
		s.sm.discard()
		return false, nil
	}
	return false, &ProtocolError{msg: "unexpected resume response " + resp.Name()}
}

// replayPreserved re-sends stanzas that were unacknowledged when the
// previous connection was lost. Chat history receives a delay annotation
// with the original send time so recipients can tell the stanza was held
// back.
func (s *Session) replayPreserved(entries []smEntry) {
	for _, entry := range entries {
		el := entry.el
		switch el.Type() {
		case "chat":
			stanza.AddDelay(el, entry.sent, s.origin.Bare().String())
		case "groupchat":
			stanza.AddDelay(el, entry.sent, "")
		}
		s.sendOnQueue(el)
	}
}

// handleSM processes <r/> and <a/> elements arriving on an established
// stream. Runs on the run queue.
func (s *Session) handleSM(el *stanza.Element) {
	switch el.Name() {
	case "r":
		s.sendAck()
	case "a":
		h, err := parseH(el.Attr("h"))
		if err != nil {
			s.log.Error("ack without valid h attribute")
			return
		}
		s.sm.validateAck(h, s.log)
	default:
		s.log.Debug("ignoring stream management element", zap.String("name", el.Name()))
	}
}

// sendAck reports the inbound counter to the server.
func (s *Session) sendAck() {
	ack := stanza.New("a", ns.SM).
		SetAttr("h", strconv.FormatUint(uint64(s.sm.inH), 10))
	if err := s.writeElement(ack); err != nil {
		s.log.Error("failed to send ack", zap.Error(err))
		return
	}
	s.sm.inSinceAck = 0
}

// requestAck asks the server to acknowledge everything sent so far.
func (s *Session) requestAck() {
	if err := s.writeElement(stanza.New("r", ns.SM)); err != nil {
		s.log.Error("failed to request ack", zap.Error(err))
	}
}

// reportDeliveryUnknown surfaces stanzas dropped from the unacked queue to
// the OnDeliveryUnknown subscribers. Runs on the run queue.
func (s *Session) reportDeliveryUnknown(entries []smEntry) {
	if len(entries) == 0 {
		return
	}
	els := make([]*stanza.Element, len(entries))
	for i, e := range entries {
		els[i] = e.el
	}
	s.log.Warn("delivery of unacknowledged stanzas is unknown",
		zap.Int("count", len(els)))
	for _, fn := range s.dropSubs {
		fn(ErrSessionNotResumable, els)
	}
}

// startGracePeriod arms the timer that discards preserved resumption state
// when no resume happens in time. Runs on the run queue.
func (s *Session) startGracePeriod() {
	if !s.sm.canResume || s.sm.resumeID == "" {
		s.sm.discard()
		return
	}
	s.sm.preserve()
	var t *time.Timer
	t = time.AfterFunc(s.config.ResumptionTimeout, func() {
		s.rq.Post(func() {
			// A resume or a fresh grace period may have raced the timer.
			if s.sm.graceTimer != t {
				return
			}
			s.log.Warn("resumption grace period expired, discarding state",
				zap.Int("queued", len(s.sm.oldQueue)))
			s.reportDeliveryUnknown(s.sm.takeUnacked())
			s.sm.discard()
		})
	})
	s.sm.graceTimer = t
}

func parseH(attr string) (uint32, error) {
	v, err := strconv.ParseUint(attr, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
