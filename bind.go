// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"encoding/xml"

	"go.uber.org/zap"

	"loqui.im/xmpp/internal/ns"
	"loqui.im/xmpp/jid"
	"loqui.im/xmpp/stanza"
)

// bindFeature negotiates resource binding, giving the session its full
// address.
func bindFeature() StreamFeature {
	return StreamFeature{
		Name:       xml.Name{Space: ns.Bind, Local: "bind"},
		Necessary:  Secure | Authn,
		Prohibited: Bound,
		Parse: func(el *stanza.Element) (bool, interface{}, error) {
			return true, nil, nil
		},
		Negotiate: func(ctx context.Context, s *Session, _ interface{}) (SessionState, bool, error) {
			s.setPhase(Binding)

			bind := stanza.New("bind", ns.Bind)
			if s.config.Resource != "" {
				bind.Append(stanza.New("resource", "").SetText(s.config.Resource))
			}
			iq := stanza.NewIQ(stanza.SetIQ, nil).Append(bind)
			reply, err := s.roundTripIQ(ctx, iq)
			if err != nil {
				return 0, false, err
			}

			bound := reply.ChildNS("bind", ns.Bind)
			if bound == nil {
				return 0, false, &ProtocolError{msg: "bind result missing bind payload"}
			}
			addr, err := jid.Parse(bound.ChildText("jid"))
			if err != nil {
				return 0, false, err
			}
			s.local = addr
			s.log.Info("resource bound", zap.String("jid", addr.String()))
			return Bound, false, nil
		},
	}
}

// legacySessionFeature performs the session establishment IQ that pre-RFC
// 6121 servers still require after binding. Servers marking it optional are
// taken at their word and the round trip is skipped.
func legacySessionFeature() StreamFeature {
	return StreamFeature{
		Name:      xml.Name{Space: ns.Session, Local: "session"},
		Necessary: Secure | Authn | Bound,
		Parse: func(el *stanza.Element) (bool, interface{}, error) {
			optional := el.Child("optional") != nil
			return !optional, optional, nil
		},
		Negotiate: func(ctx context.Context, s *Session, data interface{}) (SessionState, bool, error) {
			if data.(bool) {
				return 0, false, nil
			}
			iq := stanza.NewIQ(stanza.SetIQ, nil).Append(stanza.New("session", ns.Session))
			if _, err := s.roundTripIQ(ctx, iq); err != nil {
				return 0, false, err
			}
			return 0, false, nil
		},
	}
}

// roundTripIQ sends an IQ and reads its reply synchronously. It is only
// usable during negotiation, before the serve loop owns the stream.
func (s *Session) roundTripIQ(ctx context.Context, iq *stanza.Element) (*stanza.Element, error) {
	if err := s.writeElement(iq); err != nil {
		return nil, err
	}
	for {
		reply, err := s.readElement(ctx)
		if err != nil {
			return nil, err
		}
		if reply.Name() != "iq" || reply.ID() != iq.ID() {
			// Nothing else should be in flight this early; skip stray
			// elements rather than failing the negotiation.
			s.log.Debug("ignoring element during negotiation", zap.String("name", reply.Name()))
			continue
		}
		switch reply.Type() {
		case stanza.ResultIQ:
			return reply, nil
		case stanza.ErrorIQ:
			if stErr, ok := stanza.ErrorOf(reply); ok {
				return nil, stErr
			}
			return nil, &ProtocolError{msg: "error iq without error payload"}
		default:
			return nil, &ProtocolError{msg: "iq reply of type " + reply.Type()}
		}
	}
}
