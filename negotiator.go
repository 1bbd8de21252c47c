// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"encoding/xml"

	"go.uber.org/zap"

	"loqui.im/xmpp/internal/ns"
	"loqui.im/xmpp/stream"
)

// negotiate drives the stream establishment loop: open a stream, read the
// advertised features, then negotiate them one at a time until the session
// is ready, restarting the stream whenever a feature requires it (TLS and
// authentication both do).
func (s *Session) negotiate(ctx context.Context) error {
	for {
		if _, err := stream.Send(s.tr, s.origin.Domainpart(), s.origin.String(), s.config.Lang); err != nil {
			return err
		}
		s.enc = xml.NewEncoder(s.tr)
		s.dec = xml.NewDecoder(s.tr)

		info, err := stream.Expect(ctx, s.dec)
		if err != nil {
			return err
		}
		s.streamInfo = info
		s.setPhase(StreamOpened)

		featEl, err := s.readElement(ctx)
		if err != nil {
			return err
		}
		if featEl.Name() != "features" || featEl.Namespace() != ns.Stream {
			return &ProtocolError{msg: "expected stream features, got " + featEl.Name()}
		}
		s.setPhase(FeaturesReceived)

		// A resumable previous session short-circuits binding.
		resumed, err := s.tryResume(ctx, featEl)
		if err != nil {
			return err
		}
		if resumed {
			s.addState(Bound | Ready | StreamMgmt)
			return nil
		}

		list, err := s.parseFeatures(featEl)
		if err != nil {
			return err
		}

		restart := false
		for !restart {
			a := s.selectFeature(list)
			if a == nil {
				if s.state&Bound != 0 {
					s.addState(Ready)
					return nil
				}
				for _, rem := range list {
					if !rem.done && rem.req {
						return &ProtocolError{msg: "required feature " + rem.feature.Name.Local + " cannot be negotiated"}
					}
				}
				return &ProtocolError{msg: "negotiation stalled before binding"}
			}
			a.done = true
			s.log.Debug("negotiating feature", zap.String("feature", a.feature.Name.Local))

			mask, r, err := a.feature.Negotiate(ctx, s, a.data)
			if err != nil {
				return err
			}
			s.addState(mask)
			restart = r
		}
	}
}
