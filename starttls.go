// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"crypto/tls"
	"encoding/xml"

	"loqui.im/xmpp/internal/ns"
	"loqui.im/xmpp/stanza"
)

// startTLSFeature negotiates the in-stream TLS upgrade. It is skipped when
// the transport is already secure.
func startTLSFeature() StreamFeature {
	return StreamFeature{
		Name:       xml.Name{Space: ns.StartTLS, Local: "starttls"},
		Prohibited: Secure | Authn,
		Parse: func(el *stanza.Element) (bool, interface{}, error) {
			return parseRequired(el), nil, nil
		},
		Negotiate: func(ctx context.Context, s *Session, _ interface{}) (SessionState, bool, error) {
			if err := s.writeElement(stanza.New("starttls", ns.StartTLS)); err != nil {
				return 0, false, err
			}
			resp, err := s.readElement(ctx)
			if err != nil {
				return 0, false, err
			}
			switch {
			case resp.Name() == "proceed" && resp.Namespace() == ns.StartTLS:
			case resp.Name() == "failure" && resp.Namespace() == ns.StartTLS:
				// The server must close the stream after a failure;
				// nothing is recoverable here.
				return 0, false, &ProtocolError{msg: "server refused tls upgrade"}
			default:
				return 0, false, &ProtocolError{msg: "unexpected starttls response " + resp.Name()}
			}

			cfg := s.config.TLSConfig
			if cfg == nil {
				cfg = &tls.Config{ServerName: s.origin.Domainpart()}
			}
			if err := s.tr.StartTLS(cfg); err != nil {
				return 0, false, err
			}
			return Secure, true, nil
		},
	}
}
