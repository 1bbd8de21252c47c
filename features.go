// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"encoding/xml"

	"loqui.im/xmpp/stanza"
)

// A StreamFeature represents a feature advertised by the server that the
// session knows how to negotiate.
type StreamFeature struct {
	// Name is the XML name of the feature in the <stream:features/>
	// list.
	Name xml.Name

	// Necessary and Prohibited state bits gate when the feature may be
	// negotiated. A feature is only eligible if every Necessary bit is
	// set on the session and no Prohibited bit is.
	Necessary  SessionState
	Prohibited SessionState

	// Parse extracts any data needed from the feature advertisement and
	// reports whether the feature is mandatory-to-negotiate on this
	// stream.
	Parse func(el *stanza.Element) (req bool, data interface{}, err error)

	// Negotiate drives the feature exchange using the session's stream.
	// The returned mask is OR'ed into the session state on success, and
	// restart reports whether a stream restart is required afterwards.
	Negotiate func(ctx context.Context, s *Session, data interface{}) (mask SessionState, restart bool, err error)
}

// advertised is one entry of the feature list read from the current stream,
// paired with the feature that can negotiate it.
type advertised struct {
	feature StreamFeature
	req     bool
	data    interface{}
	done    bool
}

// parseFeatures matches a <stream:features/> element against the session's
// feature table. Advertisements the session has no feature for are ignored.
func (s *Session) parseFeatures(el *stanza.Element) ([]*advertised, error) {
	var list []*advertised
	for _, f := range s.features {
		adv := el.ChildNS(f.Name.Local, f.Name.Space)
		if adv == nil {
			continue
		}
		req, data, err := f.Parse(adv)
		if err != nil {
			return nil, err
		}
		list = append(list, &advertised{feature: f, req: req, data: data})
	}
	return list, nil
}

// selectFeature picks the first advertised feature that is eligible in the
// current session state and has not been negotiated on this connection.
func (s *Session) selectFeature(list []*advertised) *advertised {
	for _, a := range list {
		if a.done {
			continue
		}
		if a.feature.Necessary&s.state != a.feature.Necessary {
			continue
		}
		if a.feature.Prohibited&s.state != 0 {
			continue
		}
		return a
	}
	return nil
}

// featureTable returns the features the session negotiates, in priority
// order.
func (s *Session) featureTable() []StreamFeature {
	table := []StreamFeature{
		startTLSFeature(),
		saslFeature(),
		bindFeature(),
		legacySessionFeature(),
	}
	if !s.config.NoStreamMgmt {
		table = append(table, smFeature())
	}
	return table
}

// helper for features whose advertisement carries a <required/> child.
func parseRequired(el *stanza.Element) bool {
	return el.Child("required") != nil
}
