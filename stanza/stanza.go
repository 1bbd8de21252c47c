// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package stanza implements the structured stanza objects exchanged over an
// XMPP stream and the codec that reads them off the wire.
package stanza // import "loqui.im/xmpp/stanza"

import (
	"encoding/xml"

	"loqui.im/xmpp/internal/attr"
	"loqui.im/xmpp/internal/ns"
	"loqui.im/xmpp/jid"
)

// IQ types as defined in RFC 6120 §8.2.3.
const (
	GetIQ    = "get"
	SetIQ    = "set"
	ResultIQ = "result"
	ErrorIQ  = "error"
)

// Is tests whether name belongs to a stanza (as opposed to a stream
// management element, a SASL element, or other stream-level machinery).
func Is(name xml.Name) bool {
	return (name.Local == "iq" || name.Local == "message" || name.Local == "presence") &&
		(name.Space == ns.Client || name.Space == ns.Server)
}

// IsStanza reports whether the element is an iq, message, or presence stanza.
func IsStanza(e *Element) bool {
	return Is(e.XMLName())
}

// NewIQ creates an iq stanza of the given type addressed to the given JID
// with a fresh random ID.
func NewIQ(typ string, to *jid.JID) *Element {
	e := New("iq", ns.Client).
		SetAttr("type", typ).
		SetAttr("id", attr.RandomID())
	if to != nil {
		e.SetAttr("to", to.String())
	}
	return e
}

// NewMessage creates a message stanza of the given type addressed to the
// given JID.
func NewMessage(typ string, to *jid.JID) *Element {
	e := New("message", ns.Client).SetAttr("id", attr.RandomID())
	if typ != "" {
		e.SetAttr("type", typ)
	}
	if to != nil {
		e.SetAttr("to", to.String())
	}
	return e
}

// NewPresence creates a presence stanza of the given type addressed to the
// given JID. An empty type means available presence.
func NewPresence(typ string, to *jid.JID) *Element {
	e := New("presence", ns.Client)
	if typ != "" {
		e.SetAttr("type", typ)
	}
	if to != nil {
		e.SetAttr("to", to.String())
	}
	return e
}

// ID returns the stanza's id attribute.
func (e *Element) ID() string {
	return e.Attr("id")
}

// SetID sets the stanza's id attribute and returns the element.
func (e *Element) SetID(id string) *Element {
	return e.SetAttr("id", id)
}

// Type returns the stanza's type attribute. For messages the default type is
// "normal" and for presence the empty type means available.
func (e *Element) Type() string {
	t := e.Attr("type")
	if t == "" && e.local == "message" {
		return "normal"
	}
	return t
}

// To returns the stanza's to attribute as an address, or nil if absent or
// unparsable.
func (e *Element) To() *jid.JID {
	j, err := jid.Parse(e.Attr("to"))
	if err != nil {
		return nil
	}
	return j
}

// From returns the stanza's from attribute as an address, or nil if absent
// or unparsable.
func (e *Element) From() *jid.JID {
	j, err := jid.Parse(e.Attr("from"))
	if err != nil {
		return nil
	}
	return j
}
