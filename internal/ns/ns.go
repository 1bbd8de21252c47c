// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package ns provides namespace constants that are used by the xmpp package
// and other internal packages.
package ns // import "loqui.im/xmpp/internal/ns"

// List of commonly used namespaces.
const (
	Client   = "jabber:client"
	Server   = "jabber:server"
	Stream   = "http://etherx.jabber.org/streams"
	Bind     = "urn:ietf:params:xml:ns:xmpp-bind"
	Session  = "urn:ietf:params:xml:ns:xmpp-session"
	SASL     = "urn:ietf:params:xml:ns:xmpp-sasl"
	StartTLS = "urn:ietf:params:xml:ns:xmpp-tls"
	SM       = "urn:xmpp:sm:3"
	Delay    = "urn:xmpp:delay"
	Stanza   = "urn:ietf:params:xml:ns:xmpp-stanzas"
	XML      = "http://www.w3.org/XML/1998/namespace"
)
