// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package stream contains XMPP stream framing and the stream errors defined
// by RFC 6120 §4.9.
//
// Most people will want to use the facilities of the loqui.im/xmpp package
// and not create stream errors directly.
package stream // import "loqui.im/xmpp/stream"

import (
	"loqui.im/xmpp/stanza"
)

// NSError is the namespace of stream error defined conditions.
const NSError = "urn:ietf:params:xml:ns:xmpp-streams"

// A list of stream errors defined in RFC 6120 §4.9.3.
var (
	// BadFormat is used when the entity has sent XML that cannot be processed.
	// The more specific errors such as <not-well-formed/> are preferred where
	// they apply.
	BadFormat = Error{Err: "bad-format"}

	// BadNamespacePrefix is sent when an entity has sent a namespace prefix
	// that is unsupported, or has sent no namespace prefix on an element that
	// needs one.
	BadNamespacePrefix = Error{Err: "bad-namespace-prefix"}

	// Conflict is sent when a new stream has been initiated that conflicts
	// with the existing stream.
	Conflict = Error{Err: "conflict"}

	// ConnectionTimeout results when one party believes the other has
	// permanently lost the ability to communicate over the stream.
	ConnectionTimeout = Error{Err: "connection-timeout"}

	// HostGone is sent when the 'to' address in the stream header is no longer
	// serviced by the receiving entity.
	HostGone = Error{Err: "host-gone"}

	// HostUnknown is sent when the 'to' address in the stream header does not
	// correspond to an address serviced by the receiving entity.
	HostUnknown = Error{Err: "host-unknown"}

	// InternalServerError is sent when the server has experienced a
	// misconfiguration or other internal error that prevents it from servicing
	// the stream.
	InternalServerError = Error{Err: "internal-server-error"}

	// InvalidNamespace may be sent when the stream or content namespace is not
	// supported.
	InvalidNamespace = Error{Err: "invalid-namespace"}

	// InvalidXML may be sent when the entity has sent invalid XML over the
	// stream.
	InvalidXML = Error{Err: "invalid-xml"}

	// NotAuthorized may be sent when the entity has attempted to send data
	// before the stream has been authenticated.
	NotAuthorized = Error{Err: "not-authorized"}

	// NotWellFormed may be sent when the peer has sent XML that violates the
	// well-formedness rules of XML or XML namespaces.
	NotWellFormed = Error{Err: "not-well-formed"}

	// PolicyViolation may be sent when an entity has violated some local
	// service policy.
	PolicyViolation = Error{Err: "policy-violation"}

	// Reset is sent when the server is closing the stream because encryption
	// and authentication need to be negotiated again for a new stream.
	Reset = Error{Err: "reset"}

	// ResourceConstraint may be sent when the server lacks the system
	// resources necessary to service the stream.
	ResourceConstraint = Error{Err: "resource-constraint"}

	// RestrictedXML may be sent when the entity has attempted to send
	// restricted XML features such as a comment or processing instruction.
	RestrictedXML = Error{Err: "restricted-xml"}

	// SystemShutdown may be sent when the server is being shut down and all
	// active streams are being closed.
	SystemShutdown = Error{Err: "system-shutdown"}

	// UndefinedCondition is used when the error condition is not one of those
	// defined by the other conditions in this list.
	UndefinedCondition = Error{Err: "undefined-condition"}

	// UnsupportedEncoding may be sent when the initiating entity has encoded
	// the stream in an encoding that is not UTF-8.
	UnsupportedEncoding = Error{Err: "unsupported-encoding"}

	// UnsupportedFeature may be sent when the receiving entity has advertised
	// a mandatory-to-negotiate stream feature that the initiating entity does
	// not support.
	UnsupportedFeature = Error{Err: "unsupported-feature"}

	// UnsupportedStanzaType may be sent when the initiating entity has sent a
	// first-level child of the stream that is not supported by the server.
	UnsupportedStanzaType = Error{Err: "unsupported-stanza-type"}

	// UnsupportedVersion may be sent when the initiating entity has specified
	// a version of XMPP that is not supported by the server.
	UnsupportedVersion = Error{Err: "unsupported-version"}
)

// An Error represents an unrecoverable stream-level error, with the exception
// of see-other-host which instructs the initiating entity to reconnect
// elsewhere.
type Error struct {
	Err string

	// Text is the optional descriptive text sent with the error.
	Text string

	// Host is the redirect target of a see-other-host error.
	Host string
}

// Error satisfies the builtin error interface and returns the defined
// condition of the stream error, eg. "restricted-xml".
func (e Error) Error() string {
	return e.Err
}

// SeeOtherHost reports whether the error is a see-other-host redirect and
// returns the target network address.
func (e Error) SeeOtherHost() (string, bool) {
	return e.Host, e.Err == "see-other-host"
}

// FromElement builds the stream error carried by a <stream:error/> element.
func FromElement(el *stanza.Element) Error {
	e := Error{Err: UndefinedCondition.Err}
	for _, c := range el.Children() {
		if c.Namespace() != NSError {
			continue
		}
		switch c.Name() {
		case "text":
			e.Text = c.Text()
		case "see-other-host":
			e.Err = c.Name()
			e.Host = c.Text()
		default:
			e.Err = c.Name()
		}
	}
	return e
}

// XML returns the serialized form of the error element, suitable for writing
// directly to the stream before closing it.
func (e Error) XML() string {
	s := `<stream:error><` + e.Err + ` xmlns='` + NSError + `'/>`
	return s + `</stream:error>`
}
