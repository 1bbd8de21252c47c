// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

// SessionState is a bitmask tracking the current state of a session. It is
// used to determine which stream features may be negotiated: a feature only
// becomes eligible once every bit in its Necessary set is present and no bit
// in its Prohibited set is.
type SessionState uint16

const (
	// Secure indicates that the underlying transport has been secured,
	// either with STARTTLS or because the connection was TLS from the
	// start.
	Secure SessionState = 1 << iota

	// Authn indicates that the session has been authenticated with SASL.
	Authn

	// Bound indicates that a resource has been bound and the session has
	// a full address.
	Bound

	// Ready indicates that the session is fully negotiated and stanzas
	// may be sent.
	Ready

	// StreamMgmt indicates that stream management is active and stanzas
	// are being counted and retained for acknowledgement.
	StreamMgmt

	// OutputStreamClosed indicates that the output stream has been
	// closed; no further writes are possible.
	OutputStreamClosed

	// InputStreamClosed indicates that the peer has closed its side of
	// the stream; no further reads are possible.
	InputStreamClosed
)

// Phase is the coarse lifecycle position of a session, advanced strictly in
// order during connection establishment.
type Phase int

const (
	// Disconnected is the initial phase, and the terminal phase after
	// the stream has been torn down.
	Disconnected Phase = iota

	// Connecting means a transport is being established.
	Connecting

	// StreamOpened means the stream header exchange has completed.
	StreamOpened

	// FeaturesReceived means the server's feature list for the current
	// stream has been read.
	FeaturesReceived

	// Authenticating means a SASL exchange is in progress.
	Authenticating

	// Binding means resource binding is in progress.
	Binding

	// Resuming means a stream management resumption attempt is in
	// progress.
	Resuming

	// Established means the session is ready for stanza traffic.
	Established

	// Closing means an orderly shutdown has started.
	Closing
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case StreamOpened:
		return "stream-opened"
	case FeaturesReceived:
		return "features-received"
	case Authenticating:
		return "authenticating"
	case Binding:
		return "binding"
	case Resuming:
		return "resuming"
	case Established:
		return "established"
	case Closing:
		return "closing"
	}
	return "unknown"
}
