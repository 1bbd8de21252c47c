// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCompatibleMechanism is returned by Connect when none of the
	// mechanisms offered by the server can be attempted with the
	// credentials on hand, or when every eligible mechanism has been
	// tried and rejected.
	ErrNoCompatibleMechanism = errors.New("xmpp: no compatible auth mechanism")

	// ErrSessionNotResumable reports that preserved stream management
	// state was discarded before a resume could succeed: delivery of
	// every stanza that was still unacknowledged is unknown. It is passed
	// to the callbacks registered with OnDeliveryUnknown.
	ErrSessionNotResumable = errors.New("xmpp: session not resumable")

	// ErrDuplicateRequestID is returned by SendAwait when another request
	// carrying the same stanza ID is still awaiting its reply.
	ErrDuplicateRequestID = errors.New("xmpp: request id already pending")

	// ErrRequestTimeout is returned by SendAwait when no reply arrived
	// within the request timeout.
	ErrRequestTimeout = errors.New("xmpp: request timed out")

	// ErrRequestCancelled is returned by SendAwait when the caller's
	// context was cancelled before a reply arrived.
	ErrRequestCancelled = errors.New("xmpp: request cancelled")

	// ErrInputStreamClosed is returned when attempting to read from a
	// stream where the input side has already been closed.
	ErrInputStreamClosed = errors.New("xmpp: input stream closed")

	// ErrOutputStreamClosed is returned when attempting to send on a
	// stream where the output side has already been closed.
	ErrOutputStreamClosed = errors.New("xmpp: output stream closed")
)

// AuthenticationError is returned by Connect when the server rejected the
// authentication exchange. Condition is the SASL failure condition sent by
// the server (e.g. "not-authorized"); Text carries the optional
// human-readable part.
type AuthenticationError struct {
	Condition string
	Text      string
}

func (e *AuthenticationError) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("xmpp: authentication failed: %s (%s)", e.Condition, e.Text)
	}
	return "xmpp: authentication failed: " + e.Condition
}

// ProtocolError indicates that the peer sent something a conforming server
// never would; the stream cannot be trusted afterwards.
type ProtocolError struct {
	msg string
}

func (e *ProtocolError) Error() string {
	return "xmpp: protocol violation: " + e.msg
}
