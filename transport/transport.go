// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package transport provides the byte transports a session runs over and
// the dialers that establish them.
package transport

import (
	"crypto/tls"
	"io"
	"net"

	"github.com/pkg/errors"
)

// ChannelBinding identifies data extracted from a secured transport that
// ties an authentication exchange to this particular connection.
const (
	// TLSExporter is the 'tls-exporter' channel binding (RFC 9266), used
	// on TLS 1.3 connections.
	TLSExporter = "tls-exporter"

	// TLSUnique is the legacy 'tls-unique' channel binding (RFC 5929),
	// used on connections secured with TLS 1.2 or earlier.
	TLSUnique = "tls-unique"
)

// exporterLabel and exporterLength are fixed by RFC 9266.
const (
	exporterLabel  = "EXPORTER-Channel-Binding"
	exporterLength = 32
)

// A Transport is a byte stream a session runs over.
type Transport interface {
	io.ReadWriteCloser

	// StartTLS secures the transport in place. It blocks until the
	// handshake completes or fails; after a failure the transport is
	// unusable.
	StartTLS(cfg *tls.Config) error

	// IsSecure reports whether the transport is already secured, either
	// by StartTLS or because the connection was TLS from the start.
	IsSecure() bool

	// ChannelBinding returns the strongest channel binding the secured
	// transport can provide, or ("", nil) when none is available.
	ChannelBinding() (typ string, data []byte)
}

// CloseReason classifies why a transport stopped being usable.
type CloseReason int

const (
	// ReasonGraceful means the peer closed the stream in an orderly way.
	ReasonGraceful CloseReason = iota

	// ReasonReset means the connection was torn down abruptly.
	ReasonReset

	// ReasonTimeout means an I/O deadline expired.
	ReasonTimeout

	// ReasonTLSFailure means TLS negotiation or record processing failed.
	ReasonTLSFailure
)

func (r CloseReason) String() string {
	switch r {
	case ReasonGraceful:
		return "graceful"
	case ReasonReset:
		return "reset"
	case ReasonTimeout:
		return "timeout"
	case ReasonTLSFailure:
		return "tls-failure"
	}
	return "unknown"
}

// Classify maps a read/write error to the reason the transport went away.
// A graceful close is the only reason under which in-flight state can be
// considered delivered.
func Classify(err error) CloseReason {
	if err == nil || errors.Is(err, io.EOF) {
		return ReasonGraceful
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return ReasonTLSFailure
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	return ReasonReset
}
