// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package sasl implements the client side of the Simple Authentication and
// Security Layer (RFC 4422) as used by XMPP.
//
// A Mechanism encapsulates a single authentication attempt as a sequence of
// challenge/response byte exchanges. Mechanisms carry per-attempt state
// (nonces, expected server signatures) and must never be reused; create a
// fresh one for every attempt.
package sasl // import "loqui.im/xmpp/sasl"

import (
	"errors"
)

// Errors returned by mechanisms during an exchange.
var (
	// ErrNoMechanism is returned when the intersection of the mechanisms
	// offered by the server and those supported locally is empty.
	ErrNoMechanism = errors.New("sasl: no compatible authentication mechanism")

	// ErrMalformedChallenge is returned when a server challenge cannot be
	// parsed or violates the mechanism's rules.
	ErrMalformedChallenge = errors.New("sasl: malformed challenge")

	// ErrServerAuthenticity is returned when the server fails to prove that
	// it also knows the credentials (eg. a SCRAM server signature or a
	// DIGEST-MD5 rspauth that does not match the expected value). It is
	// deliberately distinct from a credentials-rejected failure and must
	// never be downgraded to one.
	ErrServerAuthenticity = errors.New("sasl: server failed to prove authenticity")
)

// Credentials are the secrets used to authenticate to the server.
type Credentials struct {
	Username string
	Password string

	// AuthzID is the optional authorization identity, used when acting on
	// behalf of another identity.
	AuthzID string

	// Domain is the domain of the server being authenticated against.
	Domain string
}

// ChannelBinding is data extracted from the secured transport that ties the
// authentication exchange to the TLS channel.
type ChannelBinding struct {
	// Type is the binding type, eg. "tls-unique" or "tls-exporter".
	Type string
	Data []byte
}

// Mechanism is a single authentication exchange. The session engine drives
// it as a strict request/response loop: the initial response is transmitted
// with the mechanism selection, then every server challenge is fed to
// ProcessChallenge until the server reports success or failure.
type Mechanism interface {
	// Name returns the IANA registered mechanism name, eg. "SCRAM-SHA-1".
	Name() string

	// InitialResponse returns the mechanism's initial response, or nil if
	// the mechanism has none and the server speaks first.
	InitialResponse() ([]byte, error)

	// ProcessChallenge consumes a server challenge and produces the next
	// response. A nil response means nothing further needs to be sent.
	ProcessChallenge(challenge []byte) ([]byte, error)

	// ValidateSuccess consumes the additional data carried by the server's
	// success report. Mechanisms that verify the server's authenticity
	// return ErrServerAuthenticity when the proof does not match.
	ValidateSuccess(data []byte) error

	// Completed reports whether the exchange has finished from the
	// mechanism's point of view.
	Completed() bool
}

// preference is the fixed local mechanism order, strongest first. Selection
// over any advertised set is fully deterministic.
var preference = []string{
	"SCRAM-SHA-512-PLUS",
	"SCRAM-SHA-256-PLUS",
	"SCRAM-SHA-1-PLUS",
	"SCRAM-SHA-512",
	"SCRAM-SHA-256",
	"SCRAM-SHA-1",
	"DIGEST-MD5",
	"PLAIN",
	"EXTERNAL",
	"ANONYMOUS",
}

// Supported reports whether name is a mechanism this package implements.
func Supported(name string) bool {
	for _, m := range preference {
		if m == name {
			return true
		}
	}
	return false
}

// Select picks the strongest supported mechanism from the server-advertised
// set, skipping mechanisms listed in tried (so that a failed mechanism is
// never silently retried) and mechanisms whose requirements are not met by
// the given credentials or channel binding. It returns ErrNoMechanism when
// the intersection is empty.
func Select(offered []string, tried map[string]bool, creds Credentials, cb *ChannelBinding) (Mechanism, error) {
	offer := make(map[string]bool, len(offered))
	for _, name := range offered {
		offer[name] = true
	}
	for _, name := range preference {
		if !offer[name] || tried[name] || !eligible(name, creds, cb) {
			continue
		}
		return New(name, creds, cb)
	}
	return nil, ErrNoMechanism
}

// New constructs the named mechanism. It returns ErrNoMechanism for unknown
// names.
func New(name string, creds Credentials, cb *ChannelBinding) (Mechanism, error) {
	switch name {
	case "PLAIN":
		return &plain{creds: creds}, nil
	case "ANONYMOUS":
		return &anonymous{}, nil
	case "EXTERNAL":
		return &external{creds: creds}, nil
	case "DIGEST-MD5":
		return newDigestMD5(creds), nil
	case "SCRAM-SHA-1", "SCRAM-SHA-256", "SCRAM-SHA-512":
		return newScram(name, creds, nil), nil
	case "SCRAM-SHA-1-PLUS", "SCRAM-SHA-256-PLUS", "SCRAM-SHA-512-PLUS":
		if cb == nil {
			return nil, ErrNoMechanism
		}
		return newScram(name, creds, cb), nil
	}
	return nil, ErrNoMechanism
}

func eligible(name string, creds Credentials, cb *ChannelBinding) bool {
	switch name {
	case "PLAIN", "DIGEST-MD5":
		return creds.Username != "" && creds.Password != ""
	case "EXTERNAL":
		return true
	case "ANONYMOUS":
		return creds.Password == ""
	}
	// SCRAM family.
	if creds.Username == "" || creds.Password == "" {
		return false
	}
	if isPlus(name) {
		return cb != nil
	}
	return true
}

func isPlus(name string) bool {
	return len(name) > 5 && name[len(name)-5:] == "-PLUS"
}
