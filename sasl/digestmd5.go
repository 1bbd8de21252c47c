// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sasl

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	digestStart = iota
	digestResponseSent
	digestValidated
)

// digestMD5 implements the client side of the legacy DIGEST-MD5 mechanism
// (RFC 2831). It is kept for servers that offer nothing stronger.
type digestMD5 struct {
	creds Credentials

	state           int
	expectedRspAuth string
}

func newDigestMD5(creds Credentials) *digestMD5 {
	return &digestMD5{creds: creds}
}

func (m *digestMD5) Name() string { return "DIGEST-MD5" }

// InitialResponse returns nil: DIGEST-MD5 is server-first.
func (m *digestMD5) InitialResponse() ([]byte, error) {
	return nil, nil
}

func (m *digestMD5) ProcessChallenge(challenge []byte) ([]byte, error) {
	switch m.state {
	case digestStart:
		return m.respond(string(challenge))
	case digestResponseSent:
		params := parseDigestParams(string(challenge))
		if params["rspauth"] != m.expectedRspAuth {
			return nil, ErrServerAuthenticity
		}
		m.state = digestValidated
		return nil, nil
	}
	return nil, ErrMalformedChallenge
}

func (m *digestMD5) respond(challenge string) ([]byte, error) {
	params := parseDigestParams(challenge)
	nonce := params["nonce"]
	if nonce == "" {
		return nil, fmt.Errorf("%w: missing nonce", ErrMalformedChallenge)
	}
	realm := params["realm"]
	if realm == "" {
		realm = m.creds.Domain
	}

	cnonce := newCnonce()
	nc := "00000001"
	qop := "auth"
	digestURI := "xmpp/" + m.creds.Domain

	response := m.computeResponse(realm, nonce, cnonce, nc, qop, digestURI, true)
	m.expectedRspAuth = m.computeResponse(realm, nonce, cnonce, nc, qop, digestURI, false)

	var sb strings.Builder
	fmt.Fprintf(&sb, `username=%q`, m.creds.Username)
	fmt.Fprintf(&sb, `,realm=%q`, realm)
	fmt.Fprintf(&sb, `,nonce=%q`, nonce)
	fmt.Fprintf(&sb, `,cnonce=%q`, cnonce)
	fmt.Fprintf(&sb, ",nc=%s", nc)
	fmt.Fprintf(&sb, ",qop=%s", qop)
	fmt.Fprintf(&sb, `,digest-uri=%q`, digestURI)
	fmt.Fprintf(&sb, ",response=%s", response)
	if m.creds.AuthzID != "" {
		fmt.Fprintf(&sb, `,authzid=%q`, m.creds.AuthzID)
	}
	fmt.Fprintf(&sb, ",charset=utf-8")

	m.state = digestResponseSent
	return []byte(sb.String()), nil
}

// computeResponse derives the response (or, with asClient false, the
// expected rspauth) hash per RFC 2831 §2.1.2.1.
func (m *digestMD5) computeResponse(realm, nonce, cnonce, nc, qop, digestURI string, asClient bool) string {
	x := m.creds.Username + ":" + realm + ":" + m.creds.Password
	y := md5.Sum([]byte(x))

	a1 := string(y[:]) + ":" + nonce + ":" + cnonce
	if m.creds.AuthzID != "" {
		a1 += ":" + m.creds.AuthzID
	}

	var a2 string
	if asClient {
		a2 = "AUTHENTICATE:" + digestURI
	} else {
		a2 = ":" + digestURI
	}

	ha1 := hexMD5(a1)
	ha2 := hexMD5(a2)
	kd := ha1 + ":" + nonce + ":" + nc + ":" + cnonce + ":" + qop + ":" + ha2
	return hexMD5(kd)
}

func (m *digestMD5) ValidateSuccess(data []byte) error {
	switch m.state {
	case digestValidated:
		return nil
	case digestResponseSent:
		// The final rspauth may arrive on the success element instead of a
		// trailing challenge.
		if len(data) == 0 {
			return ErrServerAuthenticity
		}
		params := parseDigestParams(string(data))
		if params["rspauth"] != m.expectedRspAuth {
			return ErrServerAuthenticity
		}
		m.state = digestValidated
		return nil
	}
	return ErrServerAuthenticity
}

func (m *digestMD5) Completed() bool {
	return m.state == digestValidated
}

func hexMD5(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func newCnonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

// parseDigestParams splits a DIGEST-MD5 challenge into its key=value parts,
// unquoting quoted values.
func parseDigestParams(s string) map[string]string {
	params := make(map[string]string)
	for _, part := range splitDigestParams(s) {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
			v = v[1 : len(v)-1]
		}
		params[strings.TrimSpace(k)] = v
	}
	return params
}

// splitDigestParams splits on commas outside quoted strings.
func splitDigestParams(s string) []string {
	var parts []string
	var start int
	inQuotes := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}
