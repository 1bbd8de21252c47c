// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sasl

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// minIterationCount is the lowest PBKDF2 iteration count accepted from a
// server; anything lower is treated as a downgrade attempt.
const minIterationCount = 4096

const (
	scramStart = iota
	scramInitialSent
	scramFinalSent
	scramValidated
)

// scram implements the SCRAM-SHA-* family (RFC 5802) including the -PLUS
// channel binding variants.
type scram struct {
	name    string
	newHash func() hash.Hash
	creds   Credentials
	cb      *ChannelBinding

	state           int
	clientNonce     string
	firstBare       string
	serverSignature []byte
}

func newScram(name string, creds Credentials, cb *ChannelBinding) *scram {
	m := &scram{
		name:        name,
		creds:       creds,
		cb:          cb,
		clientNonce: newNonce(),
	}
	switch strings.TrimSuffix(name, "-PLUS") {
	case "SCRAM-SHA-1":
		m.newHash = sha1.New
	case "SCRAM-SHA-256":
		m.newHash = sha256.New
	case "SCRAM-SHA-512":
		m.newHash = sha512.New
	}
	return m
}

// newNonce generates a fresh printable client nonce. A new nonce is
// generated for every authentication attempt.
func newNonce() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

func (m *scram) Name() string { return m.name }

func (m *scram) gs2Header() string {
	if m.cb != nil && isPlus(m.name) {
		return "p=" + m.cb.Type + ",,"
	}
	return "n,,"
}

// channelBindingAttr computes the c= attribute of the client final message:
// the base64 of the gs2 header, with the raw binding data appended for -PLUS
// variants.
func (m *scram) channelBindingAttr() string {
	gs2 := []byte(m.gs2Header())
	if m.cb != nil && isPlus(m.name) {
		return base64.StdEncoding.EncodeToString(append(gs2, m.cb.Data...))
	}
	return base64.StdEncoding.EncodeToString(gs2)
}

func (m *scram) InitialResponse() ([]byte, error) {
	m.firstBare = "n=" + escapeSaslname(m.creds.Username) + ",r=" + m.clientNonce
	m.state = scramInitialSent
	return []byte(m.gs2Header() + m.firstBare), nil
}

func (m *scram) ProcessChallenge(challenge []byte) ([]byte, error) {
	switch m.state {
	case scramInitialSent:
		return m.processFirst(string(challenge))
	case scramFinalSent:
		// Some servers deliver the verifier in a final challenge instead of
		// carrying it on the success element.
		if err := m.ValidateSuccess(challenge); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return nil, ErrMalformedChallenge
}

func (m *scram) processFirst(serverFirst string) ([]byte, error) {
	fields, err := parseScram(serverFirst)
	if err != nil {
		return nil, err
	}

	serverNonce := fields["r"]
	if !strings.HasPrefix(serverNonce, m.clientNonce) || serverNonce == m.clientNonce {
		return nil, fmt.Errorf("%w: server nonce does not extend client nonce", ErrMalformedChallenge)
	}
	salt, err := base64.StdEncoding.DecodeString(fields["s"])
	if err != nil {
		return nil, fmt.Errorf("%w: bad salt encoding", ErrMalformedChallenge)
	}
	iters, err := strconv.Atoi(fields["i"])
	if err != nil {
		return nil, fmt.Errorf("%w: bad iteration count", ErrMalformedChallenge)
	}
	if iters < minIterationCount {
		return nil, fmt.Errorf("%w: iteration count %d too low", ErrMalformedChallenge, iters)
	}

	saltedPassword := pbkdf2.Key([]byte(m.creds.Password), salt, iters, m.newHash().Size(), m.newHash)

	clientKey := m.hmac(saltedPassword, "Client Key")
	storedKey := m.hash(clientKey)

	withoutProof := "c=" + m.channelBindingAttr() + ",r=" + serverNonce
	authMessage := m.firstBare + "," + serverFirst + "," + withoutProof

	clientSignature := m.hmac(storedKey, authMessage)
	clientProof := make([]byte, len(clientKey))
	for i := range clientKey {
		clientProof[i] = clientKey[i] ^ clientSignature[i]
	}

	serverKey := m.hmac(saltedPassword, "Server Key")
	m.serverSignature = m.hmac(serverKey, authMessage)

	m.state = scramFinalSent
	final := withoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)
	return []byte(final), nil
}

func (m *scram) ValidateSuccess(data []byte) error {
	if m.state == scramValidated {
		return nil
	}
	if m.state != scramFinalSent || len(m.serverSignature) == 0 {
		return ErrServerAuthenticity
	}
	fields, err := parseScram(string(data))
	if err != nil {
		return ErrServerAuthenticity
	}
	sig, err := base64.StdEncoding.DecodeString(fields["v"])
	if err != nil {
		return ErrServerAuthenticity
	}
	if !hmac.Equal(sig, m.serverSignature) {
		return ErrServerAuthenticity
	}
	m.state = scramValidated
	return nil
}

func (m *scram) Completed() bool {
	return m.state == scramValidated
}

func (m *scram) hmac(key []byte, message string) []byte {
	h := hmac.New(m.newHash, key)
	h.Write([]byte(message))
	return h.Sum(nil)
}

func (m *scram) hash(data []byte) []byte {
	h := m.newHash()
	h.Write(data)
	return h.Sum(nil)
}

// parseScram splits a SCRAM message of the form "k1=v1,k2=v2,…".
func parseScram(s string) (map[string]string, error) {
	fields := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok || len(k) != 1 {
			return nil, ErrMalformedChallenge
		}
		fields[k] = v
	}
	return fields, nil
}

// escapeSaslname escapes the characters "," and "=" in usernames as required
// by RFC 5802 §5.1.
func escapeSaslname(s string) string {
	s = strings.ReplaceAll(s, "=", "=3D")
	return strings.ReplaceAll(s, ",", "=2C")
}
