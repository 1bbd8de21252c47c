// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sasl

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"golang.org/x/crypto/pbkdf2"
)

func TestSelectPrefersStrongest(t *testing.T) {
	creds := Credentials{Username: "romeo", Password: "s3cr3t", Domain: "montague.lit"}

	tt := []struct {
		offered []string
		tried   map[string]bool
		cb      *ChannelBinding
		want    string
	}{
		{offered: []string{"PLAIN", "SCRAM-SHA-1"}, want: "SCRAM-SHA-1"},
		{offered: []string{"SCRAM-SHA-1", "SCRAM-SHA-256", "PLAIN"}, want: "SCRAM-SHA-256"},
		{offered: []string{"SCRAM-SHA-512", "SCRAM-SHA-256"}, want: "SCRAM-SHA-512"},
		{offered: []string{"DIGEST-MD5", "PLAIN"}, want: "DIGEST-MD5"},
		{
			offered: []string{"SCRAM-SHA-1", "SCRAM-SHA-1-PLUS"},
			cb:      &ChannelBinding{Type: "tls-exporter", Data: []byte("binding")},
			want:    "SCRAM-SHA-1-PLUS",
		},
		// Without binding data the -PLUS variant is not eligible.
		{offered: []string{"SCRAM-SHA-1", "SCRAM-SHA-1-PLUS"}, want: "SCRAM-SHA-1"},
		// Already-tried mechanisms are skipped.
		{
			offered: []string{"SCRAM-SHA-256", "SCRAM-SHA-1", "PLAIN"},
			tried:   map[string]bool{"SCRAM-SHA-256": true},
			want:    "SCRAM-SHA-1",
		},
	}
	for _, tc := range tt {
		tried := tc.tried
		if tried == nil {
			tried = map[string]bool{}
		}
		m, err := Select(tc.offered, tried, creds, tc.cb)
		require.NoError(t, err, "offered %v", tc.offered)
		require.Equal(t, tc.want, m.Name(), "offered %v", tc.offered)
	}
}

func TestSelectNoMechanism(t *testing.T) {
	creds := Credentials{Username: "romeo", Password: "s3cr3t"}
	_, err := Select([]string{"GSSAPI", "X-CUSTOM"}, map[string]bool{}, creds, nil)
	require.ErrorIs(t, err, ErrNoMechanism)

	// All offered mechanisms already tried.
	_, err = Select([]string{"PLAIN"}, map[string]bool{"PLAIN": true}, creds, nil)
	require.ErrorIs(t, err, ErrNoMechanism)
}

func TestSelectAnonymous(t *testing.T) {
	m, err := Select([]string{"ANONYMOUS", "PLAIN"}, map[string]bool{}, Credentials{}, nil)
	require.NoError(t, err)
	require.Equal(t, "ANONYMOUS", m.Name())

	// With a password on hand ANONYMOUS is never picked.
	_, err = Select([]string{"ANONYMOUS"}, map[string]bool{}, Credentials{Username: "a", Password: "b"}, nil)
	require.ErrorIs(t, err, ErrNoMechanism)
}

func TestPlainInitialResponse(t *testing.T) {
	m, err := New("PLAIN", Credentials{Username: "juliet", Password: "pass"}, nil)
	require.NoError(t, err)
	ir, err := m.InitialResponse()
	require.NoError(t, err)
	require.Equal(t, "\x00juliet\x00pass", string(ir))

	_, err = m.ProcessChallenge([]byte("unexpected"))
	require.ErrorIs(t, err, ErrMalformedChallenge)
}

func TestExternalInitialResponse(t *testing.T) {
	m, err := New("EXTERNAL", Credentials{Username: "juliet", Domain: "capulet.lit"}, nil)
	require.NoError(t, err)
	ir, err := m.InitialResponse()
	require.NoError(t, err)
	require.Equal(t, "juliet@capulet.lit", string(ir))
}

// scramServer answers a SCRAM-SHA-1 client for tests, verifying the proof
// the way a real server would.
type scramServer struct {
	t        *testing.T
	salt     []byte
	iters    int
	password string

	serverFirst string
	authMessage string
}

func (s *scramServer) first(clientFirst string) string {
	require.True(s.t, strings.HasPrefix(clientFirst, "n,,"))
	bare := strings.TrimPrefix(clientFirst, "n,,")
	fields, err := parseScram(bare)
	require.NoError(s.t, err)
	s.serverFirst = "r=" + fields["r"] + "srvnonce" +
		",s=" + base64.StdEncoding.EncodeToString(s.salt) +
		",i=4096"
	s.authMessage = bare + "," + s.serverFirst + ","
	return s.serverFirst
}

func (s *scramServer) final(clientFinal string) string {
	i := strings.LastIndex(clientFinal, ",p=")
	require.True(s.t, i > 0)
	s.authMessage += clientFinal[:i]

	proof, err := base64.StdEncoding.DecodeString(clientFinal[i+3:])
	require.NoError(s.t, err)

	salted := pbkdf2.Key([]byte(s.password), s.salt, s.iters, sha1.Size, sha1.New)
	clientKey := hmacSHA1(salted, "Client Key")
	storedKey := sha1.Sum(clientKey)
	sig := hmacSHA1(storedKey[:], s.authMessage)

	recovered := make([]byte, len(proof))
	for j := range proof {
		recovered[j] = proof[j] ^ sig[j]
	}
	sum := sha1.Sum(recovered)
	require.Equal(s.t, storedKey, sum, "client proof did not verify")

	serverKey := hmacSHA1(salted, "Server Key")
	return "v=" + base64.StdEncoding.EncodeToString(hmacSHA1(serverKey, s.authMessage))
}

func hmacSHA1(key []byte, msg string) []byte {
	h := hmac.New(sha1.New, key)
	h.Write([]byte(msg))
	return h.Sum(nil)
}

func TestScramExchange(t *testing.T) {
	srv := &scramServer{t: t, salt: []byte("pepper&salt"), iters: 4096, password: "s3cr3t"}
	m, err := New("SCRAM-SHA-1", Credentials{Username: "romeo", Password: "s3cr3t"}, nil)
	require.NoError(t, err)

	ir, err := m.InitialResponse()
	require.NoError(t, err)

	final, err := m.ProcessChallenge([]byte(srv.first(string(ir))))
	require.NoError(t, err)
	require.False(t, m.Completed())

	success := srv.final(string(final))
	require.NoError(t, m.ValidateSuccess([]byte(success)))
	require.True(t, m.Completed())
}

func TestScramServerSignatureMismatch(t *testing.T) {
	srv := &scramServer{t: t, salt: []byte("salt"), iters: 4096, password: "s3cr3t"}
	m, err := New("SCRAM-SHA-256", Credentials{Username: "romeo", Password: "s3cr3t"}, nil)
	require.NoError(t, err)

	ir, err := m.InitialResponse()
	require.NoError(t, err)
	_, err = m.ProcessChallenge([]byte(srv.first(string(ir))))
	require.NoError(t, err)

	forged := "v=" + base64.StdEncoding.EncodeToString([]byte("not the signature"))
	require.ErrorIs(t, m.ValidateSuccess([]byte(forged)), ErrServerAuthenticity)
	require.False(t, m.Completed())

	// Success with no verifier at all is equally unacceptable.
	require.ErrorIs(t, m.ValidateSuccess(nil), ErrServerAuthenticity)
}

func TestScramRejectsBadNonceAndIterations(t *testing.T) {
	m := newScram("SCRAM-SHA-1", Credentials{Username: "romeo", Password: "x"}, nil)
	_, err := m.InitialResponse()
	require.NoError(t, err)

	salt := base64.StdEncoding.EncodeToString([]byte("salt"))
	_, err = m.ProcessChallenge([]byte("r=somebodyelse,s=" + salt + ",i=4096"))
	require.ErrorIs(t, err, ErrMalformedChallenge)

	m = newScram("SCRAM-SHA-1", Credentials{Username: "romeo", Password: "x"}, nil)
	_, err = m.InitialResponse()
	require.NoError(t, err)
	_, err = m.ProcessChallenge([]byte("r=" + m.clientNonce + "srv,s=" + salt + ",i=1000"))
	require.ErrorIs(t, err, ErrMalformedChallenge)
}

func TestScramUsernameEscaping(t *testing.T) {
	m := newScram("SCRAM-SHA-1", Credentials{Username: "who=what,ever", Password: "x"}, nil)
	ir, err := m.InitialResponse()
	require.NoError(t, err)
	require.Contains(t, string(ir), "n=who=3Dwhat=2Cever,")
}

func TestScramPlusChannelBinding(t *testing.T) {
	cb := &ChannelBinding{Type: "tls-exporter", Data: []byte("exported keying material")}
	m := newScram("SCRAM-SHA-1-PLUS", Credentials{Username: "romeo", Password: "x"}, cb)

	ir, err := m.InitialResponse()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(ir), "p=tls-exporter,,"))

	want := base64.StdEncoding.EncodeToString(append([]byte("p=tls-exporter,,"), cb.Data...))
	require.Equal(t, want, m.channelBindingAttr())
}

// Vector from RFC 2831 §4.
func TestDigestMD5ResponseVector(t *testing.T) {
	m := newDigestMD5(Credentials{Username: "chris", Password: "secret"})
	got := m.computeResponse(
		"elwood.innosoft.com", "OA6MG9tEQGm2hh", "OA6MHXh6VqTrRk",
		"00000001", "auth", "imap/elwood.innosoft.com", true,
	)
	require.Equal(t, "d388dad90d4bbd760a152321f2143af7", got)

	rspauth := m.computeResponse(
		"elwood.innosoft.com", "OA6MG9tEQGm2hh", "OA6MHXh6VqTrRk",
		"00000001", "auth", "imap/elwood.innosoft.com", false,
	)
	require.Equal(t, "ea40f60335c427b5527b84dbabcdfffd", rspauth)
}

func TestDigestMD5Exchange(t *testing.T) {
	m := newDigestMD5(Credentials{Username: "romeo", Password: "s3cr3t", Domain: "montague.lit"})

	ir, err := m.InitialResponse()
	require.NoError(t, err)
	require.Nil(t, ir)

	resp, err := m.ProcessChallenge([]byte(`realm="montague.lit",nonce="abc123",qop="auth",charset=utf-8,algorithm=md5-sess`))
	require.NoError(t, err)

	params := parseDigestParams(string(resp))
	require.Equal(t, "romeo", params["username"])
	require.Equal(t, "montague.lit", params["realm"])
	require.Equal(t, "abc123", params["nonce"])
	require.Equal(t, "xmpp/montague.lit", params["digest-uri"])
	require.Equal(t, "00000001", params["nc"])

	expected := m.computeResponse("montague.lit", "abc123", params["cnonce"], "00000001", "auth", "xmpp/montague.lit", true)
	require.Equal(t, expected, params["response"])

	rspauth := m.computeResponse("montague.lit", "abc123", params["cnonce"], "00000001", "auth", "xmpp/montague.lit", false)
	require.NoError(t, m.ValidateSuccess([]byte("rspauth="+rspauth)))
	require.True(t, m.Completed())
}

func TestDigestMD5BadRspauth(t *testing.T) {
	m := newDigestMD5(Credentials{Username: "romeo", Password: "s3cr3t", Domain: "montague.lit"})
	_, err := m.ProcessChallenge([]byte(`nonce="abc123",qop="auth"`))
	require.NoError(t, err)

	_, err = m.ProcessChallenge([]byte(`rspauth=deadbeef`))
	require.ErrorIs(t, err, ErrServerAuthenticity)
}
