// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
)

func TestSocketReadWrite(t *testing.T) {
	client, server := net.Pipe()
	tr := NewSocket(client)

	go func() {
		buf := make([]byte, 16)
		n, _ := server.Read(buf)
		server.Write(buf[:n])
		server.Close()
	}()

	n, err := tr.Write([]byte("<ping/>"))
	require.NoError(t, err)
	require.Equal(t, 7, n)

	buf := make([]byte, 16)
	n, err = tr.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "<ping/>", string(buf[:n]))

	require.False(t, tr.IsSecure())
	typ, data := tr.ChannelBinding()
	require.Empty(t, typ)
	require.Nil(t, data)

	require.NoError(t, tr.Close())
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	require.Equal(t, ReasonGraceful, Classify(nil))
	require.Equal(t, ReasonGraceful, Classify(io.EOF))
	require.Equal(t, ReasonTimeout, Classify(timeoutErr{}))
	require.Equal(t, ReasonReset, Classify(io.ErrUnexpectedEOF))
	require.Equal(t, "graceful", ReasonGraceful.String())
	require.Equal(t, "tls-failure", ReasonTLSFailure.String())
}

func TestResolveNoLookup(t *testing.T) {
	d := &Dialer{NoLookup: true}
	cands, err := d.resolve(context.Background(), "example.net")
	require.NoError(t, err)
	require.Len(t, cands, 1)
	require.Equal(t, "example.net", cands[0].target)
	require.Equal(t, uint16(defaultPort), cands[0].port)
	require.False(t, cands[0].tls)
}

func TestRedialerRedirect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	r := NewRedialer(&Dialer{}, "nowhere.invalid", time.Minute)
	r.Redirect(ln.Addr().String())

	tr, err := r.Dial(context.Background())
	require.NoError(t, err)
	require.NoError(t, tr.Close())
}

func TestRedialerOpensBreaker(t *testing.T) {
	d := &Dialer{NoLookup: true}
	d.Timeout = 50 * time.Millisecond
	r := NewRedialer(d, "127.0.0.1", time.Minute)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := r.Dial(ctx)
		require.Error(t, err)
	}
	_, err := r.Dial(ctx)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
}
