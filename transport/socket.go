// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package transport

import (
	"bufio"
	"crypto/tls"
	"net"

	"github.com/pkg/errors"
)

const socketBuffSize = 4096

type socketTransport struct {
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
}

// NewSocket wraps an established connection in a Transport. The connection
// may already be a TLS connection, in which case IsSecure reports true.
func NewSocket(conn net.Conn) Transport {
	return &socketTransport{
		conn: conn,
		br:   bufio.NewReaderSize(conn, socketBuffSize),
		bw:   bufio.NewWriterSize(conn, socketBuffSize),
	}
}

func (s *socketTransport) Read(p []byte) (int, error) {
	return s.br.Read(p)
}

func (s *socketTransport) Write(p []byte) (int, error) {
	n, err := s.bw.Write(p)
	if err != nil {
		return n, err
	}
	return n, s.bw.Flush()
}

func (s *socketTransport) Close() error {
	return s.conn.Close()
}

func (s *socketTransport) StartTLS(cfg *tls.Config) error {
	if _, ok := s.conn.(*tls.Conn); ok {
		return nil
	}
	tlsConn := tls.Client(s.conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return errors.Wrap(err, "tls handshake failed")
	}
	s.conn = tlsConn
	s.br.Reset(s.conn)
	s.bw.Reset(s.conn)
	return nil
}

func (s *socketTransport) IsSecure() bool {
	_, ok := s.conn.(*tls.Conn)
	return ok
}

func (s *socketTransport) ChannelBinding() (string, []byte) {
	tlsConn, ok := s.conn.(*tls.Conn)
	if !ok {
		return "", nil
	}
	st := tlsConn.ConnectionState()
	if st.Version >= tls.VersionTLS13 {
		data, err := st.ExportKeyingMaterial(exporterLabel, nil, exporterLength)
		if err != nil {
			return "", nil
		}
		return TLSExporter, data
	}
	if len(st.TLSUnique) > 0 {
		return TLSUnique, st.TLSUnique
	}
	return "", nil
}
