// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// defaultPort is the client-to-server port used when no SRV records exist.
const defaultPort = 5222

// ErrServiceNotProvided is returned when the domain publishes a single SRV
// record with target "." to announce that it does not offer the service.
var ErrServiceNotProvided = errors.New("transport: service explicitly not provided")

// candidate is one endpoint to try, with or without implicit TLS.
type candidate struct {
	target string
	port   uint16
	tls    bool
}

// A Dialer discovers and connects to the stream endpoint for a domain.
// The zero value looks up "_xmpps-client._tcp" (direct TLS) and
// "_xmpp-client._tcp" SRV records in that order and falls back to connecting
// to the domain directly on the default port.
type Dialer struct {
	net.Dialer

	// Resolver allows changing options related to resolving DNS.
	// A nil Resolver uses net.DefaultResolver.
	Resolver *net.Resolver

	// NoLookup stops the dialer from looking up SRV records for the
	// domain and connects to it directly instead.
	NoLookup bool

	// NoTLS skips the "_xmpps-client._tcp" lookup so that only plaintext
	// connections (to be upgraded in-stream) are attempted.
	NoTLS bool

	// TLSConfig is used for implicit TLS connections. The nil value is
	// interpreted as a tls.Config with ServerName set to the domain.
	TLSConfig *tls.Config
}

// Dial connects to the stream endpoint for domain and returns it wrapped
// in a socket Transport.
func (d *Dialer) Dial(ctx context.Context, domain string) (Transport, error) {
	cands, err := d.resolve(ctx, domain)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, c := range cands {
		hostport := net.JoinHostPort(c.target, strconv.FormatUint(uint64(c.port), 10))
		var conn net.Conn
		if c.tls {
			cfg := d.TLSConfig
			if cfg == nil {
				cfg = &tls.Config{ServerName: domain}
			}
			conn, lastErr = tls.DialWithDialer(&d.Dialer, "tcp", hostport, cfg)
		} else {
			conn, lastErr = d.Dialer.DialContext(ctx, "tcp", hostport)
		}
		if lastErr != nil {
			continue
		}
		return NewSocket(conn), nil
	}
	if lastErr == nil {
		lastErr = errors.Errorf("transport: no address to dial for %s", domain)
	}
	return nil, lastErr
}

// dialDirect connects to an explicit host[:port] without SRV resolution,
// used for redirect targets such as a stream management location hint or a
// see-other-host stream error.
func (d *Dialer) dialDirect(ctx context.Context, hostport string) (Transport, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = hostport, strconv.Itoa(defaultPort)
	}
	conn, err := d.Dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, err
	}
	return NewSocket(conn), nil
}

// resolve returns the candidate endpoints for domain, implicit-TLS records
// first, each group in SRV priority order.
func (d *Dialer) resolve(ctx context.Context, domain string) ([]candidate, error) {
	if d.NoLookup {
		return []candidate{{target: domain, port: defaultPort}}, nil
	}

	var cands []candidate
	if !d.NoTLS {
		addrs, err := d.lookup(ctx, "xmpps-client", domain)
		if err != nil {
			return nil, err
		}
		for _, a := range addrs {
			if a.Target == "." {
				continue
			}
			cands = append(cands, candidate{target: a.Target, port: a.Port, tls: true})
		}
	}

	addrs, err := d.lookup(ctx, "xmpp-client", domain)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 && len(addrs) == 1 && addrs[0].Target == "." {
		return nil, ErrServiceNotProvided
	}
	for _, a := range addrs {
		if a.Target == "." {
			continue
		}
		cands = append(cands, candidate{target: a.Target, port: a.Port})
	}

	// No SRV records at all: try the bare domain on the default port.
	if len(cands) == 0 {
		cands = append(cands, candidate{target: domain, port: defaultPort})
	}
	return cands, nil
}

// lookup performs one SRV query, treating NXDOMAIN as an empty answer.
func (d *Dialer) lookup(ctx context.Context, service, domain string) ([]*net.SRV, error) {
	resolver := d.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	_, addrs, err := resolver.LookupSRV(ctx, service, "tcp", domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "transport: srv lookup %s failed", service)
	}
	return addrs, nil
}
