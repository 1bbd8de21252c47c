// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sasl

// plain implements the PLAIN mechanism (RFC 4616).
type plain struct {
	creds Credentials
	done  bool
}

func (*plain) Name() string { return "PLAIN" }

func (m *plain) InitialResponse() ([]byte, error) {
	resp := make([]byte, 0, len(m.creds.AuthzID)+len(m.creds.Username)+len(m.creds.Password)+2)
	resp = append(resp, m.creds.AuthzID...)
	resp = append(resp, 0)
	resp = append(resp, m.creds.Username...)
	resp = append(resp, 0)
	resp = append(resp, m.creds.Password...)
	m.done = true
	return resp, nil
}

func (m *plain) ProcessChallenge([]byte) ([]byte, error) {
	return nil, ErrMalformedChallenge
}

func (m *plain) ValidateSuccess([]byte) error { return nil }

func (m *plain) Completed() bool { return m.done }

// anonymous implements the ANONYMOUS mechanism (RFC 4505). No trace data is
// transmitted.
type anonymous struct {
	done bool
}

func (*anonymous) Name() string { return "ANONYMOUS" }

func (m *anonymous) InitialResponse() ([]byte, error) {
	m.done = true
	return nil, nil
}

func (m *anonymous) ProcessChallenge([]byte) ([]byte, error) {
	return nil, ErrMalformedChallenge
}

func (m *anonymous) ValidateSuccess([]byte) error { return nil }

func (m *anonymous) Completed() bool { return m.done }

// external implements the EXTERNAL mechanism (RFC 4422 appendix A), which
// relies on authentication data established outside of SASL, typically a TLS
// client certificate.
type external struct {
	creds Credentials
	done  bool
}

func (*external) Name() string { return "EXTERNAL" }

func (m *external) InitialResponse() ([]byte, error) {
	m.done = true
	switch {
	case m.creds.AuthzID != "":
		return []byte(m.creds.AuthzID), nil
	case m.creds.Username != "":
		return []byte(m.creds.Username + "@" + m.creds.Domain), nil
	}
	return nil, nil
}

func (m *external) ProcessChallenge([]byte) ([]byte, error) {
	return nil, ErrMalformedChallenge
}

func (m *external) ValidateSuccess([]byte) error { return nil }

func (m *external) Completed() bool { return m.done }
