// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"crypto/tls"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Defaults applied by Session for zero-valued Config fields.
const (
	defaultRequestTimeout    = 30 * time.Second
	defaultResumptionTimeout = 2 * time.Minute
)

// unpromptedAckThreshold is the number of unacknowledged inbound stanzas
// after which an ack is sent without waiting for the server to request one.
const unpromptedAckThreshold = 100

// Config carries the connection settings for a Session.
type Config struct {
	// JID is the address to authenticate as, without a resource.
	JID string `yaml:"jid"`

	// Password used by the password-based SASL mechanisms. An empty
	// password with an empty JID localpart selects ANONYMOUS.
	Password string `yaml:"password"`

	// Resource requested during binding. Empty lets the server assign
	// one.
	Resource string `yaml:"resource"`

	// Lang is the default language of human-readable stream content.
	Lang string `yaml:"lang"`

	// Mechanisms restricts the SASL mechanisms that may be attempted.
	// Empty means every supported mechanism is allowed.
	Mechanisms []string `yaml:"mechanisms"`

	// RequestTimeout bounds how long SendAwait waits for a reply.
	// Zero means 30 seconds.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// ResumptionTimeout is how long preserved stream management state is
	// kept after a connection loss before it is discarded. Zero means
	// two minutes.
	ResumptionTimeout time.Duration `yaml:"resumption_timeout"`

	// AckQueueLimit is the number of unacknowledged outbound stanzas
	// tolerated before an ack request is sent. Zero requests an ack
	// after every stanza.
	AckQueueLimit int `yaml:"ack_queue_limit"`

	// NoStreamMgmt disables stream management negotiation even when the
	// server offers it.
	NoStreamMgmt bool `yaml:"no_stream_mgmt"`

	// TLSConfig is used when upgrading the transport with STARTTLS. The
	// nil value is interpreted as a tls.Config with ServerName set to
	// the JID's domain.
	TLSConfig *tls.Config `yaml:"-"`

	// Logger receives session lifecycle and traffic logs. Nil means
	// logging is discarded.
	Logger *zap.Logger `yaml:"-"`
}

// LoadConfig reads a Config from a YAML file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// withDefaults fills in zero values. The original value is not modified.
func (c Config) withDefaults() Config {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.ResumptionTimeout == 0 {
		c.ResumptionTimeout = defaultResumptionTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
