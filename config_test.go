// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
jid: romeo@example.net
password: s3cr3t
resource: home
mechanisms: [SCRAM-SHA-256, SCRAM-SHA-1]
request_timeout: 10s
resumption_timeout: 5m
ack_queue_limit: 10
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "romeo@example.net", cfg.JID)
	require.Equal(t, "home", cfg.Resource)
	require.Equal(t, []string{"SCRAM-SHA-256", "SCRAM-SHA-1"}, cfg.Mechanisms)
	require.Equal(t, 10*time.Second, cfg.RequestTimeout)
	require.Equal(t, 5*time.Minute, cfg.ResumptionTimeout)
	require.Equal(t, 10, cfg.AckQueueLimit)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.Equal(t, defaultRequestTimeout, cfg.RequestTimeout)
	require.Equal(t, defaultResumptionTimeout, cfg.ResumptionTimeout)
	require.NotNil(t, cfg.Logger)
}
