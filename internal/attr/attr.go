// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package attr contains helpers for generating stanza level attributes.
package attr // import "loqui.im/xmpp/internal/attr"

import (
	"strings"

	"github.com/google/uuid"
)

// IDLen is the length of standard random identifiers.
const IDLen = 32

// RandomID generates a unique identifier suitable for use as a stanza ID or
// a stream ID. The identifier is unpredictable so that it can double as a
// request correlation token.
func RandomID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
