// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xmpp provides a client-side XMPP stream session engine.
//
// A Session is established over a transport.Transport by negotiating the
// stream features the server advertises: TLS, authentication, resource
// binding, and stream management. Once established, stanzas are sent with
// Send or SendAwait and received through handlers registered with Handle.
//
// Be advised: This API is still unstable and is subject to change.
package xmpp // import "loqui.im/xmpp"
