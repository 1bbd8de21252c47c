// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza_test

import (
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loqui.im/xmpp/internal/ns"
	"loqui.im/xmpp/jid"
	"loqui.im/xmpp/stanza"
)

func parseOne(t *testing.T, s string) *stanza.Element {
	t.Helper()
	d := xml.NewDecoder(strings.NewReader(s))
	tok, err := d.Token()
	require.NoError(t, err)
	start, ok := tok.(xml.StartElement)
	require.True(t, ok)
	e, err := stanza.ReadElement(d, start)
	require.NoError(t, err)
	return e
}

func TestReadElement(t *testing.T) {
	e := parseOne(t, `<message xmlns="jabber:client" id="m1" type="chat" to="juliet@example.com"><body>hi</body><active xmlns="http://jabber.org/protocol/chatstates"/></message>`)

	assert.Equal(t, "message", e.Name())
	assert.Equal(t, ns.Client, e.Namespace())
	assert.Equal(t, "m1", e.ID())
	assert.Equal(t, "chat", e.Type())
	assert.Equal(t, "juliet@example.com", e.To().String())
	assert.Equal(t, "hi", e.ChildText("body"))
	assert.NotNil(t, e.ChildNS("active", "http://jabber.org/protocol/chatstates"))
	assert.Nil(t, e.ChildNS("active", "urn:wrong"))
}

func TestRoundTrip(t *testing.T) {
	in := `<iq xmlns="jabber:client" id="b1" type="set"><bind xmlns="urn:ietf:params:xml:ns:xmpp-bind"><resource>balcony</resource></bind></iq>`
	e := parseOne(t, in)
	out := parseOne(t, e.String())

	assert.Equal(t, e.Name(), out.Name())
	assert.Equal(t, e.ID(), out.ID())
	bind := out.ChildNS("bind", ns.Bind)
	require.NotNil(t, bind)
	assert.Equal(t, "balcony", bind.ChildText("resource"))
}

func TestClone(t *testing.T) {
	e := parseOne(t, `<message xmlns="jabber:client" type="chat"><body>hi</body></message>`)
	c := e.Clone()
	c.SetAttr("type", "groupchat")
	c.Child("body").SetText("bye")

	assert.Equal(t, "chat", e.Type())
	assert.Equal(t, "hi", e.ChildText("body"))
	assert.Equal(t, "groupchat", c.Type())
}

func TestBuilders(t *testing.T) {
	to := jid.MustParse("juliet@example.com")

	iq := stanza.NewIQ(stanza.GetIQ, to)
	assert.Equal(t, "iq", iq.Name())
	assert.Equal(t, stanza.GetIQ, iq.Type())
	assert.NotEmpty(t, iq.ID())
	assert.True(t, stanza.IsStanza(iq))

	msg := stanza.NewMessage("", to)
	assert.Equal(t, "normal", msg.Type())

	pres := stanza.NewPresence("", nil)
	assert.Equal(t, "", pres.Type())
	assert.True(t, stanza.IsStanza(pres))

	assert.False(t, stanza.Is(xml.Name{Local: "a", Space: ns.SM}))
}

func TestErrorReply(t *testing.T) {
	req := parseOne(t, `<iq xmlns="jabber:client" id="v1" type="get" from="romeo@example.net/orchard" to="juliet@example.com"><query xmlns="jabber:iq:version"/></iq>`)
	resp := stanza.ErrorReply(req, "cancel", stanza.ServiceUnavailable, "")

	assert.Equal(t, "error", resp.Type())
	assert.Equal(t, "v1", resp.ID())
	assert.Equal(t, "romeo@example.net/orchard", resp.Attr("to"))
	assert.Equal(t, "juliet@example.com", resp.Attr("from"))
	require.NotNil(t, resp.Child("query"))

	stErr, ok := stanza.ErrorOf(resp)
	require.True(t, ok)
	assert.Equal(t, stanza.ServiceUnavailable, stErr.Condition)
	assert.Equal(t, "cancel", stErr.Type)

	_, ok = stanza.ErrorOf(req)
	assert.False(t, ok)
}

func TestDelay(t *testing.T) {
	msg := stanza.NewMessage("chat", nil).SetText("")
	require.False(t, stanza.Delayed(msg))

	stamp := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	stanza.AddDelay(msg, stamp, "romeo@example.net")
	require.True(t, stanza.Delayed(msg))

	delay := msg.ChildNS("delay", "urn:xmpp:delay")
	require.NotNil(t, delay)
	assert.Equal(t, "2025-03-14T09:26:53Z", delay.Attr("stamp"))
	assert.Equal(t, "romeo@example.net", delay.Attr("from"))
}

func TestXMLLangAttr(t *testing.T) {
	e := parseOne(t, `<message xmlns="jabber:client" xml:lang="en"><body>hi</body></message>`)
	assert.Equal(t, "en", e.Attr("xml:lang"))
}
