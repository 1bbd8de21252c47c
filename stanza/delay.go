// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"time"

	"loqui.im/xmpp/internal/ns"
)

// delayFormat is the profile of ISO 8601 used by XEP-0203.
const delayFormat = "2006-01-02T15:04:05Z"

// AddDelay annotates the element with a delayed-delivery tag (XEP-0203)
// carrying the given stamp. The from address is optional.
func AddDelay(e *Element, stamp time.Time, from string) {
	delay := New("delay", ns.Delay).
		SetAttr("stamp", stamp.UTC().Format(delayFormat))
	if from != "" {
		delay.SetAttr("from", from)
	}
	e.Append(delay)
}

// Delayed reports whether the element already carries a delayed-delivery tag.
func Delayed(e *Element) bool {
	return e.ChildNS("delay", ns.Delay) != nil
}
