// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"loqui.im/xmpp/internal/ns"
)

// Common defined conditions for stanza errors (RFC 6120 §8.3.3).
const (
	BadRequest            = "bad-request"
	Conflict              = "conflict"
	FeatureNotImplemented = "feature-not-implemented"
	Forbidden             = "forbidden"
	InternalServerError   = "internal-server-error"
	ItemNotFound          = "item-not-found"
	NotAcceptable         = "not-acceptable"
	NotAllowed            = "not-allowed"
	NotAuthorized         = "not-authorized"
	RemoteServerTimeout   = "remote-server-timeout"
	ResourceConstraint    = "resource-constraint"
	ServiceUnavailable    = "service-unavailable"
	UndefinedCondition    = "undefined-condition"
)

// Error represents a stanza level error as carried by an <error/> child.
type Error struct {
	Type      string
	Condition string
	Text      string
}

// Error satisfies the error interface. It returns the text if set, or the
// defined condition otherwise.
func (e *Error) Error() string {
	if e.Text != "" {
		return e.Text
	}
	return e.Condition
}

// ErrorOf extracts the stanza error carried by e, if any. It returns nil,
// false for stanzas that are not of type error or carry no error child.
func ErrorOf(e *Element) (*Error, bool) {
	if e.Attr("type") != "error" {
		return nil, false
	}
	child := e.Child("error")
	if child == nil {
		return nil, false
	}
	stErr := &Error{Type: child.Attr("type")}
	for _, c := range child.Children() {
		if c.Namespace() != ns.Stanza {
			continue
		}
		if c.Name() == "text" {
			stErr.Text = c.Text()
			continue
		}
		stErr.Condition = c.Name()
	}
	if stErr.Condition == "" {
		stErr.Condition = UndefinedCondition
	}
	return stErr, true
}

// NewError builds an <error/> element with the given type (auth, cancel,
// continue, modify, or wait), defined condition, and optional text.
func NewError(typ, condition, text string) *Element {
	e := New("error", ns.Client).SetAttr("type", typ)
	e.Append(New(condition, ns.Stanza))
	if text != "" {
		e.Append(New("text", ns.Stanza).SetText(text))
	}
	return e
}

// ErrorReply builds an error response for the given stanza: addressing is
// swapped, the type becomes "error", and the error child is appended after
// the original payload.
func ErrorReply(req *Element, typ, condition, text string) *Element {
	resp := New(req.Name(), req.Namespace()).
		SetAttr("type", "error")
	if id := req.ID(); id != "" {
		resp.SetID(id)
	}
	if from := req.Attr("from"); from != "" {
		resp.SetAttr("to", from)
	}
	if to := req.Attr("to"); to != "" {
		resp.SetAttr("from", to)
	}
	for _, c := range req.Children() {
		resp.Append(c.Clone())
	}
	resp.Append(NewError(typ, condition, text))
	return resp
}
