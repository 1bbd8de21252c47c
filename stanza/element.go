// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"bytes"
	"encoding/xml"
	"io"

	"mellium.im/xmlstream"
)

// Element is a structured representation of a single XML element from the
// stream: its name, namespace, attributes, character data, and children.
// Stanzas, stream features, and stream management elements are all handled
// as elements by the session engine.
type Element struct {
	local    string
	space    string
	attrs    []xml.Attr
	children []*Element
	text     string
}

// New creates an element with the given local name and namespace.
func New(local, space string) *Element {
	return &Element{local: local, space: space}
}

// Name returns the element's local name.
func (e *Element) Name() string {
	return e.local
}

// Namespace returns the element's namespace.
func (e *Element) Namespace() string {
	return e.space
}

// XMLName returns the element's fully qualified name.
func (e *Element) XMLName() xml.Name {
	return xml.Name{Local: e.local, Space: e.space}
}

// Attr returns the value of the attribute with the given local name, or the
// empty string if the attribute is not present.
func (e *Element) Attr(local string) string {
	for _, a := range e.attrs {
		if a.Name.Local == local && a.Name.Space == "" {
			return a.Value
		}
	}
	return ""
}

// SetAttr sets (or replaces) an attribute and returns the element so that
// calls can be chained while building stanzas.
func (e *Element) SetAttr(local, value string) *Element {
	for i, a := range e.attrs {
		if a.Name.Local == local && a.Name.Space == "" {
			e.attrs[i].Value = value
			return e
		}
	}
	e.attrs = append(e.attrs, xml.Attr{Name: xml.Name{Local: local}, Value: value})
	return e
}

// RemoveAttr deletes the attribute with the given local name if present.
func (e *Element) RemoveAttr(local string) {
	for i, a := range e.attrs {
		if a.Name.Local == local && a.Name.Space == "" {
			e.attrs = append(e.attrs[:i], e.attrs[i+1:]...)
			return
		}
	}
}

// Text returns the element's accumulated character data.
func (e *Element) Text() string {
	return e.text
}

// SetText replaces the element's character data and returns the element.
func (e *Element) SetText(s string) *Element {
	e.text = s
	return e
}

// Child returns the first child with the given local name regardless of its
// namespace, or nil.
func (e *Element) Child(local string) *Element {
	for _, c := range e.children {
		if c.local == local {
			return c
		}
	}
	return nil
}

// ChildNS returns the first child matching both local name and namespace,
// or nil.
func (e *Element) ChildNS(local, space string) *Element {
	for _, c := range e.children {
		if c.local == local && c.space == space {
			return c
		}
	}
	return nil
}

// ChildText returns the character data of the first child with the given
// local name, or the empty string.
func (e *Element) ChildText(local string) string {
	if c := e.Child(local); c != nil {
		return c.Text()
	}
	return ""
}

// Children returns the element's children in document order.
// The returned slice must not be modified.
func (e *Element) Children() []*Element {
	return e.children
}

// Append adds children to the element and returns the element.
func (e *Element) Append(children ...*Element) *Element {
	e.children = append(e.children, children...)
	return e
}

// Clone returns a deep copy of the element.
func (e *Element) Clone() *Element {
	c := &Element{
		local: e.local,
		space: e.space,
		text:  e.text,
	}
	if len(e.attrs) > 0 {
		c.attrs = make([]xml.Attr, len(e.attrs))
		copy(c.attrs, e.attrs)
	}
	for _, child := range e.children {
		c.children = append(c.children, child.Clone())
	}
	return c
}

// tokens appends the element's token stream representation to dst.
func (e *Element) tokens(dst []xml.Token) []xml.Token {
	start := xml.StartElement{
		Name: xml.Name{Local: e.local, Space: e.space},
	}
	if len(e.attrs) > 0 {
		start.Attr = make([]xml.Attr, len(e.attrs))
		copy(start.Attr, e.attrs)
	}
	dst = append(dst, start)
	if e.text != "" {
		dst = append(dst, xml.CharData(e.text))
	}
	for _, c := range e.children {
		dst = c.tokens(dst)
	}
	return append(dst, start.End())
}

type tokenReader struct {
	toks []xml.Token
}

func (r *tokenReader) Token() (xml.Token, error) {
	if len(r.toks) == 0 {
		return nil, io.EOF
	}
	t := r.toks[0]
	r.toks = r.toks[1:]
	return t, nil
}

// TokenReader returns a stream of tokens representing the element.
func (e *Element) TokenReader() xml.TokenReader {
	return &tokenReader{toks: e.tokens(nil)}
}

// WriteXML writes the element to w.
func (e *Element) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, e.TokenReader())
}

// MarshalXML satisfies the xml.Marshaler interface.
func (e *Element) MarshalXML(enc *xml.Encoder, _ xml.StartElement) error {
	for _, tok := range e.tokens(nil) {
		if err := enc.EncodeToken(tok); err != nil {
			return err
		}
	}
	return enc.Flush()
}

// UnmarshalXML satisfies the xml.Unmarshaler interface.
func (e *Element) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	parsed, err := ReadElement(d, start)
	if err != nil {
		return err
	}
	*e = *parsed
	return nil
}

// String returns the serialized form of the element.
func (e *Element) String() string {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	/* #nosec */
	_ = e.MarshalXML(enc, xml.StartElement{})
	return buf.String()
}
