// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
	"fmt"
)

// CodecError wraps a malformed-XML or malformed-stanza condition encountered
// while decoding the stream. It is fatal to the stream that produced it.
type CodecError struct {
	Err error
}

// Error satisfies the error interface.
func (e *CodecError) Error() string {
	return fmt.Sprintf("stanza: malformed stream: %v", e.Err)
}

// Unwrap returns the underlying decoder error.
func (e *CodecError) Unwrap() error {
	return e.Err
}

// ReadElement reads the full element beginning at start from d, building its
// tree of children. The decoder is left positioned directly after the
// element's end tag.
func ReadElement(d *xml.Decoder, start xml.StartElement) (*Element, error) {
	e := &Element{
		local: start.Name.Local,
		space: start.Name.Space,
	}
	for _, a := range start.Attr {
		if a.Name.Local == "xmlns" || a.Name.Space == "xmlns" {
			// Namespaces are resolved by the decoder; declarations are not
			// kept as attributes.
			continue
		}
		e.attrs = append(e.attrs, normalizeAttr(a))
	}

	for {
		tok, err := d.Token()
		if err != nil {
			return nil, &CodecError{Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := ReadElement(d, t)
			if err != nil {
				return nil, err
			}
			e.children = append(e.children, child)
		case xml.CharData:
			e.text += string(t)
		case xml.EndElement:
			return e, nil
		}
	}
}

// normalizeAttr flattens namespaced attribute names (eg. xml:lang) into
// prefixed local names so that they round-trip through encoding/xml, whose
// encoder has no prefix support for attributes.
func normalizeAttr(a xml.Attr) xml.Attr {
	switch a.Name.Space {
	case "":
		return a
	case "xml", "http://www.w3.org/XML/1998/namespace":
		return xml.Attr{Name: xml.Name{Local: "xml:" + a.Name.Local}, Value: a.Value}
	default:
		return xml.Attr{Name: xml.Name{Local: a.Name.Local}, Value: a.Value}
	}
}
