// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"loqui.im/xmpp/internal/ns"
)

// DefaultVersion is the latest version of the stream protocol implemented by
// this package.
var DefaultVersion = Version{Major: 1, Minor: 0}

const xmlHeader = `<?xml version='1.0' encoding='UTF-8'?>`

// Version is a version of the stream protocol as found in stream headers.
type Version struct {
	Major uint8
	Minor uint8
}

// ParseVersion parses a string of the form "Major.Minor".
func ParseVersion(s string) (Version, error) {
	v := Version{}
	major, minor, ok := strings.Cut(s, ".")
	if !ok {
		return v, BadFormat
	}
	m, err := strconv.ParseUint(major, 10, 8)
	if err != nil {
		return v, BadFormat
	}
	v.Major = uint8(m)
	m, err = strconv.ParseUint(minor, 10, 8)
	if err != nil {
		return v, BadFormat
	}
	v.Minor = uint8(m)
	return v, nil
}

// Must reports whether the other version is a feature-compatible match for v.
func (v Version) Must(other Version) bool {
	return v.Major == other.Major
}

// String satisfies fmt.Stringer, eg. "1.0".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Info contains metadata extracted from a stream header.
type Info struct {
	ID      string
	To      string
	From    string
	Lang    string
	Version Version
}

// Send writes an XML declaration followed by a stream header to w.
//
// The header is written with raw prints rather than through an xml.Encoder
// both because the encoder has no support for the stream:stream prefix form
// and because well-formedness is trivially guaranteed here.
func Send(w io.Writer, to, from, lang string) (Info, error) {
	info := Info{To: to, From: from, Lang: lang, Version: DefaultVersion}

	b := bufio.NewWriter(w)
	_, err := fmt.Fprintf(b,
		xmlHeader+`<stream:stream to='%s' from='%s' version='%s' `,
		to, from, DefaultVersion,
	)
	if err != nil {
		return info, err
	}
	if lang != "" {
		if _, err = b.WriteString("xml:lang='"); err != nil {
			return info, err
		}
		if err = xml.EscapeText(b, []byte(lang)); err != nil {
			return info, err
		}
		if _, err = b.WriteString("' "); err != nil {
			return info, err
		}
	}
	_, err = fmt.Fprintf(b, `xmlns='%s' xmlns:stream='%s'>`, ns.Client, ns.Stream)
	if err != nil {
		return info, err
	}
	return info, b.Flush()
}

// Expect reads tokens from d until a stream header is found and extracts its
// metadata. Anything other than whitespace, an XML declaration, or the
// header itself is a stream protocol error.
func Expect(ctx context.Context, d *xml.Decoder) (Info, error) {
	info := Info{}
	for {
		select {
		case <-ctx.Done():
			return info, ctx.Err()
		default:
		}
		tok, err := d.Token()
		if err != nil {
			return info, err
		}
		switch t := tok.(type) {
		case xml.ProcInst:
			continue
		case xml.CharData:
			if len(strings.TrimSpace(string(t))) != 0 {
				return info, RestrictedXML
			}
		case xml.StartElement:
			if t.Name.Local != "stream" || t.Name.Space != ns.Stream {
				return info, BadFormat
			}
			return fromStartElement(t)
		default:
			return info, RestrictedXML
		}
	}
}

func fromStartElement(start xml.StartElement) (Info, error) {
	info := Info{}
	for _, attr := range start.Attr {
		switch attr.Name {
		case xml.Name{Local: "id"}:
			info.ID = attr.Value
		case xml.Name{Local: "to"}:
			info.To = attr.Value
		case xml.Name{Local: "from"}:
			info.From = attr.Value
		case xml.Name{Local: "version"}:
			v, err := ParseVersion(attr.Value)
			if err != nil {
				return info, err
			}
			if !DefaultVersion.Must(v) {
				return info, UnsupportedVersion
			}
			info.Version = v
		case xml.Name{Space: "", Local: "xmlns"}:
			if attr.Value != ns.Client && attr.Value != ns.Server {
				return info, InvalidNamespace
			}
		case xml.Name{Space: "xmlns", Local: "stream"}:
			if attr.Value != ns.Stream {
				return info, InvalidNamespace
			}
		case xml.Name{Space: "xml", Local: "lang"}:
			info.Lang = attr.Value
		}
	}
	return info, nil
}
