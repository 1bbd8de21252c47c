// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package jid implements XMPP addresses (historically, Jabber IDs) as defined
// by RFC 7622.
//
// All parts of a JID are normalized when it is constructed: the domainpart
// with IDNA, the localpart with the PRECIS UsernameCaseMapped profile, and
// the resourcepart with the PRECIS OpaqueString profile. Comparing two JIDs
// built by this package is therefore a simple octet comparison.
package jid // import "loqui.im/xmpp/jid"

import (
	"encoding/xml"
	"errors"
	"net"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"
)

// Errors returned when constructing malformed JIDs.
var (
	ErrInvalidUTF8      = errors.New("jid: part contains invalid UTF-8")
	ErrEmptyLocal       = errors.New("jid: localpart must be larger than 0 bytes")
	ErrEmptyResource    = errors.New("jid: resourcepart must be larger than 0 bytes")
	ErrLongPart         = errors.New("jid: part must be smaller than 1024 bytes")
	ErrNoDomain         = errors.New("jid: domainpart must be between 1 and 1023 bytes")
	ErrForbiddenLocal   = errors.New("jid: localpart contains forbidden characters")
	ErrInvalidIPAddress = errors.New("jid: domainpart is not a valid IPv6 address")
)

// JID represents an XMPP address comprising a localpart, domainpart, and
// resourcepart, each stored in canonical form.
type JID struct {
	local    string
	domain   string
	resource string
}

// Parse constructs a new JID from its string representation.
func Parse(s string) (*JID, error) {
	local, domain, resource, err := SplitString(s)
	if err != nil {
		return nil, err
	}
	return New(local, domain, resource)
}

// MustParse is like Parse but panics if the JID cannot be parsed.
// It simplifies safe initialization of JIDs from known-good constant strings.
func MustParse(s string) *JID {
	j, err := Parse(s)
	if err != nil {
		if strconv.CanBackquote(s) {
			s = "`" + s + "`"
		} else {
			s = strconv.Quote(s)
		}
		panic(`jid: Parse(` + s + `): ` + err.Error())
	}
	return j
}

// New constructs a new JID from the given localpart, domainpart, and
// resourcepart.
func New(localpart, domainpart, resourcepart string) (*JID, error) {
	if !utf8.ValidString(localpart) || !utf8.ValidString(resourcepart) {
		return nil, ErrInvalidUTF8
	}

	// RFC 7622 §3.2.1: A-labels must be converted to U-labels before a string
	// may appear in a domainpart slot.
	domainpart, err := idna.ToUnicode(domainpart)
	if err != nil {
		return nil, err
	}
	if !utf8.ValidString(domainpart) {
		return nil, ErrInvalidUTF8
	}

	if localpart != "" {
		localpart, err = precis.UsernameCaseMapped.String(localpart)
		if err != nil {
			return nil, err
		}
	}
	if resourcepart != "" {
		resourcepart, err = precis.OpaqueString.String(resourcepart)
		if err != nil {
			return nil, err
		}
	}

	if err := commonChecks(localpart, domainpart, resourcepart); err != nil {
		return nil, err
	}

	return &JID{
		local:    localpart,
		domain:   domainpart,
		resource: resourcepart,
	}, nil
}

// WithResource returns a copy of the JID with a new resourcepart.
// This elides validation of the localpart and domainpart.
func (j *JID) WithResource(resourcepart string) (*JID, error) {
	if !utf8.ValidString(resourcepart) {
		return nil, ErrInvalidUTF8
	}
	var err error
	if resourcepart != "" {
		resourcepart, err = precis.OpaqueString.String(resourcepart)
		if err != nil {
			return nil, err
		}
	}
	return &JID{local: j.local, domain: j.domain, resource: resourcepart}, nil
}

// Bare returns a copy of the JID without a resourcepart. This is sometimes
// called a "bare" JID.
func (j *JID) Bare() *JID {
	if j == nil {
		return nil
	}
	return &JID{local: j.local, domain: j.domain}
}

// Domain returns a copy of the JID without a resourcepart or localpart.
func (j *JID) Domain() *JID {
	if j == nil {
		return nil
	}
	return &JID{domain: j.domain}
}

// Localpart gets the localpart of a JID (eg "username").
func (j *JID) Localpart() string {
	if j == nil {
		return ""
	}
	return j.local
}

// Domainpart gets the domainpart of a JID (eg. "example.net").
func (j *JID) Domainpart() string {
	if j == nil {
		return ""
	}
	return j.domain
}

// Resourcepart gets the resourcepart of a JID.
func (j *JID) Resourcepart() string {
	if j == nil {
		return ""
	}
	return j.resource
}

// Copy makes a copy of the given JID. j.Equal(j.Copy()) always returns true.
func (j *JID) Copy() *JID {
	if j == nil {
		return nil
	}
	c := *j
	return &c
}

// Network satisfies the net.Addr interface by returning the name of the
// network ("xmpp").
func (*JID) Network() string {
	return "xmpp"
}

// String converts a JID to its string representation.
func (j *JID) String() string {
	if j == nil {
		return ""
	}
	s := j.domain
	if j.local != "" {
		s = j.local + "@" + s
	}
	if j.resource != "" {
		s = s + "/" + j.resource
	}
	return s
}

// Equal performs an octet-for-octet comparison with the given JID.
func (j *JID) Equal(j2 *JID) bool {
	if j == nil || j2 == nil {
		return j == j2
	}
	return j.local == j2.local && j.domain == j2.domain && j.resource == j2.resource
}

// BareEqual compares the local and domain parts only.
func (j *JID) BareEqual(j2 *JID) bool {
	if j == nil || j2 == nil {
		return j == j2
	}
	return j.local == j2.local && j.domain == j2.domain
}

// MarshalXML satisfies the xml.Marshaler interface and marshals the JID as
// XML chardata.
func (j *JID) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.EncodeToken(xml.CharData(j.String())); err != nil {
		return err
	}
	if err := e.EncodeToken(start.End()); err != nil {
		return err
	}
	return e.Flush()
}

// UnmarshalXML satisfies the xml.Unmarshaler interface and unmarshals the JID
// from the elements chardata.
func (j *JID) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	data := struct {
		CharData string `xml:",chardata"`
	}{}
	if err := d.DecodeElement(&data, &start); err != nil {
		return err
	}
	j2, err := Parse(data.CharData)
	if err != nil {
		return err
	}
	*j = *j2
	return nil
}

// MarshalXMLAttr satisfies the xml.MarshalerAttr interface and marshals the
// JID as an XML attribute.
func (j *JID) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	if j == nil {
		return xml.Attr{}, nil
	}
	return xml.Attr{Name: name, Value: j.String()}, nil
}

// UnmarshalXMLAttr satisfies the xml.UnmarshalerAttr interface and unmarshals
// an XML attribute into a valid JID (or returns an error).
func (j *JID) UnmarshalXMLAttr(attr xml.Attr) error {
	if attr.Value == "" {
		return nil
	}
	j2, err := Parse(attr.Value)
	if err != nil {
		return err
	}
	*j = *j2
	return nil
}

// SplitString splits out the localpart, domainpart, and resourcepart from a
// string representation of a JID. The parts are not guaranteed to be valid,
// and each part must be 1023 bytes or less.
func SplitString(s string) (localpart, domainpart, resourcepart string, err error) {
	// RFC 7622 §3.1: the separator characters '@' and '/' must be matched
	// before applying any transformation algorithm, which might decompose
	// certain code points to the separator characters.
	sep := strings.Index(s, "/")
	if sep != -1 {
		if sep == len(s)-1 {
			return "", "", "", ErrEmptyResource
		}
		resourcepart = s[sep+1:]
		s = s[:sep]
	}

	sep = strings.Index(s, "@")
	switch sep {
	case -1:
		domainpart = s
	case 0:
		return "", "", "", ErrEmptyLocal
	default:
		domainpart = s[sep+1:]
		localpart = s[:sep]
	}

	// Trailing label separators (dots) are ignored for routing and comparison
	// and must be stripped before any other canonicalization step.
	domainpart = strings.TrimSuffix(domainpart, ".")

	return localpart, domainpart, resourcepart, nil
}

func checkIP6String(domainpart string) error {
	// If the domainpart is a bracketed IP address it must be valid IPv6.
	if l := len(domainpart); l > 2 && strings.HasPrefix(domainpart, "[") &&
		strings.HasSuffix(domainpart, "]") {
		if ip := net.ParseIP(domainpart[1 : l-1]); ip == nil || ip.To4() != nil {
			return ErrInvalidIPAddress
		}
	}
	return nil
}

func commonChecks(localpart, domainpart, resourcepart string) error {
	if len(localpart) > 1023 || len(resourcepart) > 1023 {
		return ErrLongPart
	}

	// RFC 7622 §3.3.1 lists characters that remain forbidden in localparts
	// even though the UsernameCaseMapped profile does not reject them.
	if strings.ContainsAny(localpart, `"&'/:<>@`) {
		return ErrForbiddenLocal
	}

	if l := len(domainpart); l < 1 || l > 1023 {
		return ErrNoDomain
	}

	return checkIP6String(domainpart)
}
