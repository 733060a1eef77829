package codec

import (
	"encoding/xml"
	"fmt"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/go-wot/wotd/internal/crypto"
)

// MaxIdentityFileSize bounds the raw XML document size enforced on
// parse, per §3's nickname/context/property size limits and §6's size
// enforcement requirement.
const MaxIdentityFileSize = 512 * 1024

const (
	MaxNicknameLen   = 50
	MaxContexts      = 32
	MaxContextLen    = 32
	MaxPropertyName  = 256
	MaxPropertyValue = 10000
	MaxCommentLen    = 256
)

// TrustListEntry is one outgoing trust assertion inside a signed
// IdentityFile.
type TrustListEntry struct {
	TrusteeID string `xml:"TrusteeID"`
	Value     int8   `xml:"Value"`
	Comment   string `xml:"Comment,omitempty"`
}

// identityFileXML is the on-wire XML shape. Unknown attributes are
// tolerated by encoding/xml's default "ignore what we don't map" rule.
type identityFileXML struct {
	XMLName xml.Name `xml:"IdentityFile"`

	ID                 string            `xml:"ID"`
	Nickname           string            `xml:"Nickname"`
	PublishesTrustList bool              `xml:"PublishesTrustList"`
	Contexts           []string          `xml:"Contexts>Context"`
	Properties         []propertyXML     `xml:"Properties>Property"`
	TrustList          []TrustListEntry  `xml:"TrustList>Trust"`
	Signature          string            `xml:"Signature"`
}

type propertyXML struct {
	Name  string `xml:"Name,attr"`
	Value string `xml:",chardata"`
}

// IdentityFile is the parsed, verified form of the signed document.
type IdentityFile struct {
	ID                 string
	Nickname           string
	PublishesTrustList bool
	Contexts           []string
	Properties         map[string]string
	TrustList          []TrustListEntry
	Signature          string
}

// signedPayload is what the signature in the XML document actually
// covers: everything except the signature element itself.
type signedPayload struct {
	ID                 string
	Nickname           string
	PublishesTrustList bool
	Contexts           []string
	Properties         map[string]string
	TrustList          []TrustListEntry
}

// IdentityFileCodec parses and serialises the signed XML document of §6.
// The default implementation uses encoding/xml: nothing in this domain's
// third-party stack offers an XML marshaller, and the wire schema itself
// is explicitly out of scope, so the standard library is the correct
// choice here (see DESIGN.md).
type IdentityFileCodec struct {
	verifier crypto.Verifier
}

func NewIdentityFileCodec(verifier crypto.Verifier) *IdentityFileCodec {
	return &IdentityFileCodec{verifier: verifier}
}

// Parse decodes and validates an IdentityFile, verifying its signature
// against publicKeyB64 (the identity's own public key, recovered from its
// id). Size and field-length limits from §3 are enforced.
func (c *IdentityFileCodec) Parse(raw []byte, publicKeyB64 string) (*IdentityFile, error) {
	if len(raw) > MaxIdentityFileSize {
		return nil, fmt.Errorf("identity file exceeds %d bytes", MaxIdentityFileSize)
	}

	var wire identityFileXML
	if err := xml.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("parse identity file xml: %w", err)
	}

	if err := validateFields(wire); err != nil {
		return nil, err
	}

	props := make(map[string]string, len(wire.Properties))
	for _, p := range wire.Properties {
		props[p.Name] = p.Value
	}

	payload := signedPayload{
		ID:                 wire.ID,
		Nickname:           wire.Nickname,
		PublishesTrustList: wire.PublishesTrustList,
		Contexts:           wire.Contexts,
		Properties:         props,
		TrustList:          wire.TrustList,
	}
	canonical, err := CanonicalizeJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize identity file payload: %w", err)
	}

	if c.verifier != nil {
		ok, err := c.verifier.VerifyBase64(publicKeyB64, wire.Signature, canonical)
		if err != nil {
			return nil, fmt.Errorf("verify identity file signature: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("identity file signature does not verify")
		}
	}

	return &IdentityFile{
		ID:                 wire.ID,
		Nickname:           wire.Nickname,
		PublishesTrustList: wire.PublishesTrustList,
		Contexts:           wire.Contexts,
		Properties:         props,
		TrustList:          wire.TrustList,
		Signature:          wire.Signature,
	}, nil
}

func validateFields(wire identityFileXML) error {
	if len([]rune(wire.Nickname)) > MaxNicknameLen {
		return fmt.Errorf("nickname exceeds %d characters", MaxNicknameLen)
	}
	for _, r := range wire.Nickname {
		if r == '@' {
			return fmt.Errorf("nickname must not contain '@'")
		}
	}
	if len(wire.Contexts) > MaxContexts {
		return fmt.Errorf("too many contexts: %d > %d", len(wire.Contexts), MaxContexts)
	}
	for _, ctx := range wire.Contexts {
		if len(ctx) > MaxContextLen {
			return fmt.Errorf("context %q exceeds %d characters", ctx, MaxContextLen)
		}
	}
	for _, p := range wire.Properties {
		if len(p.Name) > MaxPropertyName {
			return fmt.Errorf("property name %q exceeds %d characters", p.Name, MaxPropertyName)
		}
		if len(p.Value) > MaxPropertyValue {
			return fmt.Errorf("property %q value exceeds %d characters", p.Name, MaxPropertyValue)
		}
	}
	for _, t := range wire.TrustList {
		if t.Value < -100 || t.Value > 100 {
			return fmt.Errorf("trust value %d out of range [-100,100]", t.Value)
		}
		if len(t.Comment) > MaxCommentLen {
			return fmt.Errorf("trust comment exceeds %d characters", MaxCommentLen)
		}
	}
	return nil
}

// Encode serialises and signs an IdentityFile for publication.
func (c *IdentityFileCodec) Encode(file *IdentityFile, signer crypto.Signer) ([]byte, error) {
	props := make([]propertyXML, 0, len(file.Properties))
	for name, value := range file.Properties {
		props = append(props, propertyXML{Name: name, Value: value})
	}

	payload := signedPayload{
		ID:                 file.ID,
		Nickname:           file.Nickname,
		PublishesTrustList: file.PublishesTrustList,
		Contexts:           file.Contexts,
		Properties:         file.Properties,
		TrustList:          file.TrustList,
	}
	canonical, err := CanonicalizeJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize identity file payload: %w", err)
	}
	sig, err := signer.SignBase64(canonical)
	if err != nil {
		return nil, fmt.Errorf("sign identity file: %w", err)
	}

	wire := identityFileXML{
		ID:                 file.ID,
		Nickname:           file.Nickname,
		PublishesTrustList: file.PublishesTrustList,
		Contexts:           file.Contexts,
		Properties:         props,
		TrustList:          file.TrustList,
		Signature:          sig,
	}
	out, err := xml.MarshalIndent(wire, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal identity file xml: %w", err)
	}
	return out, nil
}

// ParseFetchKeyEdition recovers the advisory edition number carried in a
// request key, modeled as a CID whose multihash digest's trailing 8
// bytes encode the edition as a big-endian uint64. This lets fetch/insert
// keys round-trip through the content-addressing machinery the rest of
// the domain stack already depends on.
func ParseFetchKeyEdition(requestKey string) (edition int64, err error) {
	c, err := gocid.Decode(requestKey)
	if err != nil {
		return 0, fmt.Errorf("decode request key as cid: %w", err)
	}
	decoded, err := multihash.Decode(c.Hash())
	if err != nil {
		return 0, fmt.Errorf("decode request key multihash: %w", err)
	}
	if len(decoded.Digest) < 8 {
		return 0, fmt.Errorf("request key digest too short to carry an edition")
	}
	tail := decoded.Digest[len(decoded.Digest)-8:]
	var v int64
	for _, b := range tail {
		v = v<<8 | int64(b)
	}
	return v, nil
}
