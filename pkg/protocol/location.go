package protocol

import (
	"encoding/base64"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// LocationVersion is the only location token layout understood here
const LocationVersion = 4

// Location is the decoded form of a media file id. Tokens are base64url
// (unpadded) protobuf wire messages:
//
//	1: version     varint
//	2: dc_id       varint
//	3: media_id    fixed64
//	4: access_hash fixed64
//	5: kind        bytes
type Location struct {
	DatacenterID int32
	MediaID      int64
	AccessHash   int64
	Kind         string
}

var errMalformedLocation = errors.New("malformed location token")

// EncodeLocation renders a Location as a file id string
func EncodeLocation(loc Location) string {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, LocationVersion)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(loc.DatacenterID))
	b = protowire.AppendTag(b, 3, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, uint64(loc.MediaID))
	b = protowire.AppendTag(b, 4, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, uint64(loc.AccessHash))
	if loc.Kind != "" {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, loc.Kind)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeLocation parses a file id string. Unknown fields are skipped so
// newer encoders stay readable.
func DecodeLocation(token string) (Location, error) {
	var loc Location

	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return loc, fmt.Errorf("%w: %v", errMalformedLocation, err)
	}
	if len(b) == 0 {
		return loc, fmt.Errorf("%w: empty", errMalformedLocation)
	}

	var version uint64
	var seenDC, seenMedia, seenHash bool

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return loc, fmt.Errorf("%w: %v", errMalformedLocation, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == 1 && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return loc, fmt.Errorf("%w: version: %v", errMalformedLocation, protowire.ParseError(m))
			}
			version = v
			n = m
		case num == 2 && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return loc, fmt.Errorf("%w: dc_id: %v", errMalformedLocation, protowire.ParseError(m))
			}
			loc.DatacenterID = int32(v)
			seenDC = true
			n = m
		case num == 3 && typ == protowire.Fixed64Type:
			v, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return loc, fmt.Errorf("%w: media_id: %v", errMalformedLocation, protowire.ParseError(m))
			}
			loc.MediaID = int64(v)
			seenMedia = true
			n = m
		case num == 4 && typ == protowire.Fixed64Type:
			v, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return loc, fmt.Errorf("%w: access_hash: %v", errMalformedLocation, protowire.ParseError(m))
			}
			loc.AccessHash = int64(v)
			seenHash = true
			n = m
		case num == 5 && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return loc, fmt.Errorf("%w: kind: %v", errMalformedLocation, protowire.ParseError(m))
			}
			loc.Kind = v
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return loc, fmt.Errorf("%w: field %d: %v", errMalformedLocation, num, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}

	if version != LocationVersion {
		return loc, fmt.Errorf("%w: unsupported version %d", errMalformedLocation, version)
	}
	if !seenDC || !seenMedia || !seenHash {
		return loc, fmt.Errorf("%w: missing required field", errMalformedLocation)
	}
	if loc.DatacenterID <= 0 {
		return loc, fmt.Errorf("%w: invalid dc_id %d", errMalformedLocation, loc.DatacenterID)
	}

	return loc, nil
}
