package protocol

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestLocationRoundTrip(t *testing.T) {
	loc := Location{DatacenterID: 4, MediaID: -8123456789, AccessHash: 0x7fffffffffff, Kind: "video"}

	decoded, err := DecodeLocation(EncodeLocation(loc))
	require.NoError(t, err)
	assert.Equal(t, loc, decoded)
}

func TestDecodeLocationSkipsUnknownFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, LocationVersion)
	b = protowire.AppendTag(b, 9, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("thumbnail"))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, 2)
	b = protowire.AppendTag(b, 3, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 11)
	b = protowire.AppendTag(b, 4, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 22)

	loc, err := DecodeLocation(base64.RawURLEncoding.EncodeToString(b))
	require.NoError(t, err)
	assert.Equal(t, int32(2), loc.DatacenterID)
	assert.Equal(t, int64(11), loc.MediaID)
	assert.Equal(t, int64(22), loc.AccessHash)
}

func TestDecodeLocationRejectsMalformed(t *testing.T) {
	valid := EncodeLocation(Location{DatacenterID: 1, MediaID: 1, AccessHash: 1})
	raw, err := base64.RawURLEncoding.DecodeString(valid)
	require.NoError(t, err)

	var wrongVersion []byte
	wrongVersion = protowire.AppendTag(wrongVersion, 1, protowire.VarintType)
	wrongVersion = protowire.AppendVarint(wrongVersion, 2)

	var missingHash []byte
	missingHash = protowire.AppendTag(missingHash, 1, protowire.VarintType)
	missingHash = protowire.AppendVarint(missingHash, LocationVersion)
	missingHash = protowire.AppendTag(missingHash, 2, protowire.VarintType)
	missingHash = protowire.AppendVarint(missingHash, 2)
	missingHash = protowire.AppendTag(missingHash, 3, protowire.Fixed64Type)
	missingHash = protowire.AppendFixed64(missingHash, 1)

	tests := map[string]string{
		"empty":         "",
		"not base64":    "!!!",
		"truncated":     base64.RawURLEncoding.EncodeToString(raw[:len(raw)-3]),
		"wrong version": base64.RawURLEncoding.EncodeToString(wrongVersion),
		"missing field": base64.RawURLEncoding.EncodeToString(missingHash),
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeLocation(token)
			assert.ErrorIs(t, err, errMalformedLocation)
		})
	}
}
