package datacenter

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"strconv"
	"time"
)

const referenceLen = 16

// referenceSigner derives access hashes and file references. Every
// datacenter of a cluster shares the key, so any of them can check what
// another issued.
type referenceSigner struct {
	key []byte
	ttl time.Duration
}

func (rs referenceSigner) mac(parts ...string) []byte {
	h := hmac.New(sha256.New, rs.key)
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return h.Sum(nil)
}

// accessHash binds a media id to the cluster
func (rs referenceSigner) accessHash(mediaID int64) int64 {
	sum := rs.mac("access", strconv.FormatInt(mediaID, 10))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

func (rs referenceSigner) epoch(now time.Time) uint64 {
	return uint64(now.UnixNano() / int64(rs.ttl))
}

// reference issues a file reference for the current epoch
func (rs referenceSigner) reference(mediaID int64, now time.Time) []byte {
	epoch := rs.epoch(now)
	ref := make([]byte, 8, referenceLen)
	binary.BigEndian.PutUint64(ref, epoch)
	sum := rs.mac("ref", strconv.FormatInt(mediaID, 10), strconv.FormatUint(epoch, 10))
	return append(ref, sum[:8]...)
}

// validReference accepts references from the current and previous epoch,
// so a reference lives between one and two TTLs
func (rs referenceSigner) validReference(mediaID int64, ref []byte, now time.Time) bool {
	if len(ref) != referenceLen {
		return false
	}
	epoch := binary.BigEndian.Uint64(ref[:8])
	current := rs.epoch(now)
	if epoch > current || current-epoch > 1 {
		return false
	}

	sum := rs.mac("ref", strconv.FormatInt(mediaID, 10), strconv.FormatUint(epoch, 10))
	return hmac.Equal(ref[8:], sum[:8])
}
