package types

import (
	"strconv"
	"strings"
	"time"
)

type ObjectID int64
type DatacenterID int

// ParseObjectID parses the numeric id used in stream URLs
func ParseObjectID(s string) (ObjectID, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, strconv.ErrRange
	}
	return ObjectID(id), nil
}

func (id ObjectID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

func (dc DatacenterID) String() string {
	return strconv.Itoa(int(dc))
}

// ObjectDescriptor locates an object's bytes on its home datacenter.
// It is never patched in place; a stale FileReference means the whole
// descriptor is re-derived from a fresh lookup.
type ObjectDescriptor struct {
	ObjectID      ObjectID
	DatacenterID  DatacenterID
	MediaID       int64
	AccessHash    int64
	FileReference []byte
	Size          int64
}

// ObjectMetadata is what the HTTP surface needs to describe an object
type ObjectMetadata struct {
	Name     string
	MimeType string
	Media    Media
	Size     int64
}

// Kind is a shorthand for Media.Kind that tolerates a nil Media
func (m ObjectMetadata) Kind() MediaKind {
	if m.Media == nil {
		return KindOther
	}
	return m.Media.Kind()
}

// Streamable reports whether a browser can play the object inline
func (m ObjectMetadata) Streamable() bool {
	switch m.Media.(type) {
	case Video, Audio, Voice:
		return true
	case Document, Other:
		return strings.HasPrefix(m.MimeType, "video/") || strings.HasPrefix(m.MimeType, "audio/")
	case Image:
		return false
	default:
		return false
	}
}

// IsVideo reports whether the player should use a video element
func (m ObjectMetadata) IsVideo() bool {
	if _, ok := m.Media.(Video); ok {
		return true
	}
	return strings.HasPrefix(m.MimeType, "video/")
}

// RemoteObject is the result of a remote lookup, before the location
// token has been decoded.
type RemoteObject struct {
	ObjectID ObjectID
	Date     time.Time
	Media    *RemoteMedia
}

// RemoteMedia carries the raw media payload of a remote object
type RemoteMedia struct {
	Kind          MediaKind
	LocationToken string
	FileReference []byte
	FileName      string
	MimeType      string
	FileSize      int64

	Duration  time.Duration
	Width     int
	Height    int
	Performer string
	Title     string
}
