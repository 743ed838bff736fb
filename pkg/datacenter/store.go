package datacenter

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"mediagate/pkg/types"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
)

const (
	messagePrefix = "messages/"
	mediaPrefix   = "media/"
)

var ErrNoSuchObject = errors.New("no such object")

// MediaRecord is the stored description of one media file
type MediaRecord struct {
	MediaID      int64           `json:"media_id"`
	DatacenterID int             `json:"dc_id"`
	Kind         types.MediaKind `json:"kind"`
	FileName     string          `json:"file_name,omitempty"`
	MimeType     string          `json:"mime_type,omitempty"`
	Size         int64           `json:"size"`
	Duration     time.Duration   `json:"duration,omitempty"`
	Width        int             `json:"width,omitempty"`
	Height       int             `json:"height,omitempty"`
	Performer    string          `json:"performer,omitempty"`
	Title        string          `json:"title,omitempty"`
}

// MessageRecord is a stored message, optionally carrying media
type MessageRecord struct {
	MessageID int64     `json:"message_id"`
	Date      time.Time `json:"date"`
	MediaID   int64     `json:"media_id,omitempty"`
}

// ObjectSpec describes an object to upload. A zero MessageID picks the
// next free id.
type ObjectSpec struct {
	MessageID    int64
	DatacenterID types.DatacenterID
	Kind         types.MediaKind
	FileName     string
	MimeType     string
	Duration     time.Duration
	Width        int
	Height       int
	Performer    string
	Title        string
}

// Store keeps messages and media in a blob bucket shared by every
// emulated datacenter of a cluster
type Store struct {
	bucket *blob.Bucket
}

// OpenStore opens the bucket at url (mem://, file:///path)
func OpenStore(ctx context.Context, url string) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", url, err)
	}
	return &Store{bucket: bucket}, nil
}

// NewStore wraps an open bucket
func NewStore(bucket *blob.Bucket) *Store {
	return &Store{bucket: bucket}
}

func (s *Store) Close() error {
	return s.bucket.Close()
}

func messageKey(id int64) string {
	return messagePrefix + strconv.FormatInt(id, 10) + ".json"
}

func mediaMetaKey(id int64) string {
	return mediaPrefix + strconv.FormatInt(id, 10) + ".json"
}

func mediaDataKey(id int64) string {
	return mediaPrefix + strconv.FormatInt(id, 10) + ".bin"
}

// Message loads a message record
func (s *Store) Message(ctx context.Context, id int64) (*MessageRecord, error) {
	var msg MessageRecord
	if err := s.readJSON(ctx, messageKey(id), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Media loads a media record
func (s *Store) Media(ctx context.Context, id int64) (*MediaRecord, error) {
	var rec MediaRecord
	if err := s.readJSON(ctx, mediaMetaKey(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ReadMedia reads up to limit bytes of a media file at offset
func (s *Store) ReadMedia(ctx context.Context, rec *MediaRecord, offset, limit int64) ([]byte, error) {
	if offset >= rec.Size {
		return []byte{}, nil
	}
	if offset+limit > rec.Size {
		limit = rec.Size - offset
	}

	r, err := s.bucket.NewRangeReader(ctx, mediaDataKey(rec.MediaID), offset, limit, nil)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	defer r.Close()

	return io.ReadAll(r)
}

// PutMessage stores a message without media
func (s *Store) PutMessage(ctx context.Context, id int64) error {
	return s.writeJSON(ctx, messageKey(id), MessageRecord{MessageID: id, Date: time.Now().UTC()})
}

// PutObject uploads data as a new media file and attaches it to a message.
// It returns the message id.
func (s *Store) PutObject(ctx context.Context, obj ObjectSpec, data io.Reader) (int64, error) {
	if obj.DatacenterID <= 0 {
		return 0, fmt.Errorf("invalid datacenter %d", obj.DatacenterID)
	}

	messageID := obj.MessageID
	if messageID == 0 {
		next, err := s.NextMessageID(ctx)
		if err != nil {
			return 0, err
		}
		messageID = next
	}

	mediaID := newMediaID()

	w, err := s.bucket.NewWriter(ctx, mediaDataKey(mediaID), &blob.WriterOptions{ContentType: obj.MimeType})
	if err != nil {
		return 0, fmt.Errorf("failed to create media writer: %w", err)
	}
	size, err := io.Copy(w, data)
	if err != nil {
		w.Close()
		return 0, fmt.Errorf("failed to write media: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("failed to commit media: %w", err)
	}

	kind := obj.Kind
	if kind == "" {
		kind = types.KindDocument
	}

	rec := MediaRecord{
		MediaID:      mediaID,
		DatacenterID: int(obj.DatacenterID),
		Kind:         kind,
		FileName:     obj.FileName,
		MimeType:     obj.MimeType,
		Size:         size,
		Duration:     obj.Duration,
		Width:        obj.Width,
		Height:       obj.Height,
		Performer:    obj.Performer,
		Title:        obj.Title,
	}
	if err := s.writeJSON(ctx, mediaMetaKey(mediaID), rec); err != nil {
		return 0, err
	}

	msg := MessageRecord{MessageID: messageID, Date: time.Now().UTC(), MediaID: mediaID}
	if err := s.writeJSON(ctx, messageKey(messageID), msg); err != nil {
		return 0, err
	}

	return messageID, nil
}

// NextMessageID returns one more than the highest stored message id
func (s *Store) NextMessageID(ctx context.Context) (int64, error) {
	var highest int64
	iter := s.bucket.List(&blob.ListOptions{Prefix: messagePrefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to list messages: %w", err)
		}

		name := strings.TrimSuffix(strings.TrimPrefix(obj.Key, messagePrefix), ".json")
		if id, err := strconv.ParseInt(name, 10, 64); err == nil && id > highest {
			highest = id
		}
	}
	return highest + 1, nil
}

func (s *Store) readJSON(ctx context.Context, key string, v interface{}) error {
	b, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		return wrapNotFound(err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("corrupt record %s: %w", key, err)
	}
	return nil
}

func (s *Store) writeJSON(ctx context.Context, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.bucket.WriteAll(ctx, key, b, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func wrapNotFound(err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("%w: %v", ErrNoSuchObject, err)
	}
	return err
}

// newMediaID returns a random positive id
func newMediaID() int64 {
	id := uuid.New()
	return int64(binary.BigEndian.Uint64(id[:8])>>1) | 1
}
