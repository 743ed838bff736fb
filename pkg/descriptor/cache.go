package descriptor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mediagate/pkg/metrics"
	"mediagate/pkg/protocol"
	"mediagate/pkg/types"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultSize = 4096
	DefaultTTL  = 30 * time.Minute

	defaultMimeType = "application/octet-stream"
)

// Resolver performs the remote lookup of an object id
type Resolver interface {
	ResolveObject(ctx context.Context, id types.ObjectID) (*types.RemoteObject, error)
}

// Entry is one resolved object
type Entry struct {
	Descriptor types.ObjectDescriptor
	Metadata   types.ObjectMetadata
}

// Cache resolves object ids to descriptors. Entries live in a bounded LRU
// with a per-entry TTL; concurrent misses for one id share a single lookup.
type Cache struct {
	resolver Resolver
	entries  *expirable.LRU[types.ObjectID, Entry]
	group    singleflight.Group
	// mu orders inserts against the stale check in Refresh
	mu       sync.Mutex
	shared   SharedStore
	ttl      time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// Option configures a Cache
type Option func(*Cache)

// WithSharedStore adds a second tier shared by gateway replicas
func WithSharedStore(s SharedStore) Option {
	return func(c *Cache) { c.shared = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// NewCache creates a new descriptor cache
func NewCache(resolver Resolver, size int, ttl time.Duration, logger *zap.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c := &Cache{
		resolver: resolver,
		entries:  expirable.NewLRU[types.ObjectID, Entry](size, nil, ttl),
		ttl:      ttl,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the descriptor and metadata for id
func (c *Cache) Resolve(ctx context.Context, id types.ObjectID) (types.ObjectDescriptor, types.ObjectMetadata, error) {
	if e, ok := c.entries.Get(id); ok {
		c.metrics.DescriptorLookup("hit")
		return e.Descriptor, e.Metadata, nil
	}

	e, err := c.load(ctx, id)
	if err != nil {
		return types.ObjectDescriptor{}, types.ObjectMetadata{}, err
	}
	return e.Descriptor, e.Metadata, nil
}

// Refresh re-resolves id after a read reported stale as an expired file
// reference. The cached entry is dropped only while it still carries stale,
// so concurrent streams tripping over the same reference share one lookup.
func (c *Cache) Refresh(ctx context.Context, id types.ObjectID, stale []byte) (types.ObjectDescriptor, error) {
	if e, ok := c.dropStale(id, stale); ok {
		return e.Descriptor, nil
	}

	c.dropShared(ctx, id)
	c.metrics.DescriptorRefreshed()

	c.logger.Debug("Refreshing stale descriptor", zap.Stringer("object_id", id))

	// An absent entry means another refresh is in flight or just landed;
	// load joins the flight or finds its result.
	e, err := c.load(ctx, id)
	if err != nil {
		return types.ObjectDescriptor{}, err
	}
	return e.Descriptor, nil
}

// dropStale removes id while it still carries stale. It returns the cached
// entry when that entry already holds a newer reference.
func (c *Cache) dropStale(id types.ObjectID, stale []byte) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Peek(id)
	if !ok {
		return Entry{}, false
	}
	if !bytes.Equal(e.Descriptor.FileReference, stale) {
		return e, true
	}
	c.entries.Remove(id)
	return Entry{}, false
}

// Invalidate drops id from every tier
func (c *Cache) Invalidate(ctx context.Context, id types.ObjectID) {
	c.entries.Remove(id)
	c.dropShared(ctx, id)
}

// Purge drops every locally cached entry
func (c *Cache) Purge() {
	c.entries.Purge()
}

// Len returns the number of locally cached entries
func (c *Cache) Len() int {
	return c.entries.Len()
}

func (c *Cache) load(ctx context.Context, id types.ObjectID) (Entry, error) {
	ch := c.group.DoChan(id.String(), func() (interface{}, error) {
		return c.fetch(context.WithoutCancel(ctx), id)
	})

	select {
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Entry{}, res.Err
		}
		if res.Shared {
			c.metrics.DescriptorLookup("shared")
		}
		return res.Val.(Entry), nil
	}
}

func (c *Cache) fetch(ctx context.Context, id types.ObjectID) (Entry, error) {
	// A lookup for id may have completed between the caller's miss and this flight
	if e, ok := c.entries.Get(id); ok {
		return e, nil
	}

	obj, fromShared := c.readShared(ctx, id)
	if obj == nil {
		var err error
		obj, err = c.resolver.ResolveObject(ctx, id)
		if err != nil {
			c.metrics.DescriptorLookup("error")
			if errors.Is(err, types.ErrNotFound) {
				return Entry{}, err
			}
			return Entry{}, fmt.Errorf("resolve object %s: %w", id, err)
		}
	}

	e, err := Build(id, obj)
	if err != nil {
		c.metrics.DescriptorLookup("error")
		if errors.Is(err, types.ErrDecode) {
			c.logger.Error("Undecodable location token",
				zap.Stringer("object_id", id),
				zap.Bool("from_shared", fromShared),
				zap.Error(err))
			if fromShared {
				c.dropShared(ctx, id)
			}
		}
		return Entry{}, err
	}

	c.metrics.DescriptorLookup("miss")
	c.mu.Lock()
	c.entries.Add(id, e)
	c.mu.Unlock()
	if !fromShared {
		c.writeShared(ctx, id, obj)
	}

	c.logger.Debug("Resolved object",
		zap.Stringer("object_id", id),
		zap.Stringer("datacenter", e.Descriptor.DatacenterID),
		zap.Int64("size", e.Descriptor.Size),
		zap.String("kind", string(e.Metadata.Kind())))

	return e, nil
}

func (c *Cache) readShared(ctx context.Context, id types.ObjectID) (*types.RemoteObject, bool) {
	if c.shared == nil {
		return nil, false
	}
	obj, err := c.shared.Get(ctx, id)
	if err != nil {
		c.logger.Warn("Shared descriptor read failed", zap.Stringer("object_id", id), zap.Error(err))
		return nil, false
	}
	return obj, obj != nil
}

func (c *Cache) writeShared(ctx context.Context, id types.ObjectID, obj *types.RemoteObject) {
	if c.shared == nil {
		return
	}
	if err := c.shared.Set(ctx, id, obj, c.ttl); err != nil {
		c.logger.Warn("Shared descriptor write failed", zap.Stringer("object_id", id), zap.Error(err))
	}
}

func (c *Cache) dropShared(ctx context.Context, id types.ObjectID) {
	if c.shared == nil {
		return
	}
	if err := c.shared.Delete(ctx, id); err != nil {
		c.logger.Warn("Shared descriptor delete failed", zap.Stringer("object_id", id), zap.Error(err))
	}
}

// Build derives the descriptor and metadata of a remote object
func Build(id types.ObjectID, obj *types.RemoteObject) (Entry, error) {
	if obj == nil || obj.Media == nil {
		return Entry{}, fmt.Errorf("%w: object %s has no media", types.ErrNotFound, id)
	}
	media := obj.Media

	loc, err := protocol.DecodeLocation(media.LocationToken)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: object %s: %v", types.ErrDecode, id, err)
	}

	name := media.FileName
	if name == "" {
		name = fmt.Sprintf("file_%d", id)
	}
	mimeType := media.MimeType
	if mimeType == "" {
		mimeType = defaultMimeType
	}

	return Entry{
		Descriptor: types.ObjectDescriptor{
			ObjectID:      id,
			DatacenterID:  types.DatacenterID(loc.DatacenterID),
			MediaID:       loc.MediaID,
			AccessHash:    loc.AccessHash,
			FileReference: media.FileReference,
			Size:          media.FileSize,
		},
		Metadata: types.ObjectMetadata{
			Name:     name,
			MimeType: mimeType,
			Media:    types.MediaFromRemote(media),
			Size:     media.FileSize,
		},
	}, nil
}
