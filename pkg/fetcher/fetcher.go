package fetcher

import (
	"context"
	"errors"
	"io"
	"time"

	"mediagate/pkg/metrics"
	"mediagate/pkg/session"
	"mediagate/pkg/storage"
	"mediagate/pkg/types"

	"go.uber.org/zap"
)

// Sessions hands out datacenter sessions
type Sessions interface {
	Acquire(ctx context.Context, dc types.DatacenterID) (session.Conn, error)
	Invalidate(dc types.DatacenterID, conn session.Conn)
}

// Descriptors re-resolves descriptors whose file reference went stale
type Descriptors interface {
	Refresh(ctx context.Context, id types.ObjectID, stale []byte) (types.ObjectDescriptor, error)
}

// Fetcher turns range plans into chunk streams
type Fetcher struct {
	sessions    Sessions
	descriptors Descriptors
	logger      *zap.Logger
	metrics     *metrics.Metrics
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures a Fetcher
type Option func(*Fetcher)

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// NewFetcher creates a new chunk fetcher
func NewFetcher(sessions Sessions, descriptors Descriptors, logger *zap.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	f := &Fetcher{
		sessions:    sessions,
		descriptors: descriptors,
		logger:      logger,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Open returns a stream over plan. Nothing is read until the first Next.
func (f *Fetcher) Open(desc types.ObjectDescriptor, plan storage.RangePlan) *Stream {
	return &Stream{
		f:    f,
		desc: desc,
		plan: plan,
	}
}

// Stream yields the bytes of one range plan in ascending offset order.
// A Stream belongs to a single request and is not safe for concurrent use.
type Stream struct {
	f    *Fetcher
	desc types.ObjectDescriptor
	plan storage.RangePlan
	conn session.Conn

	next int
	sent int64
	err  error
}

// Next reads the next chunk of the plan, trimmed to the requested range.
// It returns io.EOF once the plan is exhausted. Errors are sticky.
func (s *Stream) Next(ctx context.Context) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.next >= len(s.plan.Reads) {
		return nil, io.EOF
	}

	read := s.plan.Reads[s.next]
	chunk, err := s.fetch(ctx, read)
	if err != nil {
		s.err = err
		return nil, err
	}

	window, err := s.plan.Window(s.next, chunk)
	if err != nil {
		s.err = &types.FetchError{ObjectID: s.desc.ObjectID, Offset: read.Offset, Err: err}
		return nil, s.err
	}

	s.next++
	s.sent += int64(len(window))
	return window, nil
}

// Copy writes the remaining range to w. It stops at the first write
// error without issuing further reads.
func (s *Stream) Copy(ctx context.Context, w io.Writer) (int64, error) {
	var written int64
	for {
		chunk, err := s.Next(ctx)
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}

		n, err := w.Write(chunk)
		written += int64(n)
		if err != nil {
			s.err = err
			return written, err
		}
	}
}

// Delivered returns the number of range bytes handed out so far
func (s *Stream) Delivered() int64 {
	return s.sent
}

// Remaining returns the number of chunk reads not yet issued
func (s *Stream) Remaining() int {
	return len(s.plan.Reads) - s.next
}

// fetch reads one chunk, retrying at most once per failure class
func (s *Stream) fetch(ctx context.Context, read storage.ChunkRead) ([]byte, error) {
	var rateLimited, staleRetried, sessionRetried bool

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if s.conn == nil {
			conn, err := s.f.sessions.Acquire(ctx, s.desc.DatacenterID)
			if err != nil {
				return nil, s.fail(read, err)
			}
			s.conn = conn
		}

		start := time.Now()
		chunk, err := s.conn.ReadChunk(ctx, s.desc, read.Offset, read.Limit)
		if err == nil {
			s.f.metrics.ChunkRead("ok", time.Since(start))
			return chunk, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		var rl *types.RateLimitError
		switch {
		case errors.As(err, &rl) && !rateLimited:
			rateLimited = true
			s.f.metrics.ChunkRead("rate_limited", time.Since(start))
			s.f.metrics.ChunkRetry("rate_limited")
			s.f.logger.Warn("Rate limited, waiting before retry",
				zap.Stringer("object_id", s.desc.ObjectID),
				zap.Int64("offset", read.Offset),
				zap.Duration("wait", rl.Wait))
			if err := s.f.sleep(ctx, rl.Wait); err != nil {
				return nil, err
			}

		case errors.Is(err, types.ErrStaleReference) && !staleRetried:
			staleRetried = true
			s.f.metrics.ChunkRead("stale_reference", time.Since(start))
			s.f.metrics.ChunkRetry("stale_reference")
			s.f.logger.Info("File reference expired, refreshing descriptor",
				zap.Stringer("object_id", s.desc.ObjectID),
				zap.Int64("offset", read.Offset))

			desc, rerr := s.f.descriptors.Refresh(ctx, s.desc.ObjectID, s.desc.FileReference)
			if rerr != nil {
				return nil, s.fail(read, rerr)
			}
			if desc.DatacenterID != s.desc.DatacenterID {
				s.conn = nil
			}
			s.desc = desc

		case errors.Is(err, types.ErrSession) && !sessionRetried:
			sessionRetried = true
			s.f.metrics.ChunkRead("session", time.Since(start))
			s.f.metrics.ChunkRetry("session")
			s.f.logger.Info("Session rejected, reacquiring",
				zap.Stringer("object_id", s.desc.ObjectID),
				zap.Stringer("datacenter", s.desc.DatacenterID))
			s.f.sessions.Invalidate(s.desc.DatacenterID, s.conn)
			s.conn = nil

		default:
			s.f.metrics.ChunkRead("error", time.Since(start))
			return nil, s.fail(read, err)
		}
	}
}

func (s *Stream) fail(read storage.ChunkRead, err error) error {
	s.f.logger.Warn("Chunk fetch failed",
		zap.Stringer("object_id", s.desc.ObjectID),
		zap.Int64("offset", read.Offset),
		zap.Int64("delivered", s.sent),
		zap.Error(err))
	return &types.FetchError{ObjectID: s.desc.ObjectID, Offset: read.Offset, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
