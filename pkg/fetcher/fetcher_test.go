package fetcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"mediagate/pkg/session"
	"mediagate/pkg/storage"
	"mediagate/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const chunkSize = 4096

type fakeConn struct {
	dc   types.DatacenterID
	data []byte

	mu      sync.Mutex
	reads   []int64
	refs    [][]byte
	scripts map[int64][]error
}

func (c *fakeConn) Datacenter() types.DatacenterID { return c.dc }

func (c *fakeConn) ResolveObject(ctx context.Context, id types.ObjectID) (*types.RemoteObject, error) {
	return nil, types.ErrNotFound
}

func (c *fakeConn) ExportCredential(ctx context.Context, to types.DatacenterID) ([]byte, error) {
	return nil, errors.New("not supported")
}

func (c *fakeConn) ReadChunk(ctx context.Context, desc types.ObjectDescriptor, offset, limit int64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reads = append(c.reads, offset)
	c.refs = append(c.refs, desc.FileReference)
	if queue := c.scripts[offset]; len(queue) > 0 {
		c.scripts[offset] = queue[1:]
		if queue[0] != nil {
			return nil, queue[0]
		}
	}

	end := offset + limit
	if end > int64(len(c.data)) {
		end = int64(len(c.data))
	}
	return c.data[offset:end], nil
}

func (c *fakeConn) Healthy() bool { return true }
func (c *fakeConn) Close() error  { return nil }

func (c *fakeConn) readOffsets() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.reads...)
}

type fakeSessions struct {
	conn        *fakeConn
	acquireErr  error
	acquires    int
	invalidated int
}

func (s *fakeSessions) Acquire(ctx context.Context, dc types.DatacenterID) (session.Conn, error) {
	s.acquires++
	if s.acquireErr != nil {
		return nil, s.acquireErr
	}
	return s.conn, nil
}

func (s *fakeSessions) Invalidate(dc types.DatacenterID, conn session.Conn) {
	s.invalidated++
}

type fakeDescriptors struct {
	refreshes int
	err       error
}

func (d *fakeDescriptors) Refresh(ctx context.Context, id types.ObjectID, stale []byte) (types.ObjectDescriptor, error) {
	d.refreshes++
	if d.err != nil {
		return types.ObjectDescriptor{}, d.err
	}
	return types.ObjectDescriptor{ObjectID: id, DatacenterID: 2, FileReference: []byte("fresh")}, nil
}

func testObject(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*7 + i/251)
	}
	return data
}

type harness struct {
	conn        *fakeConn
	sessions    *fakeSessions
	descriptors *fakeDescriptors
	fetcher     *Fetcher
	slept       []time.Duration
	desc        types.ObjectDescriptor
}

func newHarness(t *testing.T, size int) *harness {
	data := testObject(size)
	conn := &fakeConn{dc: 2, data: data, scripts: make(map[int64][]error)}
	h := &harness{
		conn:        conn,
		sessions:    &fakeSessions{conn: conn},
		descriptors: &fakeDescriptors{},
		desc: types.ObjectDescriptor{
			ObjectID:      5,
			DatacenterID:  2,
			FileReference: []byte("stale"),
			Size:          int64(size),
		},
	}
	h.fetcher = NewFetcher(h.sessions, h.descriptors, zaptest.NewLogger(t))
	h.fetcher.sleep = func(ctx context.Context, d time.Duration) error {
		h.slept = append(h.slept, d)
		return ctx.Err()
	}
	return h
}

func (h *harness) stream(t *testing.T, from, until int64) *Stream {
	plan, err := storage.Plan(from, until, h.desc.Size, chunkSize)
	require.NoError(t, err)
	return h.fetcher.Open(h.desc, plan)
}

func TestStreamDeliversRange(t *testing.T) {
	h := newHarness(t, 5*chunkSize+123)

	ranges := [][2]int64{
		{0, 5*chunkSize + 122},
		{100, 200},
		{chunkSize - 1, chunkSize},
		{3 * chunkSize, 4*chunkSize - 1},
		{10, 10},
		{5 * chunkSize, 5*chunkSize + 122},
	}

	for _, r := range ranges {
		var buf bytes.Buffer
		n, err := h.stream(t, r[0], r[1]).Copy(context.Background(), &buf)
		require.NoError(t, err)
		assert.Equal(t, r[1]-r[0]+1, n)
		assert.Equal(t, h.conn.data[r[0]:r[1]+1], buf.Bytes())
	}
	assert.Equal(t, 0, h.descriptors.refreshes)
}

func TestStreamIsLazyAndOrdered(t *testing.T) {
	h := newHarness(t, 4*chunkSize)
	s := h.stream(t, 10, 4*chunkSize-1)

	assert.Equal(t, 0, h.sessions.acquires)
	assert.Empty(t, h.conn.readOffsets())

	_, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{0}, h.conn.readOffsets())
	assert.Equal(t, 3, s.Remaining())

	_, err = s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{0, chunkSize}, h.conn.readOffsets())
	assert.Equal(t, 1, h.sessions.acquires)
}

func TestStreamRateLimitedRetriesOnce(t *testing.T) {
	h := newHarness(t, 3*chunkSize)
	h.conn.scripts[chunkSize] = []error{&types.RateLimitError{Wait: 3 * time.Second}}

	var buf bytes.Buffer
	_, err := h.stream(t, 0, 3*chunkSize-1).Copy(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, h.conn.data, buf.Bytes())
	assert.Equal(t, []time.Duration{3 * time.Second}, h.slept)
	assert.Equal(t, []int64{0, chunkSize, chunkSize, 2 * chunkSize}, h.conn.readOffsets())
}

func TestStreamRateLimitedTwiceFails(t *testing.T) {
	h := newHarness(t, 3*chunkSize)
	rl := &types.RateLimitError{Wait: time.Second}
	h.conn.scripts[0] = []error{rl, rl}

	s := h.stream(t, 0, 3*chunkSize-1)
	_, err := s.Next(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrFetch)
	assert.ErrorIs(t, err, types.ErrRateLimited)
	assert.Len(t, h.slept, 1)

	var fe *types.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, int64(0), fe.Offset)

	// Errors are sticky and no further reads happen
	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, types.ErrFetch)
	assert.Len(t, h.conn.readOffsets(), 2)
}

func TestStreamStaleReferenceRefreshes(t *testing.T) {
	h := newHarness(t, 2*chunkSize)
	h.conn.scripts[chunkSize] = []error{types.ErrStaleReference}

	var buf bytes.Buffer
	_, err := h.stream(t, 0, 2*chunkSize-1).Copy(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, h.conn.data, buf.Bytes())
	assert.Equal(t, 1, h.descriptors.refreshes)
	assert.Equal(t, [][]byte{[]byte("stale"), []byte("stale"), []byte("fresh")}, h.conn.refs)
}

func TestStreamStaleReferenceTwiceFails(t *testing.T) {
	h := newHarness(t, 2*chunkSize)
	h.conn.scripts[0] = []error{types.ErrStaleReference, types.ErrStaleReference}

	_, err := h.stream(t, 0, 2*chunkSize-1).Next(context.Background())
	assert.ErrorIs(t, err, types.ErrFetch)
	assert.ErrorIs(t, err, types.ErrStaleReference)
	assert.Equal(t, 1, h.descriptors.refreshes)
}

func TestStreamRefreshFailure(t *testing.T) {
	h := newHarness(t, 2*chunkSize)
	h.conn.scripts[0] = []error{types.ErrStaleReference}
	h.descriptors.err = types.ErrNotFound

	_, err := h.stream(t, 0, 2*chunkSize-1).Next(context.Background())
	assert.ErrorIs(t, err, types.ErrFetch)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestStreamOneRetryPerClass(t *testing.T) {
	h := newHarness(t, chunkSize)
	h.conn.scripts[0] = []error{
		&types.RateLimitError{Wait: time.Millisecond},
		types.ErrStaleReference,
		types.ErrSession,
	}

	var buf bytes.Buffer
	_, err := h.stream(t, 0, chunkSize-1).Copy(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, h.conn.data, buf.Bytes())
	assert.Equal(t, 1, h.sessions.invalidated)
	assert.Equal(t, 2, h.sessions.acquires)
	assert.Len(t, h.conn.readOffsets(), 4)
}

func TestStreamOtherErrorAborts(t *testing.T) {
	h := newHarness(t, 3*chunkSize)
	h.conn.scripts[chunkSize] = []error{errors.New("remote internal: boom")}

	var buf bytes.Buffer
	n, err := h.stream(t, 0, 3*chunkSize-1).Copy(context.Background(), &buf)
	assert.ErrorIs(t, err, types.ErrFetch)
	assert.Equal(t, int64(chunkSize), n)
	assert.Equal(t, h.conn.data[:chunkSize], buf.Bytes())
	assert.Equal(t, []int64{0, chunkSize}, h.conn.readOffsets())
}

func TestStreamSessionFailure(t *testing.T) {
	h := newHarness(t, chunkSize)
	h.sessions.acquireErr = types.ErrSession

	_, err := h.stream(t, 0, chunkSize-1).Next(context.Background())
	assert.ErrorIs(t, err, types.ErrSession)
	assert.ErrorIs(t, err, types.ErrFetch)
}

type failingWriter struct {
	after int
	n     int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.n >= w.after {
		return 0, io.ErrClosedPipe
	}
	w.n++
	return len(p), nil
}

func TestStreamStopsOnWriteError(t *testing.T) {
	h := newHarness(t, 8*chunkSize)

	_, err := h.stream(t, 0, 8*chunkSize-1).Copy(context.Background(), &failingWriter{after: 2})
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Equal(t, []int64{0, chunkSize, 2 * chunkSize}, h.conn.readOffsets())
}

func TestStreamStopsOnCancel(t *testing.T) {
	h := newHarness(t, 8*chunkSize)
	s := h.stream(t, 0, 8*chunkSize-1)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := s.Next(ctx)
	require.NoError(t, err)
	cancel()

	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int64{0}, h.conn.readOffsets())
}

func TestStreamShortChunk(t *testing.T) {
	h := newHarness(t, 2*chunkSize)
	desc := h.desc
	desc.Size = 3 * chunkSize
	plan, err := storage.Plan(0, 3*chunkSize-1, desc.Size, chunkSize)
	require.NoError(t, err)

	_, err = h.fetcher.Open(desc, plan).Copy(context.Background(), io.Discard)
	assert.ErrorIs(t, err, types.ErrFetch)
}

func TestStreamEmptyPlan(t *testing.T) {
	h := newHarness(t, 0)
	plan, err := storage.Plan(0, -1, 0, chunkSize)
	require.NoError(t, err)

	s := h.fetcher.Open(h.desc, plan)
	_, err = s.Next(context.Background())
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 0, h.sessions.acquires)
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}
