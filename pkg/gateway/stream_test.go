package gateway_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"mediagate/pkg/fetcher"
	"mediagate/pkg/gateway"
	"mediagate/pkg/session"
	"mediagate/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeConn struct {
	data   []byte
	failAt int64
	err    error
	reads  atomic.Int64
}

func (c *fakeConn) Datacenter() types.DatacenterID { return 2 }
func (c *fakeConn) Healthy() bool                  { return true }
func (c *fakeConn) Close() error                   { return nil }

func (c *fakeConn) ResolveObject(ctx context.Context, id types.ObjectID) (*types.RemoteObject, error) {
	return nil, types.ErrNotFound
}

func (c *fakeConn) ExportCredential(ctx context.Context, to types.DatacenterID) ([]byte, error) {
	return nil, errors.New("not supported")
}

func (c *fakeConn) ReadChunk(ctx context.Context, desc types.ObjectDescriptor, offset, limit int64) ([]byte, error) {
	c.reads.Add(1)
	if c.failAt >= 0 && offset >= c.failAt {
		return nil, c.err
	}
	end := offset + limit
	if end > int64(len(c.data)) {
		end = int64(len(c.data))
	}
	return c.data[offset:end], nil
}

type fakeSessions struct {
	conn       *fakeConn
	acquireErr error
}

func (s *fakeSessions) Acquire(ctx context.Context, dc types.DatacenterID) (session.Conn, error) {
	if s.acquireErr != nil {
		return nil, s.acquireErr
	}
	return s.conn, nil
}

func (s *fakeSessions) Invalidate(dc types.DatacenterID, conn session.Conn) {}
func (s *fakeSessions) HomeDatacenter() types.DatacenterID                  { return 2 }
func (s *fakeSessions) Statistics() map[string]interface{}                  { return map[string]interface{}{} }

type fakeDescriptors struct {
	desc types.ObjectDescriptor
	meta types.ObjectMetadata
}

func (d *fakeDescriptors) Resolve(ctx context.Context, id types.ObjectID) (types.ObjectDescriptor, types.ObjectMetadata, error) {
	if id != d.desc.ObjectID {
		return types.ObjectDescriptor{}, types.ObjectMetadata{}, types.ErrNotFound
	}
	return d.desc, d.meta, nil
}

func (d *fakeDescriptors) Refresh(ctx context.Context, id types.ObjectID, stale []byte) (types.ObjectDescriptor, error) {
	return d.desc, nil
}

func (d *fakeDescriptors) Len() int { return 1 }

func newFakeGateway(t *testing.T, sessions *fakeSessions, size int64) *httptest.Server {
	t.Helper()

	descs := &fakeDescriptors{
		desc: types.ObjectDescriptor{ObjectID: 9, DatacenterID: 2, Size: size},
		meta: types.ObjectMetadata{Name: "obj.bin", MimeType: "application/octet-stream", Media: types.Document{}, Size: size},
	}
	logger := zaptest.NewLogger(t)
	f := fetcher.NewFetcher(sessions, descs, logger)

	gw, err := gateway.New(gateway.Config{ChunkSize: testChunk}, descs, sessions, f, logger)
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamFirstChunkFailure(t *testing.T) {
	conn := &fakeConn{data: make([]byte, 3*testChunk), failAt: 0, err: errors.New("remote internal error")}
	srv := newFakeGateway(t, &fakeSessions{conn: conn}, 3*testChunk)

	resp, err := http.Get(srv.URL + "/9")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.NotContains(t, string(body), "remote internal error")
	assert.Equal(t, int64(1), conn.reads.Load())
}

func TestStreamFirstChunkNotFoundIsBadGateway(t *testing.T) {
	conn := &fakeConn{data: make([]byte, 3*testChunk), failAt: 0, err: fmt.Errorf("%w: FILE_ID_INVALID", types.ErrNotFound)}
	srv := newFakeGateway(t, &fakeSessions{conn: conn}, 3*testChunk)

	resp, err := http.Get(srv.URL + "/9")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Content-Range"))
	assert.Equal(t, int64(1), conn.reads.Load())
}

func TestStreamSessionFailure(t *testing.T) {
	srv := newFakeGateway(t, &fakeSessions{acquireErr: fmt.Errorf("%w: handshake refused", types.ErrSession)}, 100)

	resp, err := http.Get(srv.URL + "/9")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestStreamAbortsMidStream(t *testing.T) {
	data := make([]byte, 3*testChunk)
	for i := range data {
		data[i] = byte(i)
	}
	conn := &fakeConn{data: data, failAt: 2 * testChunk, err: errors.New("connection reset")}
	srv := newFakeGateway(t, &fakeSessions{conn: conn}, int64(len(data)))

	resp, err := http.Get(srv.URL + "/9")
	require.NoError(t, err)
	defer resp.Body.Close()

	// The status line was already sent; the body is cut short
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	assert.Error(t, err)
	assert.Equal(t, data[:len(body)], body)
	assert.Less(t, len(body), len(data))
	assert.Equal(t, int64(3), conn.reads.Load())
}

func TestStreamUnknownIDDoesNotRead(t *testing.T) {
	conn := &fakeConn{failAt: -1}
	srv := newFakeGateway(t, &fakeSessions{conn: conn}, 0)

	resp, err := http.Get(srv.URL + "/10")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Zero(t, conn.reads.Load())
}
