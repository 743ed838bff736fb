package gateway_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mediagate/pkg/datacenter"
	"mediagate/pkg/datacenter/datacentertest"
	"mediagate/pkg/descriptor"
	"mediagate/pkg/fetcher"
	"mediagate/pkg/gateway"
	"mediagate/pkg/metrics"
	"mediagate/pkg/remote"
	"mediagate/pkg/session"
	"mediagate/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
)

const testChunk = 4096

type harness struct {
	cluster *datacentertest.Cluster
	server  *httptest.Server
	cache   *descriptor.Cache
}

func newHarness(t *testing.T, ids []types.DatacenterID, opts ...datacentertest.Option) *harness {
	t.Helper()

	c := datacentertest.NewCluster(t, ids, opts...)
	logger := zaptest.NewLogger(t)

	dialer := remote.NewDialer(remote.Config{
		Endpoints:   c.Endpoints(),
		APIToken:    datacentertest.APIToken,
		DialTimeout: 5 * time.Second,
		DialOptions: []grpc.DialOption{c.DialOption()},
	}, logger)

	var cache *descriptor.Cache
	m := metrics.NewWithRegistry(prometheus.NewRegistry(), func() float64 { return float64(cache.Len()) })

	sessions := session.NewManager(dialer, ids[0], logger, session.WithMetrics(m))
	t.Cleanup(func() { sessions.Close() })

	cache = descriptor.NewCache(sessions, 64, time.Minute, logger, descriptor.WithMetrics(m))
	f := fetcher.NewFetcher(sessions, cache, logger, fetcher.WithMetrics(m))

	gw, err := gateway.New(gateway.Config{
		ChunkSize:          testChunk,
		CacheControlMaxAge: 604800,
		Version:            "test",
	}, cache, sessions, f, logger, gateway.WithMetrics(m))
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)

	return &harness{cluster: c, server: srv, cache: cache}
}

func (h *harness) do(t *testing.T, method, path string, header map[string]string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, h.server.URL+path, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := h.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func (h *harness) fileReads(dc types.DatacenterID) int64 {
	return h.cluster.Servers[dc].Statistics()["file_reads"].(int64)
}

func TestRoot(t *testing.T) {
	h := newHarness(t, []types.DatacenterID{2})

	resp, body := h.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var root map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &root))
	assert.Equal(t, "running", root["status"])
	assert.Equal(t, "test", root["version"])
	assert.Equal(t, float64(2), root["home_datacenter"])
	assert.Equal(t, float64(0), root["cached_objects"])
	assert.NotEmpty(t, root["uptime"])
	assert.Contains(t, root, "sessions")
}

func TestStreamFullObject(t *testing.T) {
	h := newHarness(t, []types.DatacenterID{2})
	data := datacentertest.Pattern(3*testChunk + 500)
	id := h.cluster.Put(t, 2, datacenter.ObjectSpec{
		Kind:     types.KindVideo,
		FileName: "clip.mp4",
		MimeType: "video/mp4",
	}, data)

	resp, body := h.do(t, http.MethodGet, fmt.Sprintf("/%d", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, data, body)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	assert.Equal(t, fmt.Sprint(len(data)), resp.Header.Get("Content-Length"))
	assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))
	assert.Equal(t, "inline; filename=clip.mp4", resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "max-age=604800", resp.Header.Get("Cache-Control"))
	assert.Empty(t, resp.Header.Get("Content-Range"))
	assert.Equal(t, int64(4), h.fileReads(2))
}

func TestStreamRanges(t *testing.T) {
	h := newHarness(t, []types.DatacenterID{2})
	size := 3*testChunk + 500
	data := datacentertest.Pattern(size)
	id := h.cluster.Put(t, 2, datacenter.ObjectSpec{FileName: "blob.bin"}, data)

	tests := []struct {
		header      string
		from, until int
	}{
		{"bytes=0-0", 0, 0},
		{"bytes=100-5000", 100, 5000},
		{"bytes=4096-8191", 4096, 8191},
		{"bytes=4095-4096", 4095, 4096},
		{"bytes=9000-", 9000, size - 1},
		{"bytes=-700", size - 700, size - 1},
		{"bytes=12000-999999", 12000, size - 1},
		{"bytes=10-99999999999999999999", 10, size - 1},
		{"bytes=-99999999999999999999", 0, size - 1},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			resp, body := h.do(t, http.MethodGet, fmt.Sprintf("/%d", id), map[string]string{"Range": tt.header})
			require.Equal(t, http.StatusPartialContent, resp.StatusCode)
			assert.Equal(t, fmt.Sprintf("bytes %d-%d/%d", tt.from, tt.until, size), resp.Header.Get("Content-Range"))
			assert.Equal(t, fmt.Sprint(tt.until-tt.from+1), resp.Header.Get("Content-Length"))
			assert.Equal(t, data[tt.from:tt.until+1], body)
		})
	}
}

func TestStreamRangeRoundTrip(t *testing.T) {
	h := newHarness(t, []types.DatacenterID{2})
	size := 5*testChunk + 123
	data := datacentertest.Pattern(size)
	id := h.cluster.Put(t, 2, datacenter.ObjectSpec{}, data)

	rnd := rand.New(rand.NewSource(7))
	for i := 0; i < 40; i++ {
		from := rnd.Intn(size)
		until := from + rnd.Intn(size-from)

		resp, body := h.do(t, http.MethodGet, fmt.Sprintf("/%d", id),
			map[string]string{"Range": fmt.Sprintf("bytes=%d-%d", from, until)})
		require.Equal(t, http.StatusPartialContent, resp.StatusCode)
		require.Len(t, body, until-from+1, "range %d-%d", from, until)
		require.Equal(t, data[from:until+1], body, "range %d-%d", from, until)
	}
}

func TestStreamRangeNotSatisfiable(t *testing.T) {
	h := newHarness(t, []types.DatacenterID{2})
	id := h.cluster.Put(t, 2, datacenter.ObjectSpec{}, datacentertest.Pattern(500))

	for _, header := range []string{"bytes=500-", "bytes=600-700", "bytes=50-10", "bytes=abc", "pages=1-2"} {
		t.Run(header, func(t *testing.T) {
			resp, _ := h.do(t, http.MethodGet, fmt.Sprintf("/%d", id), map[string]string{"Range": header})
			assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
			assert.Equal(t, "bytes */500", resp.Header.Get("Content-Range"))
		})
	}
	assert.Zero(t, h.fileReads(2))
}

func TestStreamMultiRangeServedWhole(t *testing.T) {
	h := newHarness(t, []types.DatacenterID{2})
	data := datacentertest.Pattern(500)
	id := h.cluster.Put(t, 2, datacenter.ObjectSpec{}, data)

	resp, body := h.do(t, http.MethodGet, fmt.Sprintf("/%d", id), map[string]string{"Range": "bytes=0-9,20-29"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "500", resp.Header.Get("Content-Length"))
	assert.Equal(t, data, body)
}

func TestStreamNotFound(t *testing.T) {
	h := newHarness(t, []types.DatacenterID{2})
	require.NoError(t, h.cluster.Store.PutMessage(context.Background(), 77))

	for _, path := range []string{"/12345", "/77", "/abc", "/-4", "/player/12345"} {
		t.Run(path, func(t *testing.T) {
			resp, _ := h.do(t, http.MethodGet, path, nil)
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		})
	}
	assert.Zero(t, h.fileReads(2))
}

func TestStreamDispositionAndName(t *testing.T) {
	h := newHarness(t, []types.DatacenterID{2})
	id := h.cluster.Put(t, 2, datacenter.ObjectSpec{FileName: "report.pdf", MimeType: "application/pdf"}, datacentertest.Pattern(100))

	resp, _ := h.do(t, http.MethodGet, fmt.Sprintf("/%d?download=1", id), nil)
	assert.Equal(t, "attachment; filename=report.pdf", resp.Header.Get("Content-Disposition"))
	assert.Empty(t, resp.Header.Get("Cache-Control"))

	resp, _ = h.do(t, http.MethodGet, fmt.Sprintf("/%d/summary.pdf", id), nil)
	assert.Equal(t, "inline; filename=summary.pdf", resp.Header.Get("Content-Disposition"))

	unnamed := h.cluster.Put(t, 2, datacenter.ObjectSpec{}, datacentertest.Pattern(100))
	resp, _ = h.do(t, http.MethodGet, fmt.Sprintf("/%d", unnamed), nil)
	assert.Equal(t, fmt.Sprintf("inline; filename=file_%d", unnamed), resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
}

func TestStreamHead(t *testing.T) {
	h := newHarness(t, []types.DatacenterID{2})
	id := h.cluster.Put(t, 2, datacenter.ObjectSpec{}, datacentertest.Pattern(10000))

	resp, body := h.do(t, http.MethodHead, fmt.Sprintf("/%d", id), map[string]string{"Range": "bytes=10-19"})
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes 10-19/10000", resp.Header.Get("Content-Range"))
	assert.Equal(t, int64(10), resp.ContentLength)
	assert.Empty(t, body)
	assert.Zero(t, h.fileReads(2))
}

func TestStreamEmptyObject(t *testing.T) {
	h := newHarness(t, []types.DatacenterID{2})
	id := h.cluster.Put(t, 2, datacenter.ObjectSpec{}, nil)

	resp, body := h.do(t, http.MethodGet, fmt.Sprintf("/%d", id), map[string]string{"Range": "bytes=0-10"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get("Content-Length"))
	assert.Empty(t, body)
	assert.Zero(t, h.fileReads(2))
}

func TestStreamCrossDatacenter(t *testing.T) {
	h := newHarness(t, []types.DatacenterID{2, 4})
	data := datacentertest.Pattern(2*testChunk + 10)
	id := h.cluster.Put(t, 4, datacenter.ObjectSpec{}, data)

	for i := 0; i < 3; i++ {
		resp, body := h.do(t, http.MethodGet, fmt.Sprintf("/%d", id), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, data, body)
	}

	assert.Zero(t, h.fileReads(2))
	assert.Equal(t, int64(9), h.fileReads(4))
	assert.Equal(t, 1, h.cluster.Servers[4].Statistics()["sessions"])
}

func TestStreamSurvivesStaleReference(t *testing.T) {
	h := newHarness(t, []types.DatacenterID{2}, datacentertest.WithReferenceTTL(time.Minute))
	data := datacentertest.Pattern(testChunk + 10)
	id := h.cluster.Put(t, 2, datacenter.ObjectSpec{}, data)

	resp, body := h.do(t, http.MethodGet, fmt.Sprintf("/%d", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, data, body)

	h.cluster.Advance(5 * time.Minute)

	resp, body = h.do(t, http.MethodGet, fmt.Sprintf("/%d", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, data, body)
	assert.Equal(t, 1, h.cache.Len())
}

func TestStreamSurvivesRateLimit(t *testing.T) {
	h := newHarness(t, []types.DatacenterID{2}, datacentertest.WithFlood(2, 10*time.Millisecond))
	data := datacentertest.Pattern(4 * testChunk)
	id := h.cluster.Put(t, 2, datacenter.ObjectSpec{}, data)

	resp, body := h.do(t, http.MethodGet, fmt.Sprintf("/%d", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, data, body)
	assert.Positive(t, h.cluster.Servers[2].Statistics()["rate_limited"])
}

func TestStreamRateLimitedTwiceIsBadGateway(t *testing.T) {
	h := newHarness(t, []types.DatacenterID{2}, datacentertest.WithFlood(1, 10*time.Millisecond))
	id := h.cluster.Put(t, 2, datacenter.ObjectSpec{}, datacentertest.Pattern(100))

	resp, _ := h.do(t, http.MethodGet, fmt.Sprintf("/%d", id), nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, int64(2), h.fileReads(2))
}

func TestStreamRecoversRevokedSession(t *testing.T) {
	h := newHarness(t, []types.DatacenterID{2})
	data := datacentertest.Pattern(100)
	id := h.cluster.Put(t, 2, datacenter.ObjectSpec{}, data)

	resp, _ := h.do(t, http.MethodGet, fmt.Sprintf("/%d", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	h.cluster.Servers[2].RevokeSessions()

	resp, body := h.do(t, http.MethodGet, fmt.Sprintf("/%d", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, data, body)
}

func TestPlayer(t *testing.T) {
	h := newHarness(t, []types.DatacenterID{2})
	video := h.cluster.Put(t, 2, datacenter.ObjectSpec{Kind: types.KindVideo, FileName: "my clip.mp4", MimeType: "video/mp4"}, datacentertest.Pattern(10))
	song := h.cluster.Put(t, 2, datacenter.ObjectSpec{FileName: "song.ogg", MimeType: "audio/ogg"}, datacentertest.Pattern(10))
	doc := h.cluster.Put(t, 2, datacenter.ObjectSpec{FileName: "<script>.txt", MimeType: "text/plain"}, datacentertest.Pattern(10))

	resp, body := h.do(t, http.MethodGet, fmt.Sprintf("/player/%d", video), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	page := string(body)
	assert.Contains(t, page, "<video")
	assert.Contains(t, page, fmt.Sprintf("%s/%d/my%%20clip.mp4", h.server.URL, video))
	assert.Contains(t, page, "?download=1")

	_, body = h.do(t, http.MethodGet, fmt.Sprintf("/player/%d", song), nil)
	assert.Contains(t, string(body), "<audio")

	_, body = h.do(t, http.MethodGet, fmt.Sprintf("/player/%d", doc), nil)
	page = string(body)
	assert.Contains(t, page, "not supported for streaming playback")
	assert.NotContains(t, page, "<script>")
	assert.Contains(t, page, "&lt;script&gt;.txt")

	assert.Zero(t, h.fileReads(2))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, []types.DatacenterID{2})
	id := h.cluster.Put(t, 2, datacenter.ObjectSpec{}, datacentertest.Pattern(100))

	h.do(t, http.MethodGet, fmt.Sprintf("/%d", id), nil)

	resp, body := h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := string(body)
	assert.Contains(t, out, `mediagate_http_requests_total{code="200",route="GET /{id}"} 1`)
	assert.True(t, strings.Contains(out, "mediagate_bytes_served_total 100"), out)
}
