// Package datacentertest runs in-memory datacenter clusters for tests.
package datacentertest

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"mediagate/pkg/datacenter"
	"mediagate/pkg/types"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

const (
	APIToken = "test-api-token"

	endpointPrefix = "dc-"
	bufSize        = 4 * 1024 * 1024
)

// ClusterKey is shared by every datacenter of a test cluster
var ClusterKey = []byte("datacentertest-cluster-key-0123456789")

// Option adjusts the config of every datacenter in a cluster
type Option func(*datacenter.Config)

// WithFlood rate-limits every nth file read
func WithFlood(every int64, wait time.Duration) Option {
	return func(c *datacenter.Config) {
		c.FloodEvery = every
		c.FloodWait = wait
	}
}

// WithReferenceTTL sets the lifetime of file references
func WithReferenceTTL(ttl time.Duration) Option {
	return func(c *datacenter.Config) { c.ReferenceTTL = ttl }
}

// Cluster is a set of datacenters sharing one memory bucket
type Cluster struct {
	Store   *datacenter.Store
	Servers map[types.DatacenterID]*datacenter.Server

	listeners map[types.DatacenterID]*bufconn.Listener
}

// NewCluster starts one datacenter per id. Everything is torn down when
// the test ends.
func NewCluster(t testing.TB, ids []types.DatacenterID, opts ...Option) *Cluster {
	t.Helper()

	store, err := datacenter.OpenStore(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	c := &Cluster{
		Store:     store,
		Servers:   make(map[types.DatacenterID]*datacenter.Server),
		listeners: make(map[types.DatacenterID]*bufconn.Listener),
	}

	for _, id := range ids {
		cfg := datacenter.Config{
			ID:         id,
			APIToken:   APIToken,
			ClusterKey: ClusterKey,
		}
		for _, opt := range opts {
			opt(&cfg)
		}

		srv, err := datacenter.New(cfg, store, zaptest.NewLogger(t).Named("dc"+id.String()))
		if err != nil {
			t.Fatalf("new datacenter %s: %v", id, err)
		}

		lis := bufconn.Listen(bufSize)
		done := make(chan struct{})
		go func() {
			defer close(done)
			srv.Serve(lis)
		}()

		c.Servers[id] = srv
		c.listeners[id] = lis

		t.Cleanup(func() {
			srv.Stop()
			<-done
		})
	}

	return c
}

// Endpoints returns the gRPC targets of every datacenter
func (c *Cluster) Endpoints() map[types.DatacenterID]string {
	endpoints := make(map[types.DatacenterID]string, len(c.listeners))
	for id := range c.listeners {
		endpoints[id] = "passthrough:///" + endpointPrefix + id.String()
	}
	return endpoints
}

// DialOption routes the cluster's endpoints to their in-memory listeners
func (c *Cluster) DialOption() grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		id, err := strconv.Atoi(strings.TrimPrefix(addr, endpointPrefix))
		if err != nil {
			return nil, fmt.Errorf("unknown test endpoint %q", addr)
		}
		lis, ok := c.listeners[types.DatacenterID(id)]
		if !ok {
			return nil, fmt.Errorf("no datacenter %d in cluster", id)
		}
		return lis.DialContext(ctx)
	})
}

// Put uploads data homed on dc and returns its object id
func (c *Cluster) Put(t testing.TB, dc types.DatacenterID, obj datacenter.ObjectSpec, data []byte) types.ObjectID {
	t.Helper()

	obj.DatacenterID = dc
	id, err := c.Store.PutObject(context.Background(), obj, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("put object: %v", err)
	}
	return types.ObjectID(id)
}

// Advance ages file references on every datacenter
func (c *Cluster) Advance(d time.Duration) {
	for _, srv := range c.Servers {
		srv.Advance(d)
	}
}

// Pattern returns size deterministic bytes
func Pattern(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*31 + i/4093)
	}
	return data
}
