package remote

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"mediagate/pkg/auth"
	"mediagate/pkg/protocol"
	"mediagate/pkg/session"
	"mediagate/pkg/types"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Config describes how to reach the remote datacenters
type Config struct {
	Endpoints   map[types.DatacenterID]string
	APIToken    string
	DialTimeout time.Duration
	// DialOptions are appended to every connection; transport credentials
	// default to insecure when none are given.
	DialOptions []grpc.DialOption
}

// Dialer opens gRPC sessions to remote datacenters
type Dialer struct {
	cfg    Config
	logger *zap.Logger
}

var _ session.Dialer = (*Dialer)(nil)

// NewDialer creates a new remote dialer
func NewDialer(cfg Config, logger *zap.Logger) *Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Dialer{cfg: cfg, logger: logger}
}

// Datacenters returns the configured datacenter ids in ascending order
func (d *Dialer) Datacenters() []types.DatacenterID {
	ids := make([]types.DatacenterID, 0, len(d.cfg.Endpoints))
	for id := range d.cfg.Endpoints {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Authorize opens a session on dc with the configured API token
func (d *Dialer) Authorize(ctx context.Context, dc types.DatacenterID) (session.Conn, error) {
	c, err := d.dial(dc)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.DialTimeout)
	defer cancel()

	resp, err := c.client.Authorize(ctx, &protocol.AuthorizeRequest{
		DatacenterID: int32(dc),
		APIToken:     d.cfg.APIToken,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("authorize: %w", classify(err, nil))
	}

	c.token.Store(resp.SessionToken)
	d.logger.Debug("Authorized datacenter session", zap.Stringer("datacenter", dc))
	return c, nil
}

// Import opens a session on dc from a credential exported elsewhere
func (d *Dialer) Import(ctx context.Context, dc types.DatacenterID, credential []byte) (session.Conn, error) {
	c, err := d.dial(dc)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.DialTimeout)
	defer cancel()

	resp, err := c.client.ImportAuthorization(ctx, &protocol.ImportAuthorizationRequest{
		DatacenterID: int32(dc),
		Credential:   credential,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("import authorization: %w", classify(err, nil))
	}

	c.token.Store(resp.SessionToken)
	d.logger.Debug("Imported datacenter session", zap.Stringer("datacenter", dc))
	return c, nil
}

func (d *Dialer) dial(dc types.DatacenterID) (*Conn, error) {
	endpoint, ok := d.cfg.Endpoints[dc]
	if !ok {
		return nil, fmt.Errorf("no endpoint configured for datacenter %s", dc)
	}

	c := &Conn{dc: dc, logger: d.logger}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(auth.UnaryClientInterceptor(c.sessionToken)),
	}
	opts = append(opts, d.cfg.DialOptions...)

	cc, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial datacenter %s at %s: %w", dc, endpoint, err)
	}

	c.cc = cc
	c.client = protocol.NewDatacenterClient(cc)
	return c, nil
}

// Conn is an authorized session on one datacenter
type Conn struct {
	dc      types.DatacenterID
	cc      *grpc.ClientConn
	client  protocol.DatacenterClient
	token   atomic.Value
	revoked atomic.Bool
	logger  *zap.Logger
}

var _ session.Conn = (*Conn)(nil)

func (c *Conn) sessionToken() string {
	t, _ := c.token.Load().(string)
	return t
}

func (c *Conn) Datacenter() types.DatacenterID {
	return c.dc
}

// Healthy reports whether the session can still serve calls. A transport
// in reconnect backoff still is; grpc redials it on the next call.
func (c *Conn) Healthy() bool {
	if c.revoked.Load() {
		return false
	}
	return c.cc.GetState() != connectivity.Shutdown
}

func (c *Conn) Close() error {
	return c.cc.Close()
}

func (c *Conn) ResolveObject(ctx context.Context, id types.ObjectID) (*types.RemoteObject, error) {
	resp, err := c.client.GetMessage(ctx, &protocol.GetMessageRequest{MessageID: int64(id)})
	if err != nil {
		return nil, c.classify(err, nil)
	}

	obj := &types.RemoteObject{
		ObjectID: types.ObjectID(resp.MessageID),
		Date:     time.Unix(resp.Date, 0),
	}
	if resp.Media != nil {
		obj.Media = c.convertMedia(resp.Media)
	}
	return obj, nil
}

func (c *Conn) ExportCredential(ctx context.Context, to types.DatacenterID) ([]byte, error) {
	resp, err := c.client.ExportAuthorization(ctx, &protocol.ExportAuthorizationRequest{DatacenterID: int32(to)})
	if err != nil {
		return nil, c.classify(err, nil)
	}
	return resp.Credential, nil
}

func (c *Conn) ReadChunk(ctx context.Context, desc types.ObjectDescriptor, offset, limit int64) ([]byte, error) {
	var trailer metadata.MD
	resp, err := c.client.GetFile(ctx, &protocol.GetFileRequest{
		Location: protocol.FileLocation{
			MediaID:       desc.MediaID,
			AccessHash:    desc.AccessHash,
			FileReference: desc.FileReference,
		},
		Offset: offset,
		Limit:  limit,
	}, grpc.Trailer(&trailer))
	if err != nil {
		return nil, c.classify(err, trailer)
	}
	return resp.Bytes, nil
}

func (c *Conn) classify(err error, trailer metadata.MD) error {
	err = classify(err, trailer)
	if isRevoked(err) {
		c.revoked.Store(true)
		c.logger.Warn("Datacenter revoked session", zap.Stringer("datacenter", c.dc))
	}
	return err
}

func (c *Conn) convertMedia(m *protocol.Media) *types.RemoteMedia {
	kind, err := types.ParseMediaKind(m.Kind)
	if err != nil {
		c.logger.Debug("Unknown media kind", zap.String("kind", m.Kind))
		kind = types.KindOther
	}

	return &types.RemoteMedia{
		Kind:          kind,
		LocationToken: m.FileID,
		FileReference: m.FileReference,
		FileName:      m.FileName,
		MimeType:      m.MimeType,
		FileSize:      m.FileSize,
		Duration:      time.Duration(m.DurationSeconds) * time.Second,
		Width:         int(m.Width),
		Height:        int(m.Height),
		Performer:     m.Performer,
		Title:         m.Title,
	}
}
