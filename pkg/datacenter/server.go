package datacenter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"mediagate/pkg/auth"
	"mediagate/pkg/protocol"
	"mediagate/pkg/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	// Reads must be aligned to 4KiB and may not exceed 1MiB
	readAlignment = 4096
	maxReadLimit  = 1024 * 1024
)

// Config configures one emulated datacenter
type Config struct {
	ID           types.DatacenterID
	Address      string
	APIToken     string
	ClusterKey   []byte
	ReferenceTTL time.Duration
	// FloodEvery rate-limits every Nth file read; zero disables it
	FloodEvery int64
	FloodWait  time.Duration
	Auth       *auth.AuthConfig
}

// Server serves the Datacenter API for one datacenter
type Server struct {
	protocol.UnimplementedDatacenterServer

	cfg     Config
	store   *Store
	issuer  *auth.CredentialIssuer
	signer  referenceSigner
	logger  *zap.Logger
	skew    atomic.Int64
	reads   atomic.Int64
	limited atomic.Int64

	sessions   map[string]*auth.Session
	sessionsMu sync.RWMutex

	server *grpc.Server
}

var _ auth.SessionValidator = (*Server)(nil)

// New creates a new datacenter server over store
func New(cfg Config, store *Store, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ID <= 0 {
		return nil, fmt.Errorf("invalid datacenter id %d", cfg.ID)
	}
	if cfg.ReferenceTTL <= 0 {
		cfg.ReferenceTTL = time.Hour
	}
	if cfg.FloodWait <= 0 {
		cfg.FloodWait = time.Second
	}

	issuer, err := auth.NewCredentialIssuer(cfg.ClusterKey, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential issuer: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		store:    store,
		issuer:   issuer,
		signer:   referenceSigner{key: cfg.ClusterKey, ttl: cfg.ReferenceTTL},
		logger:   logger.With(zap.Stringer("datacenter", cfg.ID)),
		sessions: make(map[string]*auth.Session),
	}

	serverOpts, err := cfg.Auth.ServerOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to build server TLS config: %w", err)
	}
	if len(serverOpts) > 0 {
		s.logger.Info("TLS enabled for datacenter")
	}

	interceptor := auth.NewSessionInterceptor(s,
		protocol.Datacenter_Authorize_FullMethodName,
		protocol.Datacenter_ImportAuthorization_FullMethodName,
	)
	serverOpts = append(serverOpts, grpc.ChainUnaryInterceptor(interceptor.UnaryServerInterceptor()))

	s.server = grpc.NewServer(serverOpts...)
	protocol.RegisterDatacenterServer(s.server, s)

	return s, nil
}

// Start listens on the configured address and serves until Stop
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}
	return s.Serve(listener)
}

// Serve serves on an existing listener until Stop
func (s *Server) Serve(listener net.Listener) error {
	s.logger.Info("Datacenter starting", zap.String("address", listener.Addr().String()))
	return s.server.Serve(listener)
}

func (s *Server) Stop() {
	s.server.GracefulStop()
}

// ID returns the datacenter id
func (s *Server) ID() types.DatacenterID {
	return s.cfg.ID
}

// Advance moves the server clock forward, ageing issued file references
func (s *Server) Advance(d time.Duration) {
	s.skew.Add(int64(d))
}

func (s *Server) clock() time.Time {
	return time.Now().Add(time.Duration(s.skew.Load()))
}

// ValidateSession resolves a session token issued by this datacenter
func (s *Server) ValidateSession(token string) (*auth.Session, error) {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	sess, ok := s.sessions[token]
	if !ok {
		return nil, auth.ErrUnauthorized
	}
	return sess, nil
}

// RevokeSessions drops every session, forcing clients to authorize again
func (s *Server) RevokeSessions() {
	s.sessionsMu.Lock()
	s.sessions = make(map[string]*auth.Session)
	s.sessionsMu.Unlock()
}

// Statistics returns counters for the datacenter
func (s *Server) Statistics() map[string]interface{} {
	s.sessionsMu.RLock()
	sessions := len(s.sessions)
	s.sessionsMu.RUnlock()

	return map[string]interface{}{
		"datacenter":   int(s.cfg.ID),
		"sessions":     sessions,
		"file_reads":   s.reads.Load(),
		"rate_limited": s.limited.Load(),
	}
}

func (s *Server) openSession(subject string) *auth.Session {
	sess := &auth.Session{
		Token:      uuid.NewString(),
		Subject:    subject,
		Datacenter: int32(s.cfg.ID),
	}

	s.sessionsMu.Lock()
	s.sessions[sess.Token] = sess
	s.sessionsMu.Unlock()

	return sess
}

func (s *Server) checkDatacenter(id int32) error {
	if types.DatacenterID(id) != s.cfg.ID {
		return status.Errorf(codes.InvalidArgument, "DC_ID_INVALID: this is datacenter %s", s.cfg.ID)
	}
	return nil
}

func (s *Server) Authorize(ctx context.Context, req *protocol.AuthorizeRequest) (*protocol.AuthorizeResponse, error) {
	if err := s.checkDatacenter(req.DatacenterID); err != nil {
		return nil, err
	}
	if s.cfg.APIToken == "" || req.APIToken != s.cfg.APIToken {
		s.logger.Warn("Rejected authorization with invalid API token")
		return nil, status.Error(codes.Unauthenticated, "API_TOKEN_INVALID")
	}

	sess := s.openSession("api")
	s.logger.Debug("Authorized session")

	return &protocol.AuthorizeResponse{DatacenterID: int32(s.cfg.ID), SessionToken: sess.Token}, nil
}

func (s *Server) ImportAuthorization(ctx context.Context, req *protocol.ImportAuthorizationRequest) (*protocol.AuthorizeResponse, error) {
	if err := s.checkDatacenter(req.DatacenterID); err != nil {
		return nil, err
	}

	claims, err := s.issuer.Import(req.Credential, s.cfg.ID)
	if err != nil {
		s.logger.Warn("Rejected imported authorization", zap.Error(err))
		return nil, status.Errorf(codes.Unauthenticated, "AUTH_BYTES_INVALID: %v", err)
	}

	sess := s.openSession(claims.Subject)
	s.logger.Debug("Imported session", zap.Stringer("from", claims.SourceDatacenterID()))

	return &protocol.AuthorizeResponse{DatacenterID: int32(s.cfg.ID), SessionToken: sess.Token}, nil
}

func (s *Server) ExportAuthorization(ctx context.Context, req *protocol.ExportAuthorizationRequest) (*protocol.ExportAuthorizationResponse, error) {
	sess, ok := auth.SessionFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, protocol.ReasonAuthKeyInvalid)
	}

	to := types.DatacenterID(req.DatacenterID)
	if to <= 0 || to == s.cfg.ID {
		return nil, status.Errorf(codes.InvalidArgument, "DC_ID_INVALID: cannot export to %s", to)
	}

	credential, err := s.issuer.Export(s.cfg.ID, to, sess.Subject)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "export failed: %v", err)
	}

	return &protocol.ExportAuthorizationResponse{DatacenterID: req.DatacenterID, Credential: credential}, nil
}

func (s *Server) GetMessage(ctx context.Context, req *protocol.GetMessageRequest) (*protocol.GetMessageResponse, error) {
	msg, err := s.store.Message(ctx, req.MessageID)
	if errors.Is(err, ErrNoSuchObject) {
		return nil, status.Error(codes.NotFound, protocol.ReasonMessageNotFound)
	}
	if err != nil {
		s.logger.Error("Failed to load message", zap.Int64("message_id", req.MessageID), zap.Error(err))
		return nil, status.Error(codes.Internal, "message lookup failed")
	}

	resp := &protocol.GetMessageResponse{MessageID: msg.MessageID, Date: msg.Date.Unix()}
	if msg.MediaID == 0 {
		return resp, nil
	}

	rec, err := s.store.Media(ctx, msg.MediaID)
	if err != nil {
		s.logger.Error("Message references missing media",
			zap.Int64("message_id", msg.MessageID),
			zap.Int64("media_id", msg.MediaID),
			zap.Error(err))
		return nil, status.Error(codes.Internal, "media lookup failed")
	}

	resp.Media = s.describe(rec)
	return resp, nil
}

func (s *Server) describe(rec *MediaRecord) *protocol.Media {
	fileID := protocol.EncodeLocation(protocol.Location{
		DatacenterID: int32(rec.DatacenterID),
		MediaID:      rec.MediaID,
		AccessHash:   s.signer.accessHash(rec.MediaID),
		Kind:         string(rec.Kind),
	})

	return &protocol.Media{
		Kind:            string(rec.Kind),
		FileID:          fileID,
		FileReference:   s.signer.reference(rec.MediaID, s.clock()),
		FileName:        rec.FileName,
		MimeType:        rec.MimeType,
		FileSize:        rec.Size,
		DurationSeconds: int32(rec.Duration / time.Second),
		Width:           int32(rec.Width),
		Height:          int32(rec.Height),
		Performer:       rec.Performer,
		Title:           rec.Title,
	}
}

func (s *Server) GetFile(ctx context.Context, req *protocol.GetFileRequest) (*protocol.GetFileResponse, error) {
	if req.Offset < 0 || req.Offset%readAlignment != 0 {
		return nil, status.Error(codes.InvalidArgument, "OFFSET_INVALID")
	}
	if req.Limit <= 0 || req.Limit%readAlignment != 0 || req.Limit > maxReadLimit || maxReadLimit%req.Limit != 0 {
		return nil, status.Error(codes.InvalidArgument, "LIMIT_INVALID")
	}

	if n := s.reads.Add(1); s.cfg.FloodEvery > 0 && n%s.cfg.FloodEvery == 0 {
		s.limited.Add(1)
		wait := s.cfg.FloodWait
		grpc.SetTrailer(ctx, metadata.Pairs(protocol.RetryAfterTrailer, strconv.FormatInt(wait.Milliseconds(), 10)))
		return nil, status.Errorf(codes.ResourceExhausted, "%s_%d", protocol.ReasonFloodWait, int64(wait.Seconds()))
	}

	loc := req.Location
	rec, err := s.store.Media(ctx, loc.MediaID)
	if errors.Is(err, ErrNoSuchObject) || (err == nil && s.signer.accessHash(loc.MediaID) != loc.AccessHash) {
		return nil, status.Error(codes.InvalidArgument, protocol.ReasonFileIDInvalid)
	}
	if err != nil {
		s.logger.Error("Failed to load media", zap.Int64("media_id", loc.MediaID), zap.Error(err))
		return nil, status.Error(codes.Internal, "media lookup failed")
	}

	if types.DatacenterID(rec.DatacenterID) != s.cfg.ID {
		return nil, status.Errorf(codes.FailedPrecondition, "%s_%d", protocol.ReasonFileMigrate, rec.DatacenterID)
	}
	if !s.signer.validReference(rec.MediaID, loc.FileReference, s.clock()) {
		return nil, status.Error(codes.FailedPrecondition, protocol.ReasonFileReferenceStale)
	}

	data, err := s.store.ReadMedia(ctx, rec, req.Offset, req.Limit)
	if err != nil {
		s.logger.Error("Failed to read media",
			zap.Int64("media_id", rec.MediaID),
			zap.Int64("offset", req.Offset),
			zap.Error(err))
		return nil, status.Error(codes.Internal, "media read failed")
	}

	return &protocol.GetFileResponse{Bytes: data}, nil
}
