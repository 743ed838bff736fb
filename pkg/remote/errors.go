package remote

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mediagate/pkg/protocol"
	"mediagate/pkg/types"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// DefaultRateLimitWait applies when a rate-limited reply carries no wait
const DefaultRateLimitWait = time.Second

var errRevoked = errors.New("session revoked")

// classify maps a gRPC failure onto the gateway's error kinds. No gRPC
// status escapes this package.
func classify(err error, trailer metadata.MD) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	msg := st.Message()

	switch st.Code() {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	case codes.NotFound:
		return fmt.Errorf("%w: %s", types.ErrNotFound, msg)
	case codes.ResourceExhausted:
		return &types.RateLimitError{Wait: retryAfter(trailer, msg)}
	case codes.FailedPrecondition:
		if strings.Contains(msg, protocol.ReasonFileReferenceStale) {
			return fmt.Errorf("%w: %s", types.ErrStaleReference, msg)
		}
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %w: %s", types.ErrSession, errRevoked, msg)
	}

	return fmt.Errorf("remote %s: %s", strings.ToLower(st.Code().String()), msg)
}

func isRevoked(err error) bool {
	return errors.Is(err, errRevoked)
}

// retryAfter reads the requested wait from the trailer, falling back to a
// FLOOD_WAIT_<seconds> reason in the status message.
func retryAfter(trailer metadata.MD, msg string) time.Duration {
	if values := trailer.Get(protocol.RetryAfterTrailer); len(values) > 0 {
		if ms, err := strconv.ParseInt(values[0], 10, 64); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}

	if i := strings.Index(msg, protocol.ReasonFloodWait+"_"); i >= 0 {
		rest := msg[i+len(protocol.ReasonFloodWait)+1:]
		end := 0
		for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
			end++
		}
		if secs, err := strconv.Atoi(rest[:end]); err == nil {
			return time.Duration(secs) * time.Second
		}
	}

	return DefaultRateLimitWait
}
