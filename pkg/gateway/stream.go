package gateway

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"mediagate/pkg/storage"
	"mediagate/pkg/types"

	"go.uber.org/zap"
)

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseObjectID(r.PathValue("id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	ctx := r.Context()
	desc, meta, err := s.descriptors.Resolve(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.writeError(w, r, err)
		return
	}

	name := r.PathValue("name")
	if name == "" {
		name = meta.Name
	}

	rng, partial, err := ParseRange(r.Header.Get("Range"), meta.Size)
	if err != nil {
		s.rangeNotSatisfiable(w, meta.Size)
		return
	}

	var plan storage.RangePlan
	switch {
	case meta.Size == 0:
		plan = storage.RangePlan{ChunkSize: s.cfg.ChunkSize, End: -1}
	case partial:
		plan, err = storage.Plan(rng.From, rng.Until, meta.Size, s.cfg.ChunkSize)
	default:
		plan, err = storage.FullPlan(meta.Size, s.cfg.ChunkSize)
	}
	if err != nil {
		if errors.Is(err, types.ErrInvalidRange) {
			s.rangeNotSatisfiable(w, meta.Size)
			return
		}
		s.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	h := w.Header()
	h.Set("Content-Type", meta.MimeType)
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Length", strconv.FormatInt(plan.Length(), 10))
	h.Set("Content-Disposition", contentDisposition(r.URL.Query().Get("download") == "1", name))
	if meta.IsVideo() && s.cfg.CacheControlMaxAge > 0 {
		h.Set("Cache-Control", fmt.Sprintf("max-age=%d", s.cfg.CacheControlMaxAge))
	}
	if partial {
		status = http.StatusPartialContent
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", plan.Start, plan.End, meta.Size))
	}

	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}

	stream := s.fetcher.Open(desc, plan)

	// The status line is held back until the first chunk arrives so an
	// early failure can still be reported as an error response
	first, err := stream.Next(ctx)
	if err == io.EOF {
		w.WriteHeader(status)
		return
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		for _, key := range []string{"Content-Length", "Content-Range", "Content-Disposition", "Cache-Control"} {
			h.Del(key)
		}
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(first); err != nil {
		return
	}

	if _, err := stream.Copy(ctx, w); err != nil {
		if ctx.Err() != nil || !errors.Is(err, types.ErrFetch) {
			s.logger.Debug("Client went away mid-stream",
				zap.Stringer("object_id", id),
				zap.Int64("bytes_sent", stream.Delivered()),
				zap.Error(err))
			return
		}

		s.logger.Warn("Stream aborted after headers were sent",
			zap.String("request_id", RequestIDFromContext(ctx)),
			zap.Stringer("object_id", id),
			zap.Int64("bytes_sent", stream.Delivered()),
			zap.Int64("bytes_expected", plan.Length()),
			zap.Error(err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) rangeNotSatisfiable(w http.ResponseWriter, size int64) {
	w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
	code := http.StatusRequestedRangeNotSatisfiable
	http.Error(w, http.StatusText(code), code)
}

// contentDisposition renders the header, escaping names that are not
// plain ASCII
func contentDisposition(download bool, name string) string {
	disposition := "inline"
	if download {
		disposition = "attachment"
	}
	if v := mime.FormatMediaType(disposition, map[string]string{"filename": name}); v != "" {
		return v
	}
	return disposition
}
