package gateway

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"mediagate/pkg/types"
)

// ByteRange is an inclusive byte range requested by a client
type ByteRange struct {
	From  int64
	Until int64
}

// ParseRange interprets a Range header against an object of size bytes.
// It returns ok=false when the whole object should be served: no header,
// an empty object, or a multi-range request. Open-ended and suffix forms
// are resolved against size; an until beyond the end is left for the
// planner to clamp.
func ParseRange(header string, size int64) (r ByteRange, ok bool, err error) {
	header = strings.TrimSpace(header)
	if header == "" || size == 0 {
		return ByteRange{}, false, nil
	}

	rangeSet, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return ByteRange{}, false, fmt.Errorf("%w: unsupported range %q", types.ErrInvalidRange, header)
	}
	if strings.Contains(rangeSet, ",") {
		return ByteRange{}, false, nil
	}

	start, end, found := strings.Cut(strings.TrimSpace(rangeSet), "-")
	if !found {
		return ByteRange{}, false, fmt.Errorf("%w: malformed range %q", types.ErrInvalidRange, header)
	}
	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)

	if start == "" {
		// bytes=-n asks for the last n bytes
		n, err := parseBound(end, size)
		if err != nil || n <= 0 {
			return ByteRange{}, false, fmt.Errorf("%w: malformed suffix range %q", types.ErrInvalidRange, header)
		}
		if n > size {
			n = size
		}
		return ByteRange{From: size - n, Until: size - 1}, true, nil
	}

	from, err := strconv.ParseInt(start, 10, 64)
	if err != nil || from < 0 {
		return ByteRange{}, false, fmt.Errorf("%w: malformed range start %q", types.ErrInvalidRange, header)
	}

	until := size - 1
	if end != "" {
		until, err = parseBound(end, size-1)
		if err != nil || until < 0 {
			return ByteRange{}, false, fmt.Errorf("%w: malformed range end %q", types.ErrInvalidRange, header)
		}
	}

	return ByteRange{From: from, Until: until}, true, nil
}

// parseBound parses a decimal range bound. A bound too large for int64 is
// still a valid bound past the end of the object and becomes limit.
func parseBound(v string, limit int64) (int64, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if errors.Is(err, strconv.ErrRange) && isDigits(v) {
		return limit, nil
	}
	return n, err
}

func isDigits(v string) bool {
	if v == "" {
		return false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
