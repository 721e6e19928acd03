package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/markdave123-py/contexta-ingest/internal/core"
)

// statusCodePattern finds the HTTP status in messages such as
// "API returned unexpected status code: 503" (OpenAI-compatible client) or "Error 429:".
var statusCodePattern = regexp.MustCompile(`(?i)\b(?:status(?:\s+code)?|error|http)\s*:?\s*(\d{3})\b`)

// transientMarkers are phrases providers use for rate limiting and temporary outages.
var transientMarkers = []string{
	"resource_exhausted",
	"rate limit",
	"too many requests",
	"service unavailable",
	"deadline_exceeded",
}

// classify wraps err with core.ErrProviderUnavailable when it looks transient.
func classify(err error) error {
	if err == nil || errors.Is(err, core.ErrProviderUnavailable) {
		return err
	}
	if IsTransient(err) {
		return fmt.Errorf("%w: %w", core.ErrProviderUnavailable, err)
	}
	return err
}

// IsTransient reports whether err is worth retrying: timeouts, rate limits and 5xx responses.
// Structured codes win over message text.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return transientHTTP(apiErr.Code)
	}

	var gaxErr *apierror.APIError
	if errors.As(err, &gaxErr) {
		if code := gaxErr.HTTPCode(); code > 0 {
			return transientHTTP(code)
		}
		return transientGRPC(gaxErr.GRPCStatus().Code())
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return transientGRPC(st.Code())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := err.Error()
	if m := statusCodePattern.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		return transientHTTP(code)
	}

	msg = strings.ToLower(msg)
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func transientHTTP(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func transientGRPC(code codes.Code) bool {
	switch code {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
		return true
	default:
		return false
	}
}
