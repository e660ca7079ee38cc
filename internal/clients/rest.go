package clients

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// maxUpstreamBody caps how much of an upstream response is read.
const maxUpstreamBody = 16 << 20

var (
	errUpstreamTimeout     = errors.New("upstream request timed out")
	errUpstreamUnreachable = errors.New("upstream unreachable")
	errCircuitOpen         = errors.New("circuit open")
)

// upstreamResponse is a fully read upstream HTTP response.
type upstreamResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// serverError marks a 5xx answer so the breaker counts it as a failure while
// the caller still gets the response.
type serverError struct {
	resp *upstreamResponse
}

func (e *serverError) Error() string {
	return fmt.Sprintf("upstream returned HTTP %d", e.resp.Status)
}

// restClient sends requests to one upstream HTTP API with a circuit breaker
// around every outbound call.
type restClient struct {
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	httpDo  func(req *http.Request) (*http.Response, error)
}

func newRESTClient(cb *gobreaker.CircuitBreaker, timeout time.Duration) restClient {
	return restClient{
		cb:      cb,
		timeout: timeout,
		httpDo:  http.DefaultClient.Do,
	}
}

// do sends req and reads the whole body. Transport failures come back as
// errUpstreamTimeout or errUpstreamUnreachable, an open breaker as
// errCircuitOpen. Any HTTP status is returned as a response, not an error.
func (c restClient) do(ctx context.Context, req *http.Request) (*upstreamResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req = req.WithContext(ctx)

	out, err := c.cb.Execute(func() (any, error) {
		resp, err := c.httpDo(req)
		if err != nil {
			return nil, classifyTransportError(err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
		if err != nil {
			return nil, classifyTransportError(err)
		}

		r := &upstreamResponse{Status: resp.StatusCode, Header: resp.Header, Body: body}
		if resp.StatusCode >= http.StatusInternalServerError {
			return r, &serverError{resp: r}
		}
		return r, nil
	})

	var srvErr *serverError
	switch {
	case err == nil:
		return out.(*upstreamResponse), nil
	case errors.As(err, &srvErr):
		return srvErr.resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
	default:
		return nil, err
	}
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", errUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %v", errUpstreamUnreachable, err)
}

// joinURL appends path to base, tolerating a trailing slash on base.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
