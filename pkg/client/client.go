// Package client provides a client for the experiment-tracking service.
// It speaks the service's GraphQL API over HTTP and converts responses into
// sweepcollect types.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/jamesainslie/sweepcollect/pkg/collect/logging"
)

var (
	// ErrCommunication wraps every transport, HTTP status, or GraphQL
	// error returned by the service.
	ErrCommunication = errors.New("communication with tracking service failed")

	// ErrUnauthorized is returned when the service rejects the API key.
	ErrUnauthorized = errors.New("unauthorized: check the API key")

	// ErrSweepNotFound is returned when the project or sweep does not exist.
	ErrSweepNotFound = errors.New("sweep not found")

	// ErrRunNotFound is returned when a run disappears between listing and
	// fetching its history.
	ErrRunNotFound = errors.New("run not found")

	// ErrMissingAPIKey is returned by New when no API key is configured.
	ErrMissingAPIKey = errors.New("no API key configured")
)

const (
	defaultBaseURL  = "https://api.wandb.ai"
	defaultTimeout  = 60 * time.Second
	defaultPageSize = 50
	userAgent       = "sweepcollect"

	// maxErrorBody bounds how much of a failed response is quoted in errors.
	maxErrorBody = 256
)

var log = logging.Get("client")

// Options configures a Client.
type Options struct {
	// BaseURL is the service endpoint; "/graphql" is appended.
	BaseURL string

	// APIKey authenticates every request.
	APIKey string

	// Timeout bounds each request.
	Timeout time.Duration

	// PageSize is how many runs are requested per page.
	PageSize int
}

// Client talks to the tracking service GraphQL API.
// A Client is safe for sequential use by one collection; create one per
// invocation and Close it when done.
type Client struct {
	http     *fasthttp.Client
	endpoint string
	auth     string
	timeout  time.Duration
	pageSize int
}

// New creates a client for the service described by opts.
func New(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("invalid base URL %q: missing http:// or https://", opts.BaseURL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	return &Client{
		http: &fasthttp.Client{
			Name:                userAgent,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 30 * time.Second,
		},
		endpoint: baseURL + "/graphql",
		auth:     "Basic " + base64.StdEncoding.EncodeToString([]byte("api:"+opts.APIKey)),
		timeout:  timeout,
		pageSize: pageSize,
	}, nil
}

// Close releases idle connections held by the client.
func (c *Client) Close() error {
	if c.http != nil {
		c.http.CloseIdleConnections()
	}
	return nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// query posts a GraphQL operation and decodes its data field into out.
func (c *Client) query(ctx context.Context, op, query string, vars map[string]any, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", op, err)
	}

	req := fasthttp.AcquireRequest()
	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(res)

	req.SetRequestURI(c.endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set(fasthttp.HeaderAuthorization, c.auth)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	req.SetBody(body)

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	start := time.Now()
	if err := c.http.DoDeadline(req, res, deadline); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s: %w", ErrCommunication, op, err)
	}
	log.Debug("graphql request", "op", op, "status", res.StatusCode(), "duration", time.Since(start))

	switch status := res.StatusCode(); {
	case status == fasthttp.StatusUnauthorized || status == fasthttp.StatusForbidden:
		return fmt.Errorf("%w: %s: %w", ErrCommunication, op, ErrUnauthorized)
	case status != fasthttp.StatusOK:
		return fmt.Errorf("%w: %s: unexpected status %d: %s",
			ErrCommunication, op, status, snippet(res.Body()))
	}

	var envelope graphQLResponse
	if err := json.Unmarshal(res.Body(), &envelope); err != nil {
		return fmt.Errorf("%w: %s: decoding response: %w", ErrCommunication, op, err)
	}
	if len(envelope.Errors) > 0 {
		msgs := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			msgs = append(msgs, e.Message)
		}
		return fmt.Errorf("%w: %s: %s", ErrCommunication, op, strings.Join(msgs, "; "))
	}
	if len(envelope.Data) == 0 || bytes.Equal(envelope.Data, []byte("null")) {
		return fmt.Errorf("%w: %s: empty response", ErrCommunication, op)
	}

	dec := json.NewDecoder(bytes.NewReader(envelope.Data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decoding data: %w", ErrCommunication, op, err)
	}
	return nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	return s
}
