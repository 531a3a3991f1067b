package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	HeaderRequestID    = "X-Request-ID"
	contentTypeJSON    = "application/json"
	contentTypeForm    = "application/x-www-form-urlencoded"
	defaultHTTPTimeout = 15 * time.Second
)

// RequestOptions configures a single Gateway call.
type RequestOptions struct {
	// Method defaults to GET.
	Method string
	Header http.Header
	// Body is JSON encoded unless it is an io.Reader, []byte, string,
	// json.RawMessage or url.Values.
	Body any
}

// Response is the successful outcome of a Gateway call.
type Response struct {
	Status int
	Header http.Header
	// Body is nil when NoContent is true.
	Body      json.RawMessage
	NoContent bool
}

// Decode unmarshals the body into out. It is a no-op for NoContent.
func (r *Response) Decode(out any) error {
	if r == nil || r.NoContent {
		return nil
	}
	return json.Unmarshal(r.Body, out)
}

// Gateway performs authenticated JSON calls against the backend API. It makes
// exactly one attempt per call.
type Gateway struct {
	baseURL        string
	httpClient     *http.Client
	logger         Logger
	loggerProvider LoggerProvider
	metrics        MetricsCollector
	requestIDs     func() string
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithGatewayHTTPClient overrides the HTTP client.
func WithGatewayHTTPClient(client *http.Client) GatewayOption {
	return func(g *Gateway) {
		if client != nil {
			g.httpClient = client
		}
	}
}

// WithGatewayLogger sets the logger.
func WithGatewayLogger(logger Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGatewayLoggerProvider sets the logger provider.
func WithGatewayLoggerProvider(provider LoggerProvider) GatewayOption {
	return func(g *Gateway) {
		if provider != nil {
			g.loggerProvider = provider
		}
	}
}

// WithGatewayMetrics sets the metrics collector.
func WithGatewayMetrics(metrics MetricsCollector) GatewayOption {
	return func(g *Gateway) {
		if metrics != nil {
			g.metrics = metrics
		}
	}
}

// WithGatewayRequestIDs overrides the request id generator.
func WithGatewayRequestIDs(fn func() string) GatewayOption {
	return func(g *Gateway) {
		if fn != nil {
			g.requestIDs = fn
		}
	}
}

// NewGateway creates a Gateway rooted at baseURL (origin plus API base path).
func NewGateway(baseURL string, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		requestIDs: uuid.NewString,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	g.loggerProvider, g.logger = ResolveLogger("authclient.gateway", g.loggerProvider, g.logger)
	g.metrics = normalizeMetrics(g.metrics)

	return g
}

// BaseURL returns the root every path is appended to.
func (g *Gateway) BaseURL() string {
	return g.baseURL
}

// Do performs a single request. An empty credential sends no Authorization
// header. Non-2xx statuses, transport failures and unparseable 2xx payloads
// are returned as *RequestError.
func (g *Gateway) Do(ctx context.Context, path, credential string, opts RequestOptions) (*Response, error) {
	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method == "" {
		method = http.MethodGet
	}

	header := http.Header{}
	for key, values := range opts.Header {
		for _, v := range values {
			header.Add(key, v)
		}
	}

	body, contentType, err := encodeBody(opts.Body)
	if err != nil {
		g.metrics.RecordRequestFailure(method, KindEncode)
		return nil, &RequestError{Kind: KindEncode, Method: method, Path: path, Err: err}
	}
	if contentType != "" && header.Get("Content-Type") == "" {
		header.Set("Content-Type", contentType)
	}
	if header.Get("Accept") == "" {
		header.Set("Accept", contentTypeJSON)
	}
	if header.Get(HeaderRequestID) == "" {
		header.Set(HeaderRequestID, g.requestIDs())
	}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		g.metrics.RecordRequestFailure(method, KindEncode)
		return nil, &RequestError{Kind: KindEncode, Method: method, Path: path, Err: err}
	}
	req.Header = header

	started := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.metrics.RecordRequestFailure(method, KindNetwork)
		g.logger.Warn("backend unreachable",
			"method", method,
			"path", path,
			"request_id", header.Get(HeaderRequestID),
			"error", err,
		)
		return nil, &RequestError{Kind: KindNetwork, Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	payload, readErr := io.ReadAll(resp.Body)
	elapsed := time.Since(started)

	g.metrics.RecordRequest(method, resp.StatusCode, elapsed)
	g.logger.Debug("backend request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", elapsed,
		"request_id", header.Get(HeaderRequestID),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reqErr := &RequestError{
			Kind:    KindHTTP,
			Method:  method,
			Path:    path,
			Status:  resp.StatusCode,
			Message: errorMessage(resp.StatusCode, payload),
		}
		g.metrics.RecordRequestFailure(method, KindHTTP)
		return nil, reqErr
	}

	if readErr != nil {
		g.metrics.RecordRequestFailure(method, KindNetwork)
		return nil, &RequestError{Kind: KindNetwork, Method: method, Path: path, Status: resp.StatusCode, Err: readErr}
	}

	out := &Response{Status: resp.StatusCode, Header: resp.Header}
	if resp.StatusCode == http.StatusNoContent || resp.ContentLength == 0 || len(bytes.TrimSpace(payload)) == 0 {
		out.NoContent = true
		return out, nil
	}

	if !json.Valid(payload) {
		g.metrics.RecordRequestFailure(method, KindDecode)
		return nil, &RequestError{
			Kind:   KindDecode,
			Method: method,
			Path:   path,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("invalid JSON payload (%d bytes)", len(payload)),
		}
	}

	out.Body = json.RawMessage(payload)
	return out, nil
}

// CallJSON performs a request and decodes the body into T. A no-content
// response yields nil, nil.
func CallJSON[T any](ctx context.Context, g *Gateway, path, credential string, opts RequestOptions) (*T, error) {
	resp, err := g.Do(ctx, path, credential, opts)
	if err != nil {
		return nil, err
	}
	if resp.NoContent {
		return nil, nil
	}

	out := new(T)
	if err := resp.Decode(out); err != nil {
		method := opts.Method
		if method == "" {
			method = http.MethodGet
		}
		return nil, &RequestError{Kind: KindDecode, Method: strings.ToUpper(method), Path: path, Status: resp.Status, Err: err}
	}
	return out, nil
}

func encodeBody(body any) (io.Reader, string, error) {
	switch v := body.(type) {
	case nil:
		return nil, "", nil
	case io.Reader:
		return v, "", nil
	case json.RawMessage:
		return bytes.NewReader(v), contentTypeJSON, nil
	case []byte:
		return bytes.NewReader(v), "", nil
	case string:
		return strings.NewReader(v), "", nil
	case url.Values:
		return strings.NewReader(v.Encode()), contentTypeForm, nil
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, "", err
	}
	return bytes.NewReader(encoded), contentTypeJSON, nil
}

type apiErrorBody struct {
	Message string `json:"message"`
	Error   any    `json:"error"`
}

func errorMessage(status int, payload []byte) string {
	var body apiErrorBody
	if len(payload) > 0 && json.Unmarshal(payload, &body) == nil {
		if msg := strings.TrimSpace(body.Message); msg != "" {
			return msg
		}
		if msg, ok := body.Error.(string); ok && strings.TrimSpace(msg) != "" {
			return strings.TrimSpace(msg)
		}
	}
	return fmt.Sprintf("API Error: %d %s", status, http.StatusText(status))
}
