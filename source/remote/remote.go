// Package remote provides a catalog source that queries another catalogflow
// node over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/BaSui01/catalogflow/catalog"
	"github.com/BaSui01/catalogflow/internal/tlsutil"
	"github.com/BaSui01/catalogflow/types"
)

// Kind is the source kind reported in descriptors.
const Kind = "remote"

const (
	// LocalQueryPath is the peer endpoint that answers from its local source only.
	LocalQueryPath = "/api/v1/query/local"
	// HealthPath is probed by IsAvailable.
	HealthPath = "/health"
	// DefaultTimeout applies when Config.Timeout is not set.
	DefaultTimeout   = 30 * time.Second
	maxResponseBytes = 32 << 20
)

// Config configures a remote source.
type Config struct {
	ID      string
	Title   string
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Source queries a peer node.
type Source struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// envelope mirrors the API response wrapper.
type envelope struct {
	Success bool                    `json:"success"`
	Data    *catalog.SourceResponse `json:"data,omitempty"`
	Error   *struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable,omitempty"`
	} `json:"error,omitempty"`
}

// New creates a remote source. A nil client gets a TLS-hardened client with
// cfg.Timeout.
func New(cfg Config, client *http.Client, logger *zap.Logger) (*Source, error) {
	if cfg.ID == "" {
		return nil, errors.New("remote source id is required")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("remote source %s: url is required", cfg.ID)
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if client == nil {
		client = tlsutil.SecureHTTPClient(cfg.Timeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		cfg:    cfg,
		client: client,
		logger: logger.With(zap.String("component", "remote_source"), zap.String("source_id", cfg.ID)),
	}, nil
}

// ID returns the source id.
func (s *Source) ID() string { return s.cfg.ID }

// Describe implements catalog.Describer.
func (s *Source) Describe() catalog.SourceDescriptor {
	return catalog.SourceDescriptor{
		ID:          s.cfg.ID,
		Kind:        Kind,
		Title:       s.cfg.Title,
		Description: "catalogflow peer at " + s.cfg.URL,
	}
}

// IsAvailable probes the peer's health endpoint.
func (s *Source) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL+HealthPath, nil)
	if err != nil {
		return false
	}
	s.setHeaders(ctx, req)
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debug("health probe failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode == http.StatusOK
}

// Query forwards the query to the peer. Results are attributed to this source.
func (s *Source) Query(ctx context.Context, req *catalog.QueryRequest) (*catalog.SourceResponse, error) {
	if req == nil {
		return nil, types.NewInvalidRequestError("query request is required")
	}
	forward := req.WithQuery(req.Query)
	forward.SourceIDs = nil
	forward.Enterprise = false

	body, err := json.Marshal(forward)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL+LocalQueryPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	s.setHeaders(ctx, httpReq)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, types.NewSourceUnavailableError(s.cfg.ID).WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, types.NewError(types.ErrSourceQueryFailed, "failed to read response").
			WithCause(err).
			WithSource(s.cfg.ID)
	}

	var env envelope
	decodeErr := json.Unmarshal(data, &env)
	if resp.StatusCode >= 400 || (decodeErr == nil && !env.Success) {
		return nil, s.mapError(resp.StatusCode, env, data)
	}
	if decodeErr != nil || env.Data == nil {
		return nil, types.NewError(types.ErrSourceQueryFailed, "malformed response from peer").
			WithCause(decodeErr).
			WithSource(s.cfg.ID)
	}

	out := env.Data
	for i := range out.Results {
		if out.Results[i].Metacard != nil {
			out.Results[i].Metacard.SourceID = s.cfg.ID
		}
	}
	s.logger.Debug("remote query completed",
		zap.Int("results", len(out.Results)),
		zap.Int64("hits", out.Hits))
	return out, nil
}

func (s *Source) setHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", s.cfg.APIKey)
	}
	if id, ok := types.RequestID(ctx); ok {
		req.Header.Set("X-Request-ID", id)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// maxPeerMessage caps, in bytes, how much of a peer's error text is kept.
const maxPeerMessage = 512

// truncateMessage cuts msg to at most max bytes without splitting a rune.
// Invalid UTF-8 from the peer is replaced first.
func truncateMessage(msg string, max int) string {
	msg = strings.ToValidUTF8(msg, "\uFFFD")
	if len(msg) <= max {
		return msg
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

// mapError converts a peer failure into a types.Error.
func (s *Source) mapError(status int, env envelope, raw []byte) *types.Error {
	msg := strings.TrimSpace(string(raw))
	if env.Error != nil && env.Error.Message != "" {
		msg = env.Error.Message
	}
	msg = truncateMessage(msg, maxPeerMessage)

	code := types.ErrSourceQueryFailed
	retryable := status >= 500
	switch status {
	case http.StatusUnauthorized:
		code = types.ErrUnauthorized
	case http.StatusForbidden:
		code = types.ErrForbidden
	case http.StatusTooManyRequests:
		code = types.ErrRateLimited
		retryable = true
	case http.StatusBadRequest:
		code = types.ErrInvalidRequest
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		code = types.ErrSourceUnavailable
	case http.StatusGatewayTimeout:
		code = types.ErrTimeout
	}
	if status < http.StatusBadRequest {
		status = http.StatusBadGateway
	}
	return types.NewError(code, fmt.Sprintf("peer %s: %s", s.cfg.ID, msg)).
		WithHTTPStatus(status).
		WithRetryable(retryable).
		WithSource(s.cfg.ID)
}
