package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"driftsync/internal/config"
	"driftsync/internal/models"

	"github.com/rs/zerolog"
)

// route maps an action kind onto a REST mutation.
type route struct {
	method string
	path   string
}

var defaultRoutes = map[string]route{
	models.KindCreateBooking: {http.MethodPost, "/bookings"},
	models.KindCancelBooking: {http.MethodPost, "/bookings/cancel"},
	models.KindCheckIn:       {http.MethodPost, "/checkins"},
	models.KindCheckOut:      {http.MethodPost, "/checkouts"},
	models.KindUpdateProfile: {http.MethodPut, "/profile"},
}

// HTTPExecutor replays actions as JSON requests against a REST backend.
// The action id travels as an idempotency key, matching the engine's
// at-least-once delivery contract.
type HTTPExecutor struct {
	baseURL string
	apiKey  string
	client  *http.Client
	routes  map[string]route
	logger  *zerolog.Logger
}

func NewHTTPExecutor(cfg config.ExecutorConfig, logger *zerolog.Logger) *HTTPExecutor {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = models.DefaultExecuteTimeout
	}
	return &HTTPExecutor{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		routes:  defaultRoutes,
		logger:  logger,
	}
}

func (e *HTTPExecutor) Execute(ctx context.Context, action *models.Action) models.Outcome {
	r, ok := e.routes[action.Kind]
	if !ok {
		return models.Terminal(fmt.Sprintf("no route for kind %q", action.Kind))
	}

	req, err := http.NewRequestWithContext(ctx, r.method, e.baseURL+r.path, bytes.NewReader(action.Payload))
	if err != nil {
		return models.Terminal(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", action.ID)
	if e.apiKey != "" {
		req.Header.Set("X-API-Key", e.apiKey)
	}

	started := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		// transport errors and timeouts are presumed recoverable
		return models.Transient(fmt.Sprintf("%s %s: %v", r.method, r.path, err))
	}
	defer resp.Body.Close()

	e.logger.Debug().
		Str("kind", action.Kind).
		Str("action_id", action.ID).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("executed action")

	return classify(resp)
}

func classify(resp *http.Response) models.Outcome {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return models.Success()
	}

	reason := fmt.Sprintf("server returned %d", resp.StatusCode)
	if snippet := readSnippet(resp.Body); snippet != "" {
		reason = fmt.Sprintf("%s: %s", reason, snippet)
	}

	switch {
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return models.Transient(reason)
	default:
		// 4xx-class business rejections will not succeed on retry
		return models.Terminal(reason)
	}
}

func readSnippet(r io.Reader) string {
	buf, err := io.ReadAll(io.LimitReader(r, 256))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(buf))
}
