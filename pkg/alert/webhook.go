// Package alert notifies an external webhook that a crawl pass completed,
// so it can process any alert rules that depend on fresh liveness data.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// requestTimeout bounds the webhook call; the pass must not be held open
// indefinitely by a slow or wedged endpoint.
const requestTimeout = 60 * time.Second

// Notifier posts a check-minutes hint to a configured alert-processing
// endpoint after a pass completes. A non-2xx response is logged; it never
// aborts the pass and is never retried within the pass per the error
// handling policy for sink failures.
type Notifier struct {
	URL        string
	BearerAuth string
	Client     *http.Client
	Logger     *zap.Logger
}

// NewNotifier builds a Notifier. An empty url makes Notify a no-op.
func NewNotifier(url, bearerAuth string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		URL:        url,
		BearerAuth: bearerAuth,
		Client:     &http.Client{Timeout: requestTimeout},
		Logger:     logger,
	}
}

type checkRequest struct {
	CheckMinutes int `json:"checkMinutes"`
}

// Notify posts {"checkMinutes": checkMinutes} to the configured URL. A
// failure is logged and swallowed, never returned, matching the sink-error
// policy: persistence and webhook failures never abort the pass.
func (n *Notifier) Notify(ctx context.Context, checkMinutes int) {
	if n.URL == "" {
		return
	}

	body, err := json.Marshal(checkRequest{CheckMinutes: checkMinutes})
	if err != nil {
		n.Logger.Error("failed to marshal alert webhook body", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		n.Logger.Error("failed to build alert webhook request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if n.BearerAuth != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", n.BearerAuth))
	}

	resp, err := n.Client.Do(req)
	if err != nil {
		n.Logger.Warn("alert webhook request failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.Logger.Warn("alert webhook returned non-2xx", zap.Int("status", resp.StatusCode))
	}
}
