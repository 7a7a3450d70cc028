package unify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/client-sync/internal/model"
	"github.com/sells-group/client-sync/internal/resilience"
)

// ContinuationRequest is the internal self-invocation contract: the next
// chunk picks up from the carried cursor. The receiving endpoint
// acknowledges immediately and processes asynchronously.
type ContinuationRequest struct {
	RunID        string       `json:"runId"`
	Cursor       model.Cursor `json:"cursor"`
	ChunkNumber  int          `json:"chunkNumber"`
	Continuation bool         `json:"continuation"`
}

// Invoker chains the next chunk of a run. Implementations must only wait for
// the acknowledgment, never for the chunk itself.
type Invoker interface {
	Invoke(ctx context.Context, req ContinuationRequest) error
}

// HTTPInvoker posts continuation requests to the engine's own continuation
// endpoint with bounded retry and exponential backoff.
type HTTPInvoker struct {
	url    string
	client *http.Client
	retry  resilience.RetryConfig
}

// NewHTTPInvoker creates an HTTPInvoker targeting the given continuation
// URL.
func NewHTTPInvoker(url string) *HTTPInvoker {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("unify.continuation", "invoke")
	return &HTTPInvoker{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  retry,
	}
}

// Invoke posts the continuation request. It returns once the next chunk is
// acknowledged (2xx); it does not wait for the chunk to run.
func (h *HTTPInvoker) Invoke(ctx context.Context, req ContinuationRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return eris.Wrap(err, "continuation: encode request")
	}

	return resilience.Do(ctx, h.retry, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
		if err != nil {
			return eris.Wrap(err, "continuation: build request")
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := h.client.Do(httpReq)
		if err != nil {
			return resilience.NewTransientError(
				eris.Wrapf(err, "continuation: POST %s", h.url), 0)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			err := eris.Errorf("continuation: POST %s returned %d", h.url, resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(err, resp.StatusCode)
			}
			return err
		}
		return nil
	})
}
