package host

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/zmlAEQ/mpc-intake/pkg/logger"
)

// TransferRecord captures one scheduled native-token transfer (refunds).
type TransferRecord struct {
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
}

// TransferSink receives scheduled transfers. Implementations must return
// quickly; errors should be internalized.
type TransferSink interface {
	Publish(TransferRecord)
}

// noopSink is the default sink: no-op.
type noopSink struct{}

func (noopSink) Publish(TransferRecord) {}

// WebhookSink posts each TransferRecord to a configured endpoint. Delivery
// is best-effort: transport errors get one retry, a remote rejection does
// not (the record would be rejected again), and failures are logged and
// dropped.
type WebhookSink struct {
	URL     string
	Timeout time.Duration
}

const sinkAttempts = 2

func (w WebhookSink) Publish(rec TransferRecord) {
	if w.URL == "" {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		logger.ErrorJ("transfer_sink", map[string]any{"result": "marshal_error", "err": err.Error()})
		return
	}
	for attempt := 1; attempt <= sinkAttempts; attempt++ {
		code, err := w.post(payload)
		switch {
		case err != nil:
			logger.ErrorJ("transfer_sink", map[string]any{"result": "post_error", "attempt": attempt, "err": err.Error()})
		case code >= 400:
			logger.ErrorJ("transfer_sink", map[string]any{"result": "remote_error", "code": code})
			return
		default:
			logger.InfoJ("transfer_sink", map[string]any{"result": "ok", "code": code, "attempt": attempt})
			return
		}
	}
}

func (w WebhookSink) post(payload []byte) (int, error) {
	req, err := http.NewRequest(http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: w.timeout()}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (w WebhookSink) timeout() time.Duration {
	if w.Timeout > 0 {
		return w.Timeout
	}
	return 500 * time.Millisecond
}
