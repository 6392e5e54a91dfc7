package transport

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

	"github.com/sdko-org/opsedge/internal/activity"
	"github.com/sirupsen/logrus"
)

var ErrUnexpectedStatus = errors.New("transport: unexpected status")

type batchBody struct {
	Records []activity.LogRecord `json:"records"`
}

// HTTPTransport posts records as JSON to the audit backend: single records to
// the endpoint itself, batches to <endpoint>/batch.
type HTTPTransport struct {
	client   *http.Client
	endpoint string
	log      *logrus.Entry
}

var _ activity.Transport = (*HTTPTransport)(nil)

func NewHTTPTransport(logger *logrus.Logger, endpoint string, timeout time.Duration) *HTTPTransport {
	log := logger.WithField("component", "activity_http_transport")
	return &HTTPTransport{
		client: &http.Client{
			Timeout:   timeout,
			Transport: NewLoggingRoundTripper(log, nil),
		},
		endpoint: strings.TrimRight(endpoint, "/"),
		log:      log,
	}
}

func (t *HTTPTransport) SendBatch(ctx context.Context, records []activity.LogRecord) error {
	if len(records) == 0 {
		return nil
	}
	return t.post(ctx, t.endpoint+"/batch", batchBody{Records: records})
}

func (t *HTTPTransport) Send(ctx context.Context, record activity.LogRecord) error {
	return t.post(ctx, t.endpoint, record)
}

func (t *HTTPTransport) post(ctx context.Context, url string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode activity payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build activity request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "opsedge/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post activity: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d from %s", ErrUnexpectedStatus, resp.StatusCode, url)
	}
	return nil
}
