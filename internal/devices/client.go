package devices

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sdko-org/opsedge/internal/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var ErrDeviceNotFound = errors.New("devices: device not found")

const maxStatusBytes = 4 << 20

// Client fetches live status from the device gateway. Devices are slow, so
// outbound calls go through a shared rate limiter.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	log        *logrus.Entry
}

func NewClient(logger *logrus.Logger, baseURL string, perSecond float64, timeout time.Duration) *Client {
	if perSecond <= 0 {
		perSecond = 5
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport.NewLoggingRoundTripper(logger.WithField("component", "device_transport"), nil),
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		log:     logger.WithField("component", "device_client"),
	}
}

// FetchStatus returns the raw status document for deviceID.
func (c *Client) FetchStatus(ctx context.Context, deviceID string) ([]byte, error) {
	start := time.Now()
	log := c.log.WithFields(logrus.Fields{
		"operation": "fetch_status",
		"device":    deviceID,
	})

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("device rate limit wait: %w", err)
	}

	statusURL := fmt.Sprintf("%s/devices/%s/status", c.baseURL, url.PathEscape(deviceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "opsedge/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Error("Status request failed")
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	case resp.StatusCode != http.StatusOK:
		log.WithField("status_code", resp.StatusCode).Error("Device gateway returned an error")
		return nil, fmt.Errorf("device status failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBytes))
	if err != nil {
		return nil, fmt.Errorf("read device status: %w", err)
	}

	log.WithFields(logrus.Fields{
		"duration": time.Since(start),
		"bytes":    len(body),
	}).Debug("Fetched device status")
	return body, nil
}
