package transport

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

type loggingRoundTripper struct {
	next http.RoundTripper
	log  *logrus.Entry
}

// NewLoggingRoundTripper wraps next (http.DefaultTransport when nil) and logs
// every outbound request at debug level, failures at error level.
func NewLoggingRoundTripper(log *logrus.Entry, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &loggingRoundTripper{next: next, log: log}
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	log := t.log.WithFields(logrus.Fields{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		log.WithError(err).Error("HTTP request failed")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"duration":    time.Since(start),
	}).Debug("HTTP request completed")
	return resp, nil
}
