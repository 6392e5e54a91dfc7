package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sdko-org/opsedge/internal/activity"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func sampleRecord(id string) activity.LogRecord {
	return activity.LogRecord{
		ID:        id,
		Action:    activity.ActionView,
		Category:  activity.CategoryDevice,
		Resource:  "camera/12",
		ActorID:   "u-3",
		Status:    activity.StatusSuccess,
		Timestamp: time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC),
		Metadata:  map[string]any{"zone": "north"},
	}
}

func TestHTTPTransportPostsBatchAndSingle(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		paths []string
		batch batchBody
		one   activity.LogRecord
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		paths = append(paths, r.URL.Path)

		switch r.URL.Path {
		case "/v1/activity/batch":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
		case "/v1/activity":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&one))
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(quietLogger(), srv.URL+"/v1/activity/", time.Second)
	ctx := context.Background()

	require.NoError(t, tr.SendBatch(ctx, []activity.LogRecord{sampleRecord("a"), sampleRecord("b")}))
	require.NoError(t, tr.Send(ctx, sampleRecord("c")))
	require.NoError(t, tr.SendBatch(ctx, nil))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/v1/activity/batch", "/v1/activity"}, paths)
	require.Len(t, batch.Records, 2)
	assert.Equal(t, "b", batch.Records[1].ID)
	assert.Equal(t, "c", one.ID)
	assert.Equal(t, "north", one.Metadata["zone"])
}

func TestHTTPTransportReportsBadStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(quietLogger(), srv.URL, time.Second)
	err := tr.Send(context.Background(), sampleRecord("a"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.ErrorContains(t, err, "503")
}

func TestHTTPTransportHonoursContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	tr := NewHTTPTransport(quietLogger(), srv.URL, 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := tr.Send(ctx, sampleRecord("a"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type fakeWriter struct {
	msgs [][]kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaTransportBuildsKeyedMessages(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	tr := &KafkaTransport{writer: w, topic: "activity", log: quietLogger().WithField("component", "test")}

	require.NoError(t, tr.SendBatch(context.Background(), []activity.LogRecord{sampleRecord("a"), sampleRecord("b")}))
	require.NoError(t, tr.Send(context.Background(), sampleRecord("c")))

	require.Len(t, w.msgs, 2)
	require.Len(t, w.msgs[0], 2)
	assert.Equal(t, []byte("a"), w.msgs[0][0].Key)
	assert.Equal(t, []byte("c"), w.msgs[1][0].Key)

	var decoded activity.LogRecord
	require.NoError(t, json.Unmarshal(w.msgs[0][1].Value, &decoded))
	assert.Equal(t, "b", decoded.ID)
	assert.Equal(t, activity.CategoryDevice, decoded.Category)
	assert.Equal(t, "category", w.msgs[0][0].Headers[0].Key)
}

func TestKafkaTransportWrapsWriterError(t *testing.T) {
	t.Parallel()

	cause := errors.New("leader not available")
	tr := &KafkaTransport{writer: &fakeWriter{err: cause}, topic: "activity", log: quietLogger().WithField("component", "test")}

	err := tr.SendBatch(context.Background(), []activity.LogRecord{sampleRecord("a")})
	assert.ErrorIs(t, err, cause)
}

func TestNewKafkaTransportRequiresBrokers(t *testing.T) {
	t.Parallel()

	_, err := NewKafkaTransport(quietLogger(), KafkaConfig{Topic: "activity"})
	assert.ErrorContains(t, err, "brokers and topic are required")
}

func TestToActivityLog(t *testing.T) {
	t.Parallel()

	row, err := toActivityLog(sampleRecord("a"))
	require.NoError(t, err)
	assert.Equal(t, "a", row.ID)
	assert.Equal(t, "VIEW", row.Action)
	assert.Equal(t, "DEVICE", row.Category)
	assert.JSONEq(t, `{"zone":"north"}`, row.Metadata)

	bare := sampleRecord("b")
	bare.Metadata = nil
	row, err = toActivityLog(bare)
	require.NoError(t, err)
	assert.Equal(t, "{}", row.Metadata)
}
