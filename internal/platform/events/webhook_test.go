package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hookServer struct {
	*httptest.Server
	calls   atomic.Int32
	failFor int32
	last    atomic.Value // http.Header
	body    atomic.Value // []byte
}

func newHookServer(t *testing.T, failFor int32) *hookServer {
	t.Helper()
	s := &hookServer{failFor: failFor}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := s.calls.Add(1)
		b, _ := io.ReadAll(r.Body)
		s.body.Store(b)
		s.last.Store(r.Header.Clone())
		if n <= s.failFor {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(s.Close)
	return s
}

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"id":"1"}`)
	sig := Sign(payload, "secret")
	assert.Len(t, sig, 64)
	assert.True(t, Verify(payload, "secret", "sha256="+sig))
	assert.False(t, Verify(payload, "other", "sha256="+sig))
	assert.False(t, Verify([]byte(`{"id":"2"}`), "secret", "sha256="+sig))
}

func TestWebhookPublisher_DeliversSigned(t *testing.T) {
	srv := newHookServer(t, 0)
	p := NewWebhookPublisher(WebhookConfig{URLs: []string{srv.URL}, Secret: "s3"}, zerolog.Nop())
	p.now = func() time.Time { return time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC) }

	e := New(PatientUpdated, uuid.New(), 2)
	e.ChangedFields = []string{"email"}
	require.NoError(t, p.Publish(context.Background(), e))

	h := srv.last.Load().(http.Header)
	body := srv.body.Load().([]byte)
	assert.Equal(t, "patient.updated", h.Get(EventTypeHeader))
	assert.Equal(t, e.ID, h.Get(EventIDHeader))
	assert.Equal(t, "2025-03-14T12:00:00Z", h.Get(TimestampHeader))
	assert.True(t, Verify(body, "s3", h.Get(SignatureHeader)))

	var got Event
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, e.PatientID, got.PatientID)
	assert.Equal(t, []string{"email"}, got.ChangedFields)
}

func TestWebhookPublisher_UnsignedWithoutSecret(t *testing.T) {
	srv := newHookServer(t, 0)
	p := NewWebhookPublisher(WebhookConfig{URLs: []string{srv.URL}}, zerolog.Nop())
	require.NoError(t, p.Publish(context.Background(), New(PatientCreated, uuid.New(), 0)))
	assert.Empty(t, srv.last.Load().(http.Header).Get(SignatureHeader))
}

func TestWebhookPublisher_RetriesServerErrors(t *testing.T) {
	srv := newHookServer(t, 2)
	p := NewWebhookPublisher(WebhookConfig{URLs: []string{srv.URL}, MaxRetries: 2}, zerolog.Nop())
	require.NoError(t, p.Publish(context.Background(), New(PatientDeleted, uuid.New(), 3)))
	assert.Equal(t, int32(3), srv.calls.Load())
}

func TestWebhookPublisher_ReportsEveryFailedURL(t *testing.T) {
	ok := newHookServer(t, 0)
	down := newHookServer(t, 100)
	p := NewWebhookPublisher(WebhookConfig{URLs: []string{down.URL, ok.URL}}, zerolog.Nop())

	err := p.Publish(context.Background(), New(PatientCreated, uuid.New(), 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.Equal(t, int32(1), ok.calls.Load(), "healthy endpoint still receives the event")
}

func TestFanout(t *testing.T) {
	a, b := &Recorder{}, &Recorder{Err: errors.New("down")}
	c := &Recorder{}
	f := Fanout{a, b, c}

	err := f.Publish(context.Background(), New(PatientCreated, uuid.New(), 0))
	assert.EqualError(t, err, "down")
	assert.Len(t, a.Events(), 1)
	assert.Len(t, c.Events(), 1)
	f.Close()
}
