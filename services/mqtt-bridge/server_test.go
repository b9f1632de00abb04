package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/round-cube/parking-gate/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic   string
	payload string
}

type fakePublisher struct {
	connected bool
	err       error
	messages  []published
}

func (f *fakePublisher) Publish(topic string, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, published{topic, string(payload)})
	return nil
}

func (f *fakePublisher) IsConnected() bool { return f.connected }

type fakeMirror struct {
	messages []published
}

func (f *fakeMirror) Publish(topic string, body []byte) error {
	f.messages = append(f.messages, published{topic, string(body)})
	return nil
}

var fixedNow = time.Date(2024, 5, 1, 9, 30, 0, 0, time.Local)

func newTestBridge(pub *fakePublisher) *Bridge {
	return &Bridge{
		Publisher:    pub,
		DefaultTopic: "parking/0001/camera",
		Now:          func() time.Time { return fixedNow },
	}
}

func newDedupBridge(pub *fakePublisher) *Bridge {
	dedup := NewMemoryDeduplicator(3 * time.Minute)
	dedup.now = func() time.Time { return fixedNow }
	b := newTestBridge(pub)
	b.Dedup = dedup
	return b
}

func postForm(t *testing.T, h http.Handler, path, message string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	form := url.Values{}
	if message != "" {
		form.Set("message", message)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return rr, out
}

func exitMessage(t *testing.T, plate string, ts time.Time) string {
	t.Helper()
	e := shared.NewTestExit("test-exit-id4", plate, func() time.Time { return ts })
	body, err := json.Marshal(e)
	require.NoError(t, err)
	return string(body)
}

func TestPublish_DefaultTopic(t *testing.T) {
	pub := &fakePublisher{connected: true}
	b := newTestBridge(pub)
	mirror := &fakeMirror{}
	b.Mirror = mirror
	msg := exitMessage(t, "TEST-ID4", fixedNow)

	rr, out := postForm(t, b.Routes(), "/mqtt/publish", msg)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "message published", out["message"])
	assert.Equal(t, msg, out["content"])
	assert.Equal(t, "2024-05-01 09:30:00", out["timestamp"])
	assert.NotContains(t, out, "topic")
	require.Len(t, pub.messages, 1)
	assert.Equal(t, published{"parking/0001/camera", msg}, pub.messages[0])
	assert.Equal(t, pub.messages, mirror.messages)
}

func TestPublish_ExplicitTopic(t *testing.T) {
	pub := &fakePublisher{connected: true}
	b := newTestBridge(pub)

	rr, out := postForm(t, b.Routes(), "/mqtt/publish/gate-2", "hello")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "gate-2", out["topic"])
	require.Len(t, pub.messages, 1)
	assert.Equal(t, "gate-2", pub.messages[0].topic)
}

func TestPublish_MissingMessage(t *testing.T) {
	pub := &fakePublisher{connected: true}
	b := newTestBridge(pub)

	rr, out := postForm(t, b.Routes(), "/mqtt/publish", "")

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, false, out["success"])
	assert.Empty(t, pub.messages)
}

func TestPublish_BrokerFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("mqtt client not connected")}
	b := newTestBridge(pub)
	mirror := &fakeMirror{}
	b.Mirror = mirror

	rr, out := postForm(t, b.Routes(), "/mqtt/publish", "hello")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "publish failed: mqtt client not connected", out["message"])
	assert.Empty(t, mirror.messages)
}

func TestPublish_RepeatedExitForwardedByDefault(t *testing.T) {
	pub := &fakePublisher{connected: true}
	h := newTestBridge(pub).Routes()
	msg := exitMessage(t, "TEST-ID4", fixedNow)

	_, first := postForm(t, h, "/mqtt/publish", msg)
	_, second := postForm(t, h, "/mqtt/publish", msg)

	assert.Equal(t, true, first["success"])
	assert.Equal(t, true, second["success"])
	assert.Len(t, pub.messages, 2)
}

func TestPublish_RetryAfterBrokerFailure(t *testing.T) {
	pub := &fakePublisher{connected: true, err: errors.New("broker down")}
	h := newDedupBridge(pub).Routes()

	_, failed := postForm(t, h, "/mqtt/publish", exitMessage(t, "TEST-ID4", fixedNow))
	require.Equal(t, false, failed["success"])
	require.Empty(t, pub.messages)

	pub.err = nil
	_, retry := postForm(t, h, "/mqtt/publish", exitMessage(t, "TEST-ID4", fixedNow.Add(10*time.Second)))

	assert.Equal(t, true, retry["success"])
	assert.Len(t, pub.messages, 1)
}

func TestPublish_DuplicateExitIgnored(t *testing.T) {
	pub := &fakePublisher{connected: true}
	h := newDedupBridge(pub).Routes()

	_, first := postForm(t, h, "/mqtt/publish", exitMessage(t, "TEST-ID4", fixedNow))
	_, second := postForm(t, h, "/mqtt/publish", exitMessage(t, "TESTID4", fixedNow.Add(time.Minute)))
	_, third := postForm(t, h, "/mqtt/publish", exitMessage(t, "TEST-ID4", fixedNow.Add(4*time.Minute)))

	assert.Equal(t, true, first["success"])
	assert.Equal(t, false, second["success"])
	assert.Equal(t, "duplicate message ignored", second["message"])
	assert.Equal(t, true, third["success"])
	assert.Len(t, pub.messages, 2)
}

func TestPublish_SameVehicleDifferentTopicNotDuplicate(t *testing.T) {
	pub := &fakePublisher{connected: true}
	h := newDedupBridge(pub).Routes()
	msg := exitMessage(t, "TEST-ID4", fixedNow)

	postForm(t, h, "/mqtt/publish/lot-a", msg)
	_, out := postForm(t, h, "/mqtt/publish/lot-b", msg)

	assert.Equal(t, true, out["success"])
	assert.Len(t, pub.messages, 2)
}

func TestPublish_PlainTextNeverDeduplicated(t *testing.T) {
	pub := &fakePublisher{connected: true}
	h := newDedupBridge(pub).Routes()

	postForm(t, h, "/mqtt/publish", "ping")
	postForm(t, h, "/mqtt/publish", "ping")

	assert.Len(t, pub.messages, 2)
}

func TestStatus(t *testing.T) {
	for _, tc := range []struct {
		connected bool
		status    string
	}{{true, "connected"}, {false, "disconnected"}} {
		b := newTestBridge(&fakePublisher{connected: tc.connected})
		rr := httptest.NewRecorder()
		b.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/mqtt/status", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		var out map[string]any
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
		assert.Equal(t, tc.connected, out["connected"])
		assert.Equal(t, tc.status, out["status"])
	}
}

func TestTestMessage(t *testing.T) {
	pub := &fakePublisher{connected: true}
	b := newTestBridge(pub)
	rr := httptest.NewRecorder()
	b.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/mqtt/test", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, pub.messages, 1)
	assert.Equal(t, "parking/0001/camera", pub.messages[0].topic)
	assert.Equal(t, "test message - time: 2024-05-01 09:30:00", pub.messages[0].payload)
}

func TestPublish_WrongMethod(t *testing.T) {
	b := newTestBridge(&fakePublisher{connected: true})
	rr := httptest.NewRecorder()
	b.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/mqtt/publish", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestNewDeduplicator(t *testing.T) {
	d, closeFn, err := newDeduplicator(Settings{dedupWindowS: 180})
	require.NoError(t, err)
	closeFn()
	assert.Nil(t, d)

	d, closeFn, err = newDeduplicator(Settings{dedupEnabled: true, dedupWindowS: 180})
	require.NoError(t, err)
	closeFn()
	assert.IsType(t, &MemoryDeduplicator{}, d)

	_, _, err = newDeduplicator(Settings{dedupEnabled: true, redisURL: "not a url"})
	assert.ErrorContains(t, err, "failed to parse redis URL")
}
