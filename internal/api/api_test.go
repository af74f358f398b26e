package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/edoardocostantinidev/mora/internal/channelmgr"
	"github.com/edoardocostantinidev/mora/internal/queuepool"
	"github.com/edoardocostantinidev/mora/internal/timestamp"
	"github.com/edoardocostantinidev/mora/internal/walstore"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (http.Handler, *queuepool.Pool, *channelmgr.Manager) {
	t.Helper()
	pool := queuepool.New(walstore.New(t.TempDir()), 0)
	require.NoError(t, pool.Load())
	mgr := channelmgr.New(pool, time.Minute)
	router := NewRouter(pool, mgr, NewConnTracker())
	return NewHandler(router), pool, mgr
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	return rw
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestServer(t)
	rw := doJSON(t, h, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rw.Code)
	var status clusterStatusResponse
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &status))
	require.Equal(t, version, status.Version)
	require.NotEmpty(t, status.CurrentTimeNs)
}

func TestCreateAndGetQueue(t *testing.T) {
	h, _, _ := newTestServer(t)
	rw := doJSON(t, h, http.MethodPost, "/api/queues", `{"id":"orders"}`)
	require.Equal(t, http.StatusCreated, rw.Code)

	rw = doJSON(t, h, http.MethodGet, "/api/queues/orders", "")
	require.Equal(t, http.StatusOK, rw.Code)
	var resp queueResponse
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &resp))
	require.Equal(t, "orders", resp.ID)
	require.Equal(t, 0, resp.Length)
}

func TestCreateQueueRejectsBadSchema(t *testing.T) {
	h, _, _ := newTestServer(t)
	rw := doJSON(t, h, http.MethodPost, "/api/queues", `{"wrong_field":"x"}`)
	require.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestGetMissingQueueReturns404(t *testing.T) {
	h, _, _ := newTestServer(t)
	rw := doJSON(t, h, http.MethodGet, "/api/queues/missing", "")
	require.Equal(t, http.StatusNotFound, rw.Code)
}

func TestScheduleAndReadEvent(t *testing.T) {
	h, _, _ := newTestServer(t)
	require.Equal(t, http.StatusCreated, doJSON(t, h, http.MethodPost, "/api/queues", `{"id":"orders"}`).Code)

	payload := base64.StdEncoding.EncodeToString([]byte("hello"))
	now := timestamp.Now().Lo
	body := fmt.Sprintf(`{"data":"%s","rules":[{"queue":"orders","schedule_for_ns":%d}]}`, payload, now)
	rw := doJSON(t, h, http.MethodPost, "/api/events", body)
	require.Equal(t, http.StatusCreated, rw.Code)

	rw = doJSON(t, h, http.MethodPost, "/api/channels", `{"queue_ids":["orders"],"buffer_options":{"size":0,"time_ns":0}}`)
	require.Equal(t, http.StatusCreated, rw.Code)
	var ch channelResponse
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &ch))

	rw = doJSON(t, h, http.MethodGet, "/api/channels/"+ch.ID+"/events?delete=true", "")
	require.Equal(t, http.StatusOK, rw.Code)
	var events []eventResponse
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &events))
	require.Len(t, events, 1)
	decoded, err := base64.StdEncoding.DecodeString(events[0].Payload)
	require.NoError(t, err)
	require.Equal(t, "hello", string(decoded))
}

func TestScheduleEventRecurringExpandsIntoMultipleItems(t *testing.T) {
	h, pool, _ := newTestServer(t)
	require.Equal(t, http.StatusCreated, doJSON(t, h, http.MethodPost, "/api/queues", `{"id":"orders"}`).Code)

	payload := base64.StdEncoding.EncodeToString([]byte("tick"))
	now := timestamp.Now().Lo
	body := fmt.Sprintf(`{"data":"%s","rules":[{"queue":"orders","schedule_for_ns":%d,"recurring":{"times":3,"delay_ns":1000}}]}`, payload, now)
	rw := doJSON(t, h, http.MethodPost, "/api/events", body)
	require.Equal(t, http.StatusCreated, rw.Code)

	n, err := pool.Len("orders")
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestScheduleEventUnknownQueueEnqueuesNothing(t *testing.T) {
	h, pool, _ := newTestServer(t)
	require.Equal(t, http.StatusCreated, doJSON(t, h, http.MethodPost, "/api/queues", `{"id":"orders"}`).Code)
	payload := base64.StdEncoding.EncodeToString([]byte("x"))
	body := fmt.Sprintf(`{"data":"%s","rules":[{"queue":"orders","schedule_for_ns":1},{"queue":"missing","schedule_for_ns":1}]}`, payload)
	rw := doJSON(t, h, http.MethodPost, "/api/events", body)
	require.Equal(t, http.StatusNotFound, rw.Code)

	n, err := pool.Len("orders")
	require.NoError(t, err)
	require.Equal(t, 0, n, "no rule may be enqueued when any target queue is missing")
}

func TestReadChannelEventsDefaultsToPeek(t *testing.T) {
	h, _, _ := newTestServer(t)
	require.Equal(t, http.StatusCreated, doJSON(t, h, http.MethodPost, "/api/queues", `{"id":"orders"}`).Code)

	payload := base64.StdEncoding.EncodeToString([]byte("hello"))
	now := timestamp.Now().Lo
	body := fmt.Sprintf(`{"data":"%s","rules":[{"queue":"orders","schedule_for_ns":%d}]}`, payload, now)
	require.Equal(t, http.StatusCreated, doJSON(t, h, http.MethodPost, "/api/events", body).Code)

	rw := doJSON(t, h, http.MethodPost, "/api/channels", `{"queue_ids":["orders"],"buffer_options":{"size":0,"time_ns":0}}`)
	var ch channelResponse
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &ch))

	first := doJSON(t, h, http.MethodGet, "/api/channels/"+ch.ID+"/events", "")
	second := doJSON(t, h, http.MethodGet, "/api/channels/"+ch.ID+"/events", "")
	require.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestCreateChannelRejectsUnknownQueue(t *testing.T) {
	h, _, _ := newTestServer(t)
	rw := doJSON(t, h, http.MethodPost, "/api/channels", `{"queue_ids":["missing"],"buffer_options":{"size":0,"time_ns":0}}`)
	require.Equal(t, http.StatusNotFound, rw.Code)
}

func TestDeleteQueue(t *testing.T) {
	h, _, _ := newTestServer(t)
	require.Equal(t, http.StatusCreated, doJSON(t, h, http.MethodPost, "/api/queues", `{"id":"orders"}`).Code)
	rw := doJSON(t, h, http.MethodDelete, "/api/queues/orders", "")
	require.Equal(t, http.StatusNoContent, rw.Code)
	rw = doJSON(t, h, http.MethodGet, "/api/queues/orders", "")
	require.Equal(t, http.StatusNotFound, rw.Code)
}

func TestConnectionsEndpoint(t *testing.T) {
	h, _, _ := newTestServer(t)
	rw := doJSON(t, h, http.MethodGet, "/api/connections", "")
	require.Equal(t, http.StatusOK, rw.Code)
	var resp connectionsInfoResponse
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &resp))
}
