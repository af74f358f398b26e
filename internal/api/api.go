// Package api implements mora's HTTP surface: queue and channel CRUD,
// event scheduling, channel reads, and basic operational endpoints, all
// behind strict JSON-schema-validated request bodies.
package api

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/edoardocostantinidev/mora/internal/channelmgr"
	"github.com/edoardocostantinidev/mora/internal/queuepool"
	"github.com/edoardocostantinidev/mora/internal/timestamp"
	"github.com/edoardocostantinidev/mora/internal/walstore"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// version is reported by the health endpoint; mora has no release process
// of its own yet, so this is a fixed placeholder rather than a build-time
// injected value.
const version = "0.1.0"

type createQueueRequest struct {
	ID string `json:"id"`
}

type recurringRule struct {
	Times   int   `json:"times"`
	DelayNs int64 `json:"delay_ns"`
}

type scheduleEventRule struct {
	Queue         string         `json:"queue"`
	ScheduleForNs uint64         `json:"schedule_for_ns"`
	Recurring     *recurringRule `json:"recurring,omitempty"`
}

type scheduleEventRequest struct {
	Data  string              `json:"data"`
	Rules []scheduleEventRule `json:"rules"`
}

type bufferOptions struct {
	Size   int   `json:"size"`
	TimeNs int64 `json:"time_ns"`
}

type createChannelRequest struct {
	QueueIDs      []string      `json:"queue_ids"`
	BufferOptions bufferOptions `json:"buffer_options"`
}

type queueResponse struct {
	ID     string `json:"id"`
	Length int    `json:"length"`
}

type channelResponse struct {
	ID       string   `json:"id"`
	QueueIDs []string `json:"queue_ids"`
}

type eventResponse struct {
	QueueID   string `json:"queue_id"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

type clusterStatusResponse struct {
	Version       string `json:"version"`
	CurrentTimeNs string `json:"current_time_ns"`
}

type connectionsInfoResponse struct {
	ClientsConnected int64 `json:"clients_connected"`
}

func writeJSON(rw http.ResponseWriter, status int, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	if v != nil {
		json.NewEncoder(rw).Encode(v)
	}
}

// HealthHandler reports liveness as a cluster-status record.
func HealthHandler(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, clusterStatusResponse{
		Version:       version,
		CurrentTimeNs: timestamp.Now().String(),
	})
}

// ListQueuesHandler lists every queue, optionally filtered by the
// "pattern" query parameter, interpreted as a regular expression.
func ListQueuesHandler(pool *queuepool.Pool) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		var filter *regexp.Regexp
		if pattern := r.URL.Query().Get("pattern"); pattern != "" {
			re, err := regexp.Compile(pattern)
			if err != nil {
				handleError(err, http.StatusBadRequest, rw)
				return
			}
			filter = re
		}
		ids := pool.ListQueues(filter)
		out := make([]queueResponse, 0, len(ids))
		for _, id := range ids {
			n, err := pool.Len(id)
			if err != nil {
				continue
			}
			out = append(out, queueResponse{ID: id, Length: n})
		}
		writeJSON(rw, http.StatusOK, out)
	}
}

// CreateQueueHandler creates a new, empty queue.
func CreateQueueHandler(pool *queuepool.Pool) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			handleError(err, http.StatusBadRequest, rw)
			return
		}
		if err := validateBody(createQueueValidator, body); err != nil {
			handleError(err, http.StatusBadRequest, rw)
			return
		}
		var req createQueueRequest
		if err := decode(body, &req); err != nil {
			handleError(err, http.StatusBadRequest, rw)
			return
		}
		if err := pool.CreateQueue(req.ID); err != nil {
			handleError(err, http.StatusInternalServerError, rw)
			return
		}
		writeJSON(rw, http.StatusCreated, queueResponse{ID: req.ID})
	}
}

// GetQueueHandler reports a single queue's pending length.
func GetQueueHandler(pool *queuepool.Pool) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		n, err := pool.Len(id)
		if err != nil {
			handleError(err, http.StatusNotFound, rw)
			return
		}
		writeJSON(rw, http.StatusOK, queueResponse{ID: id, Length: n})
	}
}

// DeleteQueueHandler deletes a queue and its durable storage.
func DeleteQueueHandler(pool *queuepool.Pool) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := pool.DeleteQueue(id); err != nil {
			handleError(err, http.StatusNotFound, rw)
			return
		}
		rw.WriteHeader(http.StatusNoContent)
	}
}

// expandRule turns one schedule_event rule into the list of absolute
// delivery timestamps it durably enqueues: just schedule_for_ns when
// recurring is absent, or schedule_for_ns + k*delay_ns for k in
// [0, times) when it is present. The expansion happens before any WAL
// write, so a recurring rule is either entirely durable or not at all.
func expandRule(rule scheduleEventRule) []timestamp.Timestamp {
	if rule.Recurring == nil {
		return []timestamp.Timestamp{timestamp.FromUint64(rule.ScheduleForNs)}
	}
	base := timestamp.FromUint64(rule.ScheduleForNs)
	out := make([]timestamp.Timestamp, rule.Recurring.Times)
	for k := 0; k < rule.Recurring.Times; k++ {
		out[k] = base.Add(int64(k) * rule.Recurring.DelayNs)
	}
	return out
}

// ScheduleEventHandler expands a schedule_event request's rules into
// per-queue batches and enqueues each batch atomically. Every target
// queue is checked to exist before any item is written, so a request
// naming an unknown queue fails with 404 and enqueues nothing.
func ScheduleEventHandler(pool *queuepool.Pool) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			handleError(err, http.StatusBadRequest, rw)
			return
		}
		if err := validateBody(scheduleEventValidator, body); err != nil {
			handleError(err, http.StatusBadRequest, rw)
			return
		}
		var req scheduleEventRequest
		if err := decode(body, &req); err != nil {
			handleError(err, http.StatusBadRequest, rw)
			return
		}
		payload, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			handleError(err, http.StatusBadRequest, rw)
			return
		}

		for _, rule := range req.Rules {
			if !pool.Exists(rule.Queue) {
				handleError(queuepool.ErrQueueNotFound, http.StatusNotFound, rw)
				return
			}
		}

		batches := make(map[string][]walstore.Item)
		for _, rule := range req.Rules {
			for _, key := range expandRule(rule) {
				batches[rule.Queue] = append(batches[rule.Queue], walstore.Item{Key: key, Payload: payload})
			}
		}
		for queue, items := range batches {
			if err := pool.EnqueueBatch(queue, items); err != nil {
				handleError(err, http.StatusInternalServerError, rw)
				return
			}
		}
		writeJSON(rw, http.StatusCreated, map[string]string{"status": "scheduled"})
	}
}

// CreateChannelHandler opens a new ephemeral channel over a set of queues.
func CreateChannelHandler(mgr *channelmgr.Manager) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			handleError(err, http.StatusBadRequest, rw)
			return
		}
		if err := validateBody(createChannelValidator, body); err != nil {
			handleError(err, http.StatusBadRequest, rw)
			return
		}
		var req createChannelRequest
		if err := decode(body, &req); err != nil {
			handleError(err, http.StatusBadRequest, rw)
			return
		}
		ch, err := mgr.CreateChannel(
			req.QueueIDs,
			req.BufferOptions.Size,
			time.Duration(req.BufferOptions.TimeNs),
		)
		if err != nil {
			handleError(err, http.StatusNotFound, rw)
			return
		}
		writeJSON(rw, http.StatusCreated, channelResponse{ID: ch.ID, QueueIDs: ch.QueueIDs})
	}
}

// ListChannelsHandler lists every open channel id.
func ListChannelsHandler(mgr *channelmgr.Manager) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, mgr.ListChannels())
	}
}

// GetChannelHandler reports a single channel's configuration.
func GetChannelHandler(mgr *channelmgr.Manager) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		ch, err := mgr.GetChannel(id)
		if err != nil {
			handleError(err, http.StatusNotFound, rw)
			return
		}
		writeJSON(rw, http.StatusOK, channelResponse{ID: ch.ID, QueueIDs: ch.QueueIDs})
	}
}

// DeleteChannelHandler closes a channel early.
func DeleteChannelHandler(mgr *channelmgr.Manager) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := mgr.CloseChannel(id); err != nil {
			handleError(err, http.StatusNotFound, rw)
			return
		}
		rw.WriteHeader(http.StatusNoContent)
	}
}

// ReadChannelEventsHandler reads every event currently due on a channel.
// The "delete" query parameter selects delete-on-read (true) or a pure
// peek that leaves every queue untouched (false, the default).
func ReadChannelEventsHandler(mgr *channelmgr.Manager) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		del := false
		if v := r.URL.Query().Get("delete"); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				handleError(err, http.StatusBadRequest, rw)
				return
			}
			del = parsed
		}
		events, err := mgr.ReadEvents(id, timestamp.Now(), del)
		if err != nil {
			handleError(err, http.StatusNotFound, rw)
			return
		}
		out := make([]eventResponse, len(events))
		for i, ev := range events {
			out[i] = eventResponse{
				QueueID:   ev.QueueID,
				Timestamp: ev.Key.String(),
				Payload:   base64.StdEncoding.EncodeToString(ev.Payload),
			}
		}
		writeJSON(rw, http.StatusOK, out)
	}
}

// ConnectionsHandler reports the current live connection count.
func ConnectionsHandler(tracker *ConnTracker) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, connectionsInfoResponse{ClientsConnected: tracker.Count()})
	}
}

// NewRouter wires every route onto a fresh mux.Router.
func NewRouter(pool *queuepool.Pool, mgr *channelmgr.Manager, tracker *ConnTracker) *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", HealthHandler).Methods(http.MethodGet)
	api.HandleFunc("/connections", ConnectionsHandler(tracker)).Methods(http.MethodGet)

	api.HandleFunc("/queues", ListQueuesHandler(pool)).Methods(http.MethodGet)
	api.HandleFunc("/queues", CreateQueueHandler(pool)).Methods(http.MethodPost)
	api.HandleFunc("/queues/{id}", GetQueueHandler(pool)).Methods(http.MethodGet)
	api.HandleFunc("/queues/{id}", DeleteQueueHandler(pool)).Methods(http.MethodDelete)

	api.HandleFunc("/events", ScheduleEventHandler(pool)).Methods(http.MethodPost)

	api.HandleFunc("/channels", ListChannelsHandler(mgr)).Methods(http.MethodGet)
	api.HandleFunc("/channels", CreateChannelHandler(mgr)).Methods(http.MethodPost)
	api.HandleFunc("/channels/{id}", GetChannelHandler(mgr)).Methods(http.MethodGet)
	api.HandleFunc("/channels/{id}", DeleteChannelHandler(mgr)).Methods(http.MethodDelete)
	api.HandleFunc("/channels/{id}/events", ReadChannelEventsHandler(mgr)).Methods(http.MethodGet)

	return r
}

// NewHandler wraps router with the logging and panic-recovery middleware
// every mora request passes through.
func NewHandler(router *mux.Router) http.Handler {
	recovered := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(router)
	return handlers.CombinedLoggingHandler(os.Stdout, recovered)
}
