package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/edoardocostantinidev/mora/internal/channelmgr"
	"github.com/edoardocostantinidev/mora/internal/queuepool"
	"github.com/edoardocostantinidev/mora/internal/walstore"
)

// ErrorResponse is the JSON envelope returned for every failed request.
type ErrorResponse struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

// handleError writes err to rw as a JSON ErrorResponse, picking the HTTP
// status code that matches err's sentinel where one is known and falling
// back to status for anything else.
func handleError(err error, status int, rw http.ResponseWriter) {
	switch {
	case errors.Is(err, queuepool.ErrQueueNotFound), errors.Is(err, channelmgr.ErrChannelNotFound),
		errors.Is(err, walstore.ErrContainerNotFound), errors.Is(err, walstore.ErrItemNotFound):
		status = http.StatusNotFound
	case errors.Is(err, queuepool.ErrQueueAlreadyExists), errors.Is(err, walstore.ErrContainerAlreadyExists),
		errors.Is(err, queuepool.ErrPoolCapacityExceeded):
		status = http.StatusConflict
	case errors.Is(err, queuepool.ErrInvalidQueueID), errors.Is(err, channelmgr.ErrNoQueues):
		status = http.StatusBadRequest
	}

	if status >= http.StatusInternalServerError {
		cclog.Errorf("api: request failed: %v", err)
	} else {
		cclog.Warnf("api: request failed: %v", err)
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(ErrorResponse{Status: status, Error: err.Error()})
}

// decode unmarshals body into v, rejecting any field not present in v's
// type. Callers run this after schema validation, which only checks shape -
// decode is what actually produces the typed value handlers operate on.
func decode(body []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
