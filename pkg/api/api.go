package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"fruitlog/pkg/storage"
)

const maxBodyBytes = 1 << 20

// MessageWriter publishes request log entries. *kafka.Writer implements it.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type API struct {
	ServiceName string
	DB          storage.Storage

	r   *mux.Router
	pub *publisher
}

// New builds the API around db. Request logs are published to kw when it is not nil.
func New(name string, db storage.Storage, kw MessageWriter) *API {
	api := API{
		ServiceName: name,
		DB:          db,
		r:           mux.NewRouter(),
	}
	if kw != nil {
		api.pub = newPublisher(kw, publishQueueSize)
	}
	api.endpoints()

	return &api
}

func (api *API) Router() *mux.Router {
	return api.r
}

// Close flushes the request logs still queued for Kafka. Call it once the
// HTTP server has stopped serving requests.
func (api *API) Close() {
	if api.pub != nil {
		api.pub.close()
	}
}

func (api *API) endpoints() {
	api.r.Use(api.requestIDMiddleware)
	if api.pub != nil {
		api.r.Use(api.loggingMiddleware)
	}
	api.r.Use(mux.CORSMethodMiddleware(api.r))
	api.r.Use(api.headerMiddleware)

	api.r.HandleFunc("/api/logs", api.logsHandler).Methods(http.MethodGet, http.MethodOptions)
	api.r.HandleFunc("/api/logs", api.addLogHandler).Methods(http.MethodPost)
	api.r.HandleFunc("/api/logs/{id:[0-9]+}", api.deleteLogHandler).Methods(http.MethodDelete, http.MethodOptions)

	// Unmatched requests skip the router middleware.
	api.r.NotFoundHandler = api.headerMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not Found")
	}))
	api.r.MethodNotAllowedHandler = api.headerMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	}))
}

func (api *API) logsHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	logs, err := api.DB.Logs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		log.Errorf("[logsHandler][%s] Logs() returned error: %v", sID, err)
		return
	}
	if logs == nil {
		logs = []storage.Log{}
	}

	writeJSON(w, http.StatusOK, logs)
	log.Debugf("[logsHandler][%s] %d logs sent to: %v", sID, len(logs), r.RemoteAddr)
}

func (api *API) addLogHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	var req LogRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		log.Warnf("[addLogHandler][%s] failed to decode request body: %v", sID, err)
		return
	}
	defer r.Body.Close()

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		log.Warnf("[addLogHandler][%s] invalid log: %v", sID, err)
		return
	}

	created, err := api.DB.AddLog(r.Context(), req.Log())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		if errors.Is(err, storage.ErrConstraint) {
			log.Warnf("[addLogHandler][%s] log rejected by storage: %v", sID, err)
		} else {
			log.Errorf("[addLogHandler][%s] AddLog() returned error: %v", sID, err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, created)
	log.Debugf("[addLogHandler][%s] log %d created for: %v", sID, created.ID, r.RemoteAddr)
}

func (api *API) deleteLogHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		// The route only matches digits, so this is an id out of int64 range.
		writeError(w, http.StatusNotFound, storage.ErrLogNotFound.Error())
		log.Debugf("[deleteLogHandler][%s] failed to parse log ID: %v", sID, err)
		return
	}

	err = api.DB.DeleteLog(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrLogNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			log.Debugf("[deleteLogHandler][%s] log ID:%d not found", sID, id)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		log.Errorf("[deleteLogHandler][%s] log ID:%d: %v", sID, id, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Deleted successfully"})
	log.Debugf("[deleteLogHandler][%s] log ID:%d deleted by: %v", sID, id, r.RemoteAddr)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("[writeJSON] failed to encode response data: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}

// GetRequestID extracts the request ID from the context.
// It returns the request ID as a string if present, otherwise returns an empty string.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

// shorten truncates a string to 6 characters if it is longer than 6, appends '...' at the end,
// otherwise it returns the string unchanged.
func shorten(s string) string {
	if len(s) > 6 {
		return s[:6] + "..."
	}
	return s
}
