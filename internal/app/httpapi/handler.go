package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/lockswap/internal/app"
	"github.com/R3E-Network/lockswap/internal/app/domain/capability"
	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
	"github.com/R3E-Network/lockswap/internal/app/metrics"
	"github.com/R3E-Network/lockswap/internal/app/services/lockkey"
	"github.com/R3E-Network/lockswap/internal/app/services/objects"
	"github.com/R3E-Network/lockswap/internal/middleware"
)

const maxBodyBytes = 1 << 20

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	audit *AuditLog
}

// NewHandler returns a router exposing the REST API. Authentication, rate
// limiting and auditing are layered on by New.
func NewHandler(application *app.Application, audit *AuditLog) http.Handler {
	h := &handler{app: application, audit: audit}
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/events", h.streamEvents).Methods(http.MethodGet)

	r.Handle("/items", authed(h.registerItem)).Methods(http.MethodPost)
	r.HandleFunc("/objects/{id}", h.getObject).Methods(http.MethodGet)
	r.Handle("/objects/{id}/transfer", authed(h.transferObject)).Methods(http.MethodPost)
	r.HandleFunc("/owners/{address}/objects", h.listOwned).Methods(http.MethodGet)

	r.Handle("/locks", authed(h.createLock)).Methods(http.MethodPost)
	r.Handle("/locks/{id}/unlock", authed(h.unlock)).Methods(http.MethodPost)
	r.HandleFunc("/locks/{id}/can-unlock", h.canUnlock).Methods(http.MethodGet)

	r.Handle("/swaps", authed(h.swap)).Methods(http.MethodPost)
	r.Handle("/swaps/batch", authed(h.batchSwap)).Methods(http.MethodPost)

	r.Handle("/escrows", authed(h.createEscrow)).Methods(http.MethodPost)
	r.HandleFunc("/escrows/{id}", h.getEscrow).Methods(http.MethodGet)
	r.HandleFunc("/escrows/{id}/claim", h.claim).Methods(http.MethodPost)
	r.HandleFunc("/escrows/{id}/refund", h.refund).Methods(http.MethodPost)

	if audit != nil {
		r.Handle("/audit", authed(h.auditEntries)).Methods(http.MethodGet)
	}
	return r
}

func authed(fn http.HandlerFunc) http.Handler {
	return middleware.RequireSender(fn)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) registerItem(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	item, err := h.app.Objects.RegisterItem(r.Context(), middleware.Sender(r.Context()), payload.Type, payload.Data)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *handler) getObject(w http.ResponseWriter, r *http.Request) {
	obj, err := h.app.Objects.Get(r.Context(), pathID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

func (h *handler) listOwned(w http.ResponseWriter, r *http.Request) {
	owner := ledger.Address(mux.Vars(r)["address"])
	objs, err := h.app.Objects.ListOwned(r.Context(), owner)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if objs == nil {
		objs = []ledger.Object{}
	}
	writeJSON(w, http.StatusOK, objs)
}

func (h *handler) transferObject(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		To ledger.Address `json:"to"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	obj, err := h.app.Objects.Transfer(r.Context(), middleware.Sender(r.Context()), pathID(r), payload.To)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

func (h *handler) createLock(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ItemID ledger.ID `json:"item_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	lock, key, err := h.app.LockKey.Lock(r.Context(), middleware.Sender(r.Context()), payload.ItemID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Lock capability.Lock `json:"lock"`
		Key  capability.Key  `json:"key"`
	}{lock, key})
}

func (h *handler) unlock(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		KeyID ledger.ID `json:"key_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	itemID, err := h.app.LockKey.Unlock(r.Context(), middleware.Sender(r.Context()), pathID(r), payload.KeyID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]ledger.ID{"item_id": itemID})
}

func (h *handler) canUnlock(w http.ResponseWriter, r *http.Request) {
	keyID := ledger.ID(r.URL.Query().Get("key"))
	if keyID == "" {
		writeError(w, http.StatusBadRequest, errors.New("key query parameter is required"))
		return
	}
	ok, err := h.app.LockKey.CanUnlock(r.Context(), pathID(r), keyID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"can_unlock": ok})
}

func (h *handler) swap(w http.ResponseWriter, r *http.Request) {
	var req lockkey.SwapRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.app.LockKey.Swap(r.Context(), middleware.Sender(r.Context()), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type batchItem struct {
	Index  int                 `json:"index"`
	Result *lockkey.SwapResult `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
	Code   string              `json:"code,omitempty"`
}

func (h *handler) batchSwap(w http.ResponseWriter, r *http.Request) {
	var req lockkey.BatchSwapRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	results, err := h.app.LockKey.BatchSwap(r.Context(), middleware.Sender(r.Context()), req)
	if errors.Is(err, lockkey.ErrBatchLength) {
		writeServiceError(w, err)
		return
	}

	items := make([]batchItem, len(results))
	for i, res := range results {
		items[i] = batchItem{Index: res.Index}
		if res.Err != nil {
			items[i].Error = res.Err.Error()
			items[i].Code = lockkey.Classify(res.Err)
			continue
		}
		result := res.Result
		items[i].Result = &result
	}

	status := http.StatusOK
	if err != nil {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, map[string]any{"results": items})
}

func (h *handler) createEscrow(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		lockkey.EscrowRequest
		TTLSeconds int64 `json:"ttl_seconds,omitempty"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req := payload.EscrowRequest
	if req.Expiry.IsZero() && payload.TTLSeconds > 0 {
		req.Expiry = h.app.Clock.Now().Add(time.Duration(payload.TTLSeconds) * time.Second)
	}
	esc, err := h.app.LockKey.CreateEscrow(r.Context(), middleware.Sender(r.Context()), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, esc)
}

func (h *handler) getEscrow(w http.ResponseWriter, r *http.Request) {
	esc, err := h.app.LockKey.Escrow(r.Context(), pathID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

func (h *handler) claim(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Secret string `json:"secret"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	itemID, err := h.app.LockKey.Claim(r.Context(), pathID(r), []byte(payload.Secret))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]ledger.ID{"item_id": itemID})
}

func (h *handler) refund(w http.ResponseWriter, r *http.Request) {
	itemID, err := h.app.LockKey.Refund(r.Context(), pathID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]ledger.ID{"item_id": itemID})
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

func pathID(r *http.Request) ledger.ID {
	return ledger.ID(mux.Vars(r)["id"])
}

// statusFor maps service errors onto HTTP statuses. Capability and timing
// errors are distinct so clients can tell what to retry.
func statusFor(err error) int {
	switch lockkey.Classify(err) {
	case "already_consumed":
		return http.StatusNotFound
	case "denied", "not_owner":
		return http.StatusForbidden
	case "key_mismatch", "lock_mismatch", "expired", "not_yet_expired", "conflict":
		return http.StatusConflict
	case "wrong_secret", "invalid_expiry":
		return http.StatusUnprocessableEntity
	case "invalid_request", "wrong_kind":
		return http.StatusBadRequest
	}
	if errors.Is(err, objects.ErrNotOwner) {
		return http.StatusForbidden
	}
	if errors.Is(err, objects.ErrInvalidData) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeServiceError(w http.ResponseWriter, err error) {
	code := lockkey.Classify(err)
	if errors.Is(err, objects.ErrNotOwner) {
		code = "not_owner"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(err))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "code": code})
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "code": "invalid_request"})
}
