package gateway

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sanderpick/tableland-functions/pkg/runtime"
	"go.uber.org/zap"
)

// maxBodyBytes matches pkg/gateway/serverless_handlers.go's 1 MiB cap and
// spec.md §6's body size limit.
const maxBodyBytes = 1 << 20

// handleAdd implements POST /v1/add/{cid} — admission, delegating to the
// runtime store's Add.
func (h *Handlers) handleAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cid := strings.TrimPrefix(r.URL.Path, "/v1/add/")
	cid = strings.TrimSuffix(cid, "/")
	if cid == "" {
		writeError(w, http.StatusBadRequest, "cid required")
		return
	}

	if err := h.store.Add(r.Context(), cid); err != nil {
		h.logger.Error("add failed", zap.String("cid", cid), zap.Error(err))
		status, msg := classifyError(err)
		writeError(w, status, msg)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("success"))
}

// handleInvoke implements {METHOD} /v1/functions/{cid}/{path...} — builds a
// runtime.Request from the incoming *http.Request, dispatches it through the
// runtime store, and writes the guest Response back with gas headers.
func (h *Handlers) handleInvoke(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/functions/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "cid required")
		return
	}
	cid := parts[0]
	forwardPath := "/"
	if len(parts) > 1 {
		forwardPath = "/" + parts[1]
	}

	method := runtime.Method(r.Method)
	if requiresEmptyBody(method) && r.ContentLength > 0 {
		writeError(w, http.StatusRequestEntityTooLarge, "body must be empty for this method")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "request body exceeds 1 MiB")
		return
	}

	headers := make(map[string]string, len(r.Header))
	for key := range r.Header {
		headers[key] = r.Header.Get(key)
	}

	req := &runtime.Request{
		ID:      uuid.New().String(),
		URI:     forwardPath + rawQuery(r),
		Method:  method,
		Headers: headers,
		Body:    body,
	}

	result, err := h.store.Run(r.Context(), cid, req)
	if result != nil {
		setGasHeaders(w, result.Gas)
	}
	if err != nil {
		h.logger.Error("invoke failed", zap.String("cid", cid), zap.String("request_id", req.ID), zap.Error(err))
		status, msg := classifyError(err)
		writeError(w, status, msg)
		return
	}

	for key, value := range result.Response.Headers {
		w.Header().Set(key, value)
	}
	status := int(result.Response.Status)
	if status < 200 || status > 599 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(result.Response.Body)
}

func rawQuery(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return ""
	}
	return "?" + r.URL.RawQuery
}

func requiresEmptyBody(m runtime.Method) bool {
	switch m {
	case runtime.MethodGet, runtime.MethodHead, runtime.MethodDelete, runtime.MethodOptions, runtime.MethodTrace:
		return true
	default:
		return false
	}
}

func setGasHeaders(w http.ResponseWriter, gas runtime.GasReport) {
	w.Header().Set("x-gas-limit", strconv.FormatUint(gas.Limit, 10))
	w.Header().Set("x-gas-remaining", strconv.FormatUint(gas.Remaining, 10))
	w.Header().Set("x-gas-external", strconv.FormatUint(gas.UsedExternally, 10))
	w.Header().Set("x-gas-internal", strconv.FormatUint(gas.UsedInternally, 10))
}

// classifyError implements spec.md §6/§7's error->status mapping table.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, runtime.ErrGasDepletion):
		return http.StatusPaymentRequired, "gas depleted"
	case errors.Is(err, runtime.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "payload too large"
	case runtime.IsFuncError(err):
		return http.StatusBadRequest, err.Error()
	case runtime.IsNotFound(err):
		return http.StatusNotFound, err.Error()
	case runtime.IsAborted(err):
		return http.StatusInternalServerError, err.Error()
	case runtime.IsStaticValidation(err):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(msg))
}
