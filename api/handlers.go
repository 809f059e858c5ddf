/*
handlers.go - HTTP API handlers for the deficit engine

PURPOSE:
  Exposes the deficit engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the deficit package.

ENDPOINTS:
  Deficits:
    GET    /api/deficits                 List records (?status=&employee_id=)
    POST   /api/deficits                 Create record
    GET    /api/deficits/{id}            Get record
    PATCH  /api/deficits/{id}            Patch context metadata
    DELETE /api/deficits/{id}            Delete record
    POST   /api/deficits/{id}/payments   Apply a partial payment

  Settlement:
    POST   /api/deficits/{id}/settlement/print           Print copy 1 / copy 2
    POST   /api/deficits/{id}/settlement/vendor-signed   Vendor signed
    POST   /api/deficits/{id}/settlement/manager-signed  Manager signed
    POST   /api/deficits/{id}/settlement/archive         Archive (settles)
    POST   /api/deficits/{id}/settlement/cancel          Cancel (PIN)
    POST   /api/deficits/{id}/payroll                    Settle via payroll (PIN)

  Payroll:
    GET    /api/payroll/capacity         ?month=YYYY-MM&employee_id=

  Export:
    GET    /api/export                   ?format=csv|xlsx&status=&employee_id=

  Admin:
    POST   /api/admin/escalate           Run an escalation pass now
    GET    /api/admin/escalation         Last scheduled pass
    GET    /api/admin/settings           Current settings (no PIN)
    PUT    /api/admin/settings           Change settings (PIN)

REQUEST FLOW:
  1. Parse HTTP request
  2. Convert DTO to domain input
  3. Call the engine
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 403: Wrong manager PIN
  - 404: Record not found
  - 409: Workflow action not allowed in the current stage, or record busy
  - 503: Document sink unavailable (retry)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: Automated escalation
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/warp/deficit-engine/config"
	"github.com/warp/deficit-engine/deficit"
	"github.com/warp/deficit-engine/generic"
	"github.com/warp/deficit-engine/report"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *deficit.Engine
	Scheduler *EscalationScheduler

	log logrus.FieldLogger
}

// NewHandler creates a new handler. scheduler may be nil.
func NewHandler(engine *deficit.Engine, scheduler *EscalationScheduler, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = config.DiscardLogger()
	}
	return &Handler{
		Engine:    engine,
		Scheduler: scheduler,
		log:       log.WithField("module", "api"),
	}
}

// =============================================================================
// DEFICIT HANDLERS
// =============================================================================

// ListDeficits returns all records matching the optional filters.
func (h *Handler) ListDeficits(w http.ResponseWriter, r *http.Request) {
	records, err := h.Engine.List(r.Context(), filterOf(r))
	if err != nil {
		h.writeEngineError(w, "Failed to list deficits", err)
		return
	}

	dtos := make([]DeficitDTO, len(records))
	for i, rec := range records {
		dtos[i] = toDeficitDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetDeficit returns a single record.
func (h *Handler) GetDeficit(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Engine.Get(r.Context(), recordID(r))
	if err != nil {
		h.writeEngineError(w, "Failed to get deficit", err)
		return
	}
	writeJSON(w, http.StatusOK, toDeficitDTO(rec))
}

// CreateDeficit records a new shortfall.
func (h *Handler) CreateDeficit(w http.ResponseWriter, r *http.Request) {
	var req CreateDeficitRequest
	if !decode(w, r, &req) {
		return
	}

	draft, err := req.toDraft()
	if err != nil {
		h.writeEngineError(w, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	rec, err := h.Engine.Create(r.Context(), draft)
	if err != nil {
		h.writeEngineError(w, "Failed to create deficit", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeficitDTO(rec))
}

// UpdateDeficit patches context metadata.
func (h *Handler) UpdateDeficit(w http.ResponseWriter, r *http.Request) {
	var req UpdateDeficitRequest
	if !decode(w, r, &req) {
		return
	}

	patch, err := req.toPatch()
	if err != nil {
		h.writeEngineError(w, "Invalid due_date format (use YYYY-MM-DD)", err)
		return
	}

	rec, err := h.Engine.Update(r.Context(), recordID(r), patch)
	if err != nil {
		h.writeEngineError(w, "Failed to update deficit", err)
		return
	}
	writeJSON(w, http.StatusOK, toDeficitDTO(rec))
}

// DeleteDeficit removes a record.
func (h *Handler) DeleteDeficit(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Delete(r.Context(), recordID(r)); err != nil {
		h.writeEngineError(w, "Failed to delete deficit", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApplyPayment appends a manual partial payment.
func (h *Handler) ApplyPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !decode(w, r, &req) {
		return
	}

	rec, err := h.Engine.ApplyPayment(r.Context(), recordID(r), req.Amount, req.Notes)
	if err != nil {
		h.writeEngineError(w, "Failed to apply payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toDeficitDTO(rec))
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// Print produces the next settlement copy. A copy-2 failure still returns
// 503; the record (with copy 1 produced) can be fetched and printed again.
func (h *Handler) Print(w http.ResponseWriter, r *http.Request) {
	// The body is optional; without it the record's manager name is used.
	var req PrintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rec, err := h.Engine.Print(r.Context(), recordID(r), req.ManagerName)
	if err != nil {
		h.writeEngineError(w, "Failed to print settlement document", err)
		return
	}
	writeJSON(w, http.StatusOK, toDeficitDTO(rec))
}

func (h *Handler) ConfirmVendorSigned(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Engine.ConfirmVendorSigned(r.Context(), recordID(r))
	if err != nil {
		h.writeEngineError(w, "Failed to confirm vendor signature", err)
		return
	}
	writeJSON(w, http.StatusOK, toDeficitDTO(rec))
}

func (h *Handler) ConfirmManagerSigned(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Engine.ConfirmManagerSigned(r.Context(), recordID(r))
	if err != nil {
		h.writeEngineError(w, "Failed to confirm manager signature", err)
		return
	}
	writeJSON(w, http.StatusOK, toDeficitDTO(rec))
}

// ConfirmArchive archives the signed copy, settling any remainder.
func (h *Handler) ConfirmArchive(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Engine.ConfirmArchive(r.Context(), recordID(r))
	if err != nil {
		h.writeEngineError(w, "Failed to archive settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, toDeficitDTO(rec))
}

// CancelSettlement reverses a settlement. Requires the manager PIN.
func (h *Handler) CancelSettlement(w http.ResponseWriter, r *http.Request) {
	var req AuthorizedRequest
	if !decode(w, r, &req) {
		return
	}

	rec, err := h.Engine.Cancel(r.Context(), recordID(r), req.PIN, req.Reason)
	if err != nil {
		h.writeEngineError(w, "Failed to cancel settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, toDeficitDTO(rec))
}

// SettleViaPayroll settles the remaining balance through payroll. Requires
// the manager PIN.
func (h *Handler) SettleViaPayroll(w http.ResponseWriter, r *http.Request) {
	var req AuthorizedRequest
	if !decode(w, r, &req) {
		return
	}

	rec, err := h.Engine.SettleViaPayroll(r.Context(), recordID(r), req.PIN)
	if err != nil {
		h.writeEngineError(w, "Failed to settle via payroll", err)
		return
	}
	writeJSON(w, http.StatusOK, toDeficitDTO(rec))
}

// =============================================================================
// PAYROLL / EXPORT HANDLERS
// =============================================================================

// PayrollCapacity reports a month's payroll deductions against the salary.
// month defaults to the current month.
func (h *Handler) PayrollCapacity(w http.ResponseWriter, r *http.Request) {
	period := generic.MonthOf(h.Engine.Today())
	if m := r.URL.Query().Get("month"); m != "" {
		p, err := generic.ParseMonth(m)
		if err != nil {
			h.writeEngineError(w, "Invalid month", err)
			return
		}
		period = p
	}

	rep, err := h.Engine.PayrollCapacity(r.Context(), period, r.URL.Query().Get("employee_id"))
	if err != nil {
		h.writeEngineError(w, "Failed to compute payroll capacity", err)
		return
	}
	writeJSON(w, http.StatusOK, toCapacityDTO(rep))
}

// Export streams the filtered records as CSV (default) or XLSX.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "csv"
	}

	var (
		write       func(io.Writer, []deficit.ExportRow) error
		contentType string
	)
	switch format {
	case "csv":
		write = report.WriteCSV
		contentType = report.ContentTypeCSV
	case "xlsx":
		write = report.WriteXLSX
		contentType = report.ContentTypeXLSX
	default:
		writeError(w, http.StatusBadRequest, "Invalid format (use csv or xlsx)", nil)
		return
	}

	rows, err := h.Engine.Export(r.Context(), filterOf(r))
	if err != nil {
		h.writeEngineError(w, "Failed to export deficits", err)
		return
	}

	// Buffer so a writer failure can still produce a JSON error.
	var buf bytes.Buffer
	if err := write(&buf, rows); err != nil {
		h.writeEngineError(w, "Failed to render export", err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s"`, report.Filename(h.Engine.Today().Time, format)))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerEscalation runs an escalation pass now.
func (h *Handler) TriggerEscalation(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler != nil {
		run := h.Scheduler.RunNow(r.Context())
		if run.Error != "" {
			writeError(w, http.StatusInternalServerError, "Escalation failed", errors.New(run.Error))
			return
		}
		writeJSON(w, http.StatusOK, h.escalationDTO(run))
		return
	}

	res, err := h.Engine.Escalate(r.Context())
	if err != nil {
		h.writeEngineError(w, "Escalation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, EscalationDTO{
		AsOf:      res.AsOf.String(),
		Examined:  res.Examined,
		Escalated: res.Escalated,
		Skipped:   res.Skipped,
	})
}

// GetEscalationStatus returns the last scheduled pass and the next run time.
func (h *Handler) GetEscalationStatus(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusNotFound, "Scheduler not configured", nil)
		return
	}
	run, ok := h.Scheduler.LastRun()
	if !ok {
		writeJSON(w, http.StatusOK, EscalationDTO{NextRunAt: timestamp(h.Scheduler.NextRunTime())})
		return
	}
	writeJSON(w, http.StatusOK, h.escalationDTO(run))
}

func (h *Handler) escalationDTO(run EscalationRun) EscalationDTO {
	dto := EscalationDTO{
		AsOf:        run.Result.AsOf.String(),
		Examined:    run.Result.Examined,
		Escalated:   run.Result.Escalated,
		Skipped:     run.Result.Skipped,
		StartedAt:   timestamp(run.StartedAt),
		CompletedAt: timestamp(run.CompletedAt),
		Error:       run.Error,
	}
	if h.Scheduler != nil {
		dto.NextRunAt = timestamp(h.Scheduler.NextRunTime())
	}
	return dto
}

// GetSettings returns the current settings without the PIN.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSettingsDTO(h.Engine.Settings()))
}

// UpdateSettings changes the PIN, grace days or salary. Requires the
// current manager PIN.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if !decode(w, r, &req) {
		return
	}

	view, err := h.Engine.ChangeSettings(r.Context(), req.PIN, deficit.SettingsUpdate{
		NewPIN:           req.NewPIN,
		DueDateGraceDays: req.DueDateGraceDays,
		MonthlySalary:    req.MonthlySalary,
	})
	if err != nil {
		h.writeEngineError(w, "Failed to update settings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsDTO(view))
}

// =============================================================================
// HELPERS
// =============================================================================

func recordID(r *http.Request) generic.RecordID {
	return generic.RecordID(chi.URLParam(r, "id"))
}

func filterOf(r *http.Request) deficit.Filter {
	q := r.URL.Query()
	return deficit.Filter{
		Status:     deficit.Status(q.Get("status")),
		EmployeeID: q.Get("employee_id"),
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusOf maps engine errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, generic.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, generic.ErrAuthorizationDenied):
		return http.StatusForbidden
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrInvalidTransition), errors.Is(err, generic.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, generic.ErrSinkUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeEngineError(w http.ResponseWriter, message string, err error) {
	status := statusOf(err)
	if generic.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	if status == http.StatusInternalServerError {
		config.LogError(h.log, "api", "writeEngineError", message, nil, err)
	}
	writeError(w, status, message, err)
}
