/*
handlers.go - HTTP API handlers for the session scheduling engine

PURPOSE:
  Exposes the credit ledger and the booking flows via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Clients:
    GET    /api/clients                      List all clients
    POST   /api/clients                      Register a client
    GET    /api/clients/{id}                 Client details and counters
    GET    /api/clients/{id}/balance         Current credit balance
    GET    /api/clients/{id}/transactions    Ledger history
    POST   /api/clients/{id}/purchases       Buy a credit package

  Sessions:
    GET    /api/sessions                     List/filter sessions
    POST   /api/sessions                     Create a slot (or trainer block)
    GET    /api/sessions/{id}                Session details
    POST   /api/sessions/{id}/book           Claim a slot (debits one credit)
    POST   /api/sessions/{id}/cancel         Cancel (policy decides refund)
    POST   /api/sessions/{id}/complete       Mark completed

  Schedule:
    POST   /api/schedule/recurrences         Expand a recurrence rule

  Catalog / Admin:
    GET    /api/packages                     Package catalog
    POST   /api/admin/clients/{id}/adjustments  Manual credit adjustment

  Scenarios:
    GET    /api/scenarios                    List demo scenarios
    POST   /api/scenarios/load               Load a demo scenario

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (go-playground/validator)
  3. Call domain logic (ledger, booking service, generator)
  4. Serialize response
  5. Map domain errors to HTTP status

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 403: Cancelling someone else's session
  - 404: Resource not found
  - 409: Conflict (no credits, slot taken, bad transition, double refund)
  - 500: Internal errors, failed consistency repair

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/studiofit/session-engine/booking"
	"github.com/studiofit/session-engine/credit"
	"github.com/studiofit/session-engine/purchase"
	"github.com/studiofit/session-engine/schedule"
	"github.com/studiofit/session-engine/session"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is everything the handlers need from persistence.
type Store interface {
	credit.Store
	session.Store
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     Store
	Ledger    credit.Ledger
	Booking   *booking.Service
	Generator *schedule.Generator
	Purchases *purchase.Service

	validate *validator.Validate

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler wires the handler with its collaborators.
func NewHandler(store Store, ledger credit.Ledger, bookings *booking.Service, gen *schedule.Generator, purchases *purchase.Service) *Handler {
	return &Handler{
		Store:     store,
		Ledger:    ledger,
		Booking:   bookings,
		Generator: gen,
		Purchases: purchases,
		validate:  validator.New(),
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

// ListClients returns all clients.
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.Store.ListClients(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list clients", err)
		return
	}

	dtos := make([]ClientDTO, len(clients))
	for i, c := range clients {
		dtos[i] = toClientDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetClient returns a single client with their counters.
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id := credit.ClientID(chi.URLParam(r, "id"))

	c, err := h.Store.GetClient(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get client", err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "Client not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(*c))
}

// CreateClient registers a client, optionally with starting credits.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	if existing, err := h.Store.GetClient(ctx, credit.ClientID(req.ID)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check client", err)
		return
	} else if existing != nil {
		writeError(w, http.StatusConflict, "Client already exists", nil)
		return
	}

	c := credit.Client{
		ID:        credit.ClientID(req.ID),
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveClient(ctx, c); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create client", err)
		return
	}

	if req.Credits > 0 {
		if _, err := h.Ledger.Allocate(ctx, c.ID, req.Credits, credit.ReasonPurchase, "initial allocation"); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	saved, err := h.Store.GetClient(ctx, c.ID)
	if err != nil || saved == nil {
		writeError(w, http.StatusInternalServerError, "Failed to load client", err)
		return
	}
	writeJSON(w, http.StatusCreated, toClientDTO(*saved))
}

// GetBalance returns the client's current credit balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := credit.ClientID(chi.URLParam(r, "id"))

	balance, err := h.Ledger.Balance(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		ClientID:          string(id),
		SessionsRemaining: balance,
		AsOf:              time.Now().UTC().Format(time.RFC3339),
	})
}

// GetTransactions returns the client's full ledger history.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id := credit.ClientID(chi.URLParam(r, "id"))

	txs, err := h.Ledger.History(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// Purchase buys a credit package for the client.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	id := credit.ClientID(chi.URLParam(r, "id"))

	var req PurchaseRequest
	if !h.decode(w, r, &req) {
		return
	}

	receipt, err := h.Purchases.Purchase(r.Context(), id, req.PackageID)
	if err != nil {
		if errors.Is(err, purchase.ErrPackageNotFound) {
			writeError(w, http.StatusNotFound, "Package not found", err)
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReceiptDTO(*receipt))
}

// ListPackages returns the purchasable catalog.
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	dtos := make([]PackageDTO, len(h.Purchases.Catalog))
	for i, p := range h.Purchases.Catalog {
		dtos[i] = toPackageDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SESSION HANDLERS
// =============================================================================

// ListSessions returns sessions matching the query filters.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	f := session.Filter{
		TrainerID: credit.TrainerID(r.URL.Query().Get("trainer_id")),
		ClientID:  credit.ClientID(r.URL.Query().Get("client_id")),
	}
	if s := r.URL.Query().Get("status"); s != "" {
		st := session.Status(s)
		if !session.ValidStatus(st) {
			writeError(w, http.StatusBadRequest, "Unknown status", nil)
			return
		}
		f.Statuses = []session.Status{st}
	}
	if s := r.URL.Query().Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from (use RFC3339)", err)
			return
		}
		f.From = &t
	}
	if s := r.URL.Query().Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to (use RFC3339)", err)
			return
		}
		f.To = &t
	}

	records, err := h.Store.ListSessions(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTOs(records))
}

// GetSession returns one session record.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := credit.SessionID(chi.URLParam(r, "id"))

	rec, err := h.Store.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get session", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(*rec))
}

// CreateSession puts a slot (or a trainer time block) on the calendar.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid starts_at (use RFC3339)", err)
		return
	}

	status := session.StatusAvailable
	if req.Blocked {
		status = session.StatusBlocked
	}

	now := time.Now().UTC()
	rec := session.Record{
		ID:              credit.SessionID(uuid.NewString()),
		TrainerID:       credit.TrainerID(req.TrainerID),
		StartsAt:        startsAt,
		DurationMinutes: req.DurationMinutes,
		Status:          status,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := h.Store.CreateSession(r.Context(), rec); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(rec))
}

// BookSession claims a slot for a client.
func (h *Handler) BookSession(w http.ResponseWriter, r *http.Request) {
	id := credit.SessionID(chi.URLParam(r, "id"))

	var req BookSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.Booking.BookSession(r.Context(), credit.ClientID(req.ClientID), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(*rec))
}

// CancelSession cancels a session; the policy decides the refund.
func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	id := credit.SessionID(chi.URLParam(r, "id"))

	var req CancelSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.Booking.CancelSession(r.Context(),
		credit.ClientID(req.ClientID), id, booking.Actor(req.CancelledBy))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(*rec))
}

// CompleteSession marks a confirmed session as delivered.
func (h *Handler) CompleteSession(w http.ResponseWriter, r *http.Request) {
	id := credit.SessionID(chi.URLParam(r, "id"))

	var req CompleteSessionRequest
	if r.ContentLength > 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}

	rec, err := h.Booking.CompleteSession(r.Context(), id, credit.TrainerID(req.TrainerID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(*rec))
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

// GenerateRecurrence expands a recurrence rule into session records.
func (h *Handler) GenerateRecurrence(w http.ResponseWriter, r *http.Request) {
	var req RecurrenceRequest
	if !h.decode(w, r, &req) {
		return
	}

	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start (use RFC3339)", err)
		return
	}

	rule := schedule.Rule{
		TrainerID:       credit.TrainerID(req.TrainerID),
		ClientID:        credit.ClientID(req.ClientID),
		Start:           start,
		DurationMinutes: req.DurationMinutes,
		IntervalDays:    req.IntervalDays,
		Count:           req.Count,
	}
	if len(req.Weekdays) > 0 {
		names := make([]string, len(req.Weekdays))
		for i, n := range req.Weekdays {
			names[i] = strings.ToLower(strings.TrimSpace(n))
		}
		days, ok := parseWeekdays(names)
		if !ok {
			writeError(w, http.StatusBadRequest, "Unknown weekday name", nil)
			return
		}
		rule.Weekdays = days
	}
	if req.Until != "" {
		until, err := time.Parse(time.RFC3339, req.Until)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid until (use RFC3339)", err)
			return
		}
		rule.Until = &until
	}

	res, err := h.Generator.Generate(r.Context(), rule)
	if err != nil {
		if errors.Is(err, schedule.ErrInvalidRule) {
			writeError(w, http.StatusBadRequest, "Invalid recurrence rule", err)
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecurrenceResultDTO(res))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateAdjustment grants credits manually (goodwill, corrections).
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	id := credit.ClientID(chi.URLParam(r, "id"))

	var req AdjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	balance, err := h.Ledger.Allocate(r.Context(), id, req.Amount, credit.ReasonAdminAdjustment, req.Note)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		ClientID:          string(id),
		SessionsRemaining: balance,
		AsOf:              time.Now().UTC().Format(time.RFC3339),
	})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP status codes. Conflicts (no
// credits, slot taken, bad transition, double refund) are 409 so clients can
// surface them inline; consistency failures stay 500.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, credit.ErrClientNotFound):
		writeError(w, http.StatusNotFound, "Client not found", err)
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "Session not found", err)
	case errors.Is(err, booking.ErrNotOwned):
		writeError(w, http.StatusForbidden, "Session belongs to another client", err)
	case errors.Is(err, credit.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
	case errors.Is(err, credit.ErrInsufficientCredits):
		writeError(w, http.StatusConflict, "Not enough credits", err)
	case errors.Is(err, booking.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "Slot is no longer available", err)
	case errors.Is(err, session.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "Invalid status transition", err)
	case errors.Is(err, session.ErrStatusConflict):
		writeError(w, http.StatusConflict, "Session changed concurrently", err)
	case errors.Is(err, credit.ErrAlreadyRefunded):
		writeError(w, http.StatusConflict, "Session already refunded", err)
	case errors.Is(err, credit.ErrDuplicateDebit):
		writeError(w, http.StatusConflict, "Session already deducted", err)
	case errors.Is(err, session.ErrDuplicateSession):
		writeError(w, http.StatusConflict, "Session already exists", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
