/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags; handlers run them
  through the shared validator before touching domain logic. DTOs stay pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/config.go: ConfigJSON type
*/
package api

import (
	"time"

	"github.com/studiofit/session-engine/credit"
	"github.com/studiofit/session-engine/purchase"
	"github.com/studiofit/session-engine/schedule"
	"github.com/studiofit/session-engine/session"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// ClientDTO represents a client in API responses.
type ClientDTO struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	SessionsRemaining int    `json:"sessions_remaining"`
	TotalAllocated    int    `json:"total_allocated"`
	SessionsCompleted int    `json:"sessions_completed"`
	SessionsScheduled int    `json:"sessions_scheduled"`
	SessionsCancelled int    `json:"sessions_cancelled"`
	CreatedAt         string `json:"created_at,omitempty"`
}

// CreateClientRequest is the request to register a client.
type CreateClientRequest struct {
	ID      string `json:"id" validate:"required"`
	Name    string `json:"name" validate:"required"`
	Credits int    `json:"credits" validate:"gte=0"`
}

// TransactionDTO represents a ledger transaction.
type TransactionDTO struct {
	ID        string `json:"id"`
	ClientID  string `json:"client_id"`
	Delta     int    `json:"delta"`
	Reason    string `json:"reason"`
	SessionID string `json:"session_id,omitempty"`
	Note      string `json:"note,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// SessionDTO represents a session record.
type SessionDTO struct {
	ID              string `json:"id"`
	TrainerID       string `json:"trainer_id,omitempty"`
	ClientID        string `json:"client_id,omitempty"`
	StartsAt        string `json:"starts_at"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status"`
	Deducted        bool   `json:"deducted"`
	Notes           string `json:"notes,omitempty"`
}

// CreateSessionRequest is the request to create a slot on the calendar.
type CreateSessionRequest struct {
	TrainerID       string `json:"trainer_id" validate:"required"`
	StartsAt        string `json:"starts_at" validate:"required"`
	DurationMinutes int    `json:"duration_minutes" validate:"gt=0"`
	Blocked         bool   `json:"blocked,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

// BookSessionRequest is the request to claim a slot.
type BookSessionRequest struct {
	ClientID string `json:"client_id" validate:"required"`
}

// CancelSessionRequest is the request to cancel a session.
type CancelSessionRequest struct {
	ClientID    string `json:"client_id,omitempty"`
	CancelledBy string `json:"cancelled_by" validate:"required,oneof=client staff"`
}

// CompleteSessionRequest is the request to mark a session completed.
type CompleteSessionRequest struct {
	TrainerID string `json:"trainer_id,omitempty"`
}

// PurchaseRequest is the request to buy a credit package.
type PurchaseRequest struct {
	PackageID string `json:"package_id" validate:"required"`
}

// ReceiptDTO is the response after a purchase.
type ReceiptDTO struct {
	ID         string `json:"id"`
	ClientID   string `json:"client_id"`
	PackageID  string `json:"package_id"`
	Credits    int    `json:"credits"`
	Price      string `json:"price"`
	NewBalance int    `json:"new_balance"`
	At         string `json:"at"`
}

// PackageDTO represents a purchasable package.
type PackageDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Credits        int    `json:"credits"`
	Price          string `json:"price"`
	PricePerCredit string `json:"price_per_credit"`
}

// AdjustmentRequest is the request for a manual credit adjustment.
type AdjustmentRequest struct {
	Amount int    `json:"amount" validate:"gt=0"`
	Note   string `json:"note,omitempty"`
}

// RecurrenceRequest is the request to generate a recurring series.
type RecurrenceRequest struct {
	TrainerID       string   `json:"trainer_id" validate:"required"`
	ClientID        string   `json:"client_id,omitempty"`
	Start           string   `json:"start" validate:"required"`
	DurationMinutes int      `json:"duration_minutes" validate:"gt=0"`
	Weekdays        []string `json:"weekdays,omitempty"`
	IntervalDays    int      `json:"interval_days,omitempty" validate:"gte=0"`
	Count           int      `json:"count,omitempty" validate:"gte=0"`
	Until           string   `json:"until,omitempty"`
}

// RecurrenceResultDTO is the outcome of a recurrence expansion.
type RecurrenceResultDTO struct {
	Created   []SessionDTO `json:"created"`
	Skipped   []SkipDTO    `json:"skipped"`
	Truncated bool         `json:"truncated"`
}

// SkipDTO describes one occurrence that was not created.
type SkipDTO struct {
	StartsAt      string   `json:"starts_at"`
	Reason        string   `json:"reason"`
	ConflictsWith []string `json:"conflicts_with,omitempty"`
	Detail        string   `json:"detail,omitempty"`
}

// BalanceDTO is a client's balance summary.
type BalanceDTO struct {
	ClientID          string `json:"client_id"`
	SessionsRemaining int    `json:"sessions_remaining"`
	AsOf              string `json:"as_of"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toClientDTO(c credit.Client) ClientDTO {
	return ClientDTO{
		ID:                string(c.ID),
		Name:              c.Name,
		SessionsRemaining: c.SessionsRemaining,
		TotalAllocated:    c.TotalSessionsAllocated,
		SessionsCompleted: c.SessionsCompleted,
		SessionsScheduled: c.SessionsScheduled,
		SessionsCancelled: c.SessionsCancelled,
		CreatedAt:         c.CreatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTO(tx credit.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:        string(tx.ID),
		ClientID:  string(tx.ClientID),
		Delta:     tx.Delta,
		Reason:    string(tx.Reason),
		SessionID: string(tx.RelatedSessionID),
		Note:      tx.Note,
		CreatedAt: tx.CreatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTOs(txs []credit.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toSessionDTO(r session.Record) SessionDTO {
	return SessionDTO{
		ID:              string(r.ID),
		TrainerID:       string(r.TrainerID),
		ClientID:        string(r.ClientID),
		StartsAt:        r.StartsAt.Format(time.RFC3339),
		DurationMinutes: r.DurationMinutes,
		Status:          string(r.Status),
		Deducted:        r.Deducted,
		Notes:           r.Notes,
	}
}

func toSessionDTOs(records []session.Record) []SessionDTO {
	dtos := make([]SessionDTO, len(records))
	for i, r := range records {
		dtos[i] = toSessionDTO(r)
	}
	return dtos
}

func toPackageDTO(p purchase.Package) PackageDTO {
	return PackageDTO{
		ID:             p.ID,
		Name:           p.Name,
		Credits:        p.Credits,
		Price:          p.Price.StringFixed(2),
		PricePerCredit: p.PricePerCredit().StringFixed(2),
	}
}

func toReceiptDTO(r purchase.Receipt) ReceiptDTO {
	return ReceiptDTO{
		ID:         r.ID,
		ClientID:   string(r.ClientID),
		PackageID:  r.PackageID,
		Credits:    r.Credits,
		Price:      r.Price.StringFixed(2),
		NewBalance: r.NewBalance,
		At:         r.At.Format(time.RFC3339),
	}
}

func toRecurrenceResultDTO(res *schedule.Result) RecurrenceResultDTO {
	out := RecurrenceResultDTO{
		Created:   toSessionDTOs(res.Created),
		Skipped:   make([]SkipDTO, len(res.Skipped)),
		Truncated: res.Truncated,
	}
	if out.Created == nil {
		out.Created = []SessionDTO{}
	}
	for i, sk := range res.Skipped {
		dto := SkipDTO{
			StartsAt: sk.StartsAt.Format(time.RFC3339),
			Reason:   string(sk.Reason),
			Detail:   sk.Detail,
		}
		for _, id := range sk.ConflictsWith {
			dto.ConflictsWith = append(dto.ConflictsWith, string(id))
		}
		out.Skipped[i] = dto
	}
	return out
}

func parseWeekdays(names []string) ([]time.Weekday, bool) {
	lookup := map[string]time.Weekday{
		"sunday":    time.Sunday,
		"monday":    time.Monday,
		"tuesday":   time.Tuesday,
		"wednesday": time.Wednesday,
		"thursday":  time.Thursday,
		"friday":    time.Friday,
		"saturday":  time.Saturday,
	}
	var out []time.Weekday
	for _, n := range names {
		d, ok := lookup[n]
		if !ok {
			return nil, false
		}
		out = append(out, d)
	}
	return out, true
}
