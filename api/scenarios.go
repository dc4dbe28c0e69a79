/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for testing and demos. Each scenario creates clients, credits,
	sessions and bookings that demonstrate specific features.

AVAILABLE SCENARIOS:

	new-client:        One client with a fresh 10-pack and a week of open slots
	busy-studio:       Two trainers, three clients, bookings, a refund, a
	                   completed session
	recurring-program: Weekly pre-assigned program generated from a rule

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create clients and allocate credits
 3. Create session slots
 4. Drive bookings/cancellations through the real services

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "busy-studio"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler dependencies the loaders reuse
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/studiofit/session-engine/booking"
	"github.com/studiofit/session-engine/credit"
	"github.com/studiofit/session-engine/schedule"
	"github.com/studiofit/session-engine/session"
)

// Resetter is implemented by stores that can wipe themselves (sqlite, memory
// via re-creation). Scenario loading requires it.
type Resetter interface {
	Reset(ctx context.Context) error
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "new-client",
		Name:        "New Client",
		Description: "One client with a fresh 10-pack and a week of open slots",
	},
	{
		ID:          "busy-studio",
		Name:        "Busy Studio",
		Description: "Two trainers, three clients, bookings, a refunded cancellation and a completed session",
	},
	{
		ID:          "recurring-program",
		Name:        "Recurring Program",
		Description: "Weekly pre-assigned training program generated from a recurrence rule",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	resetter, ok := h.Store.(Resetter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Store does not support reset", nil)
		return
	}

	ctx := r.Context()
	if err := resetter.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	var err error
	switch req.ScenarioID {
	case "new-client":
		err = h.loadNewClientScenario(ctx)
	case "busy-studio":
		err = h.loadBusyStudioScenario(ctx)
	case "recurring-program":
		err = h.loadRecurringProgramScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears everything without loading a scenario.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	resetter, ok := h.Store.(Resetter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Store does not support reset", nil)
		return
	}
	if err := resetter.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) createClient(ctx context.Context, id, name string, credits int) error {
	c := credit.Client{ID: credit.ClientID(id), Name: name, CreatedAt: time.Now().UTC()}
	if err := h.Store.SaveClient(ctx, c); err != nil {
		return err
	}
	if credits > 0 {
		if _, err := h.Ledger.Allocate(ctx, c.ID, credits, credit.ReasonPurchase, "scenario allocation"); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) createSlot(ctx context.Context, trainer string, startsAt time.Time, minutes int) (credit.SessionID, error) {
	now := time.Now().UTC()
	rec := session.Record{
		ID:              credit.SessionID(uuid.NewString()),
		TrainerID:       credit.TrainerID(trainer),
		StartsAt:        startsAt,
		DurationMinutes: minutes,
		Status:          session.StatusAvailable,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return rec.ID, h.Store.CreateSession(ctx, rec)
}

// loadNewClientScenario: fresh 10-pack, a week of open 07:00 slots.
func (h *Handler) loadNewClientScenario(ctx context.Context) error {
	if err := h.createClient(ctx, "alice", "Alice Morgan", 10); err != nil {
		return err
	}

	day := time.Now().UTC().Truncate(24 * time.Hour).Add(31 * time.Hour) // tomorrow 07:00
	for i := 0; i < 7; i++ {
		if _, err := h.createSlot(ctx, "trainer-sam", day.AddDate(0, 0, i), 60); err != nil {
			return err
		}
	}
	return nil
}

// loadBusyStudioScenario: bookings, a refunded cancellation and a completed
// session across two trainers.
func (h *Handler) loadBusyStudioScenario(ctx context.Context) error {
	for _, c := range []struct {
		id, name string
		credits  int
	}{
		{"alice", "Alice Morgan", 10},
		{"bruno", "Bruno Keller", 5},
		{"carla", "Carla Diaz", 20},
	} {
		if err := h.createClient(ctx, c.id, c.name, c.credits); err != nil {
			return err
		}
	}

	base := time.Now().UTC().Truncate(24 * time.Hour).Add(48*time.Hour + 9*time.Hour)
	trainers := []string{"trainer-sam", "trainer-lee"}

	var booked []credit.SessionID
	for d := 0; d < 3; d++ {
		for i, tr := range trainers {
			id, err := h.createSlot(ctx, tr, base.AddDate(0, 0, d).Add(time.Duration(i)*time.Hour), 60)
			if err != nil {
				return err
			}
			if d == 0 {
				booked = append(booked, id)
			}
		}
	}

	clients := []credit.ClientID{"alice", "bruno"}
	for i, sid := range booked {
		if _, err := h.Booking.BookSession(ctx, clients[i%len(clients)], sid); err != nil {
			return err
		}
	}

	// Alice cancels well ahead of the cutoff: credit comes back.
	if len(booked) > 0 {
		if _, err := h.Booking.CancelSession(ctx, "alice", booked[0], booking.ActorClient); err != nil {
			return err
		}
	}

	// Carla already trained once: book a past-dated slot and complete it.
	past, err := h.createSlot(ctx, "trainer-lee", time.Now().UTC().Add(-72*time.Hour), 60)
	if err != nil {
		return err
	}
	if _, err := h.Booking.BookSession(ctx, "carla", past); err != nil {
		return err
	}
	if _, err := h.Booking.CompleteSession(ctx, past, "trainer-lee"); err != nil {
		return err
	}

	return nil
}

// loadRecurringProgramScenario: a weekly pre-assigned program.
func (h *Handler) loadRecurringProgramScenario(ctx context.Context) error {
	if err := h.createClient(ctx, "carla", "Carla Diaz", 20); err != nil {
		return err
	}

	start := time.Now().UTC().Truncate(24 * time.Hour).Add(24*time.Hour + 18*time.Hour)
	_, err := h.Generator.Generate(ctx, schedule.Rule{
		TrainerID:       "trainer-sam",
		ClientID:        "carla",
		Start:           start,
		DurationMinutes: 60,
		IntervalDays:    7,
		Count:           8,
	})
	return err
}
