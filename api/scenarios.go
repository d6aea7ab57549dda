/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built pools that show the engine in a specific state. Each
  loader drives the public service operations, so a scenario pool is exactly
  what a client would have built by hand.

AVAILABLE SCENARIOS:
  family-monthly: Forming monthly pool, 2 of 3 members joined
  weekly-ballot:  Active weekly pool with a drawn order, period 1 half paid
  end-of-month:   Monthly pool starting on the 31st (clamped payout dates)
  overdue:        Active pool whose first period is past due

HOW SCENARIOS WORK:
  1. Create the pool with the organizer as first member
  2. Join the remaining members
  3. Activate (draws rotation, materializes periods)
  4. Record contributions and payouts as needed

  Loading never deletes anything; each load adds a fresh pool.

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "weekly-ballot"}

ADDING NEW SCENARIOS:
  1. Add to 'scenarios' slice with ID, name, description
  2. Create loader function: loadXxxScenario(ctx, svc, now)
  3. Add it to the 'loaders' map

SEE ALSO:
  - handlers.go: writeJSON, writeServiceError
  - rosca/service.go: operations used by the loaders
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/rosca-engine/rosca"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "family-monthly",
		Name:        "Family Monthly",
		Description: "Forming monthly pool of 3, fixed order, one seat left",
	},
	{
		ID:          "weekly-ballot",
		Name:        "Weekly Ballot",
		Description: "Active weekly pool of 4 with a drawn order, period 1 half paid",
	},
	{
		ID:          "end-of-month",
		Name:        "End of Month",
		Description: "Monthly pool starting on the 31st, payouts clamp to month end",
	},
	{
		ID:          "overdue",
		Name:        "Overdue Period",
		Description: "Active pool whose first period is past due with one member outstanding",
	},
}

type scenarioLoader func(ctx context.Context, svc *rosca.Service, now time.Time) (*rosca.Pool, error)

var loaders = map[string]scenarioLoader{
	"family-monthly": loadFamilyMonthlyScenario,
	"weekly-ballot":  loadWeeklyBallotScenario,
	"end-of-month":   loadEndOfMonthScenario,
	"overdue":        loadOverdueScenario,
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario creates the scenario's pool and returns it.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	pool, err := load(r.Context(), h.Service, h.now())
	if h.Metrics != nil {
		h.Metrics.observe("scenario", err)
	}
	if err != nil {
		h.writeServiceError(w, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPoolDTO(pool, h.now()))
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// buildPool creates a pool, fills it with members and optionally activates.
func buildPool(ctx context.Context, svc *rosca.Service, name string, s rosca.Settings, members []rosca.Participant, activate bool) (*rosca.Pool, error) {
	pool, err := svc.CreatePool(ctx, rosca.CreatePoolInput{
		Name:          name,
		CreatedBy:     members[0].UserID,
		OrganizerName: members[0].Name,
		Settings:      s,
	})
	if err != nil {
		return nil, err
	}
	for _, m := range members[1:] {
		if pool, err = svc.Join(ctx, pool.ID, m.UserID, m.Name); err != nil {
			return nil, err
		}
	}
	if activate {
		return svc.Activate(ctx, pool.ID)
	}
	return pool, nil
}

func loadFamilyMonthlyScenario(ctx context.Context, svc *rosca.Service, now time.Time) (*rosca.Pool, error) {
	return buildPool(ctx, svc, "Family Pot", rosca.Settings{
		ContributionAmount: decimal.NewFromInt(200),
		MemberLimit:        3,
		Frequency:          rosca.FrequencyMonthly,
		RotationMode:       rosca.RotationFixedOrder,
		StartDate:          dateOnly(now.AddDate(0, 1, 0)),
	}, []rosca.Participant{
		{UserID: "amara", Name: "Amara"},
		{UserID: "kwame", Name: "Kwame"},
	}, false)
}

func loadWeeklyBallotScenario(ctx context.Context, svc *rosca.Service, now time.Time) (*rosca.Pool, error) {
	pool, err := buildPool(ctx, svc, "Office Weekly", rosca.Settings{
		ContributionAmount: decimal.RequireFromString("25.50"),
		MemberLimit:        4,
		Frequency:          rosca.FrequencyWeekly,
		RotationMode:       rosca.RotationBallotDraw,
		StartDate:          dateOnly(now.AddDate(0, 0, 3)),
	}, []rosca.Participant{
		{UserID: "lena", Name: "Lena"},
		{UserID: "tomas", Name: "Tomás"},
		{UserID: "priya", Name: "Priya"},
		{UserID: "jun", Name: "Jun"},
	}, true)
	if err != nil {
		return nil, err
	}

	amount := pool.Config.ContributionAmount
	for _, m := range []rosca.MemberID{"lena", "priya"} {
		if pool, err = svc.RecordContribution(ctx, pool.ID, 1, m, amount, now); err != nil {
			return nil, err
		}
	}
	return pool, nil
}

func loadEndOfMonthScenario(ctx context.Context, svc *rosca.Service, now time.Time) (*rosca.Pool, error) {
	return buildPool(ctx, svc, "Month End Club", rosca.Settings{
		ContributionAmount: decimal.NewFromInt(150),
		MemberLimit:        4,
		Frequency:          rosca.FrequencyMonthly,
		RotationMode:       rosca.RotationFixedOrder,
		StartDate:          time.Date(now.Year()+1, time.January, 31, 0, 0, 0, 0, time.UTC),
	}, []rosca.Participant{
		{UserID: "sofia", Name: "Sofia"},
		{UserID: "malik", Name: "Malik"},
		{UserID: "yuki", Name: "Yuki"},
		{UserID: "oren", Name: "Oren"},
	}, true)
}

// loadOverdueScenario backdates the first payout so period 1 is overdue
// with one member still owing.
func loadOverdueScenario(ctx context.Context, svc *rosca.Service, now time.Time) (*rosca.Pool, error) {
	pool, err := buildPool(ctx, svc, "Late Payers", rosca.Settings{
		ContributionAmount: decimal.NewFromInt(50),
		MemberLimit:        3,
		Frequency:          rosca.FrequencyWeekly,
		RotationMode:       rosca.RotationFixedOrder,
		StartDate:          dateOnly(now.AddDate(0, 0, -3)),
	}, []rosca.Participant{
		{UserID: "ines", Name: "Ines"},
		{UserID: "dario", Name: "Dario"},
		{UserID: "femi", Name: "Femi"},
	}, true)
	if err != nil {
		return nil, err
	}

	amount := pool.Config.ContributionAmount
	paidAt := now.AddDate(0, 0, -8)
	for _, m := range []rosca.MemberID{"ines", "dario"} {
		if pool, err = svc.RecordContribution(ctx, pool.ID, 1, m, amount, paidAt); err != nil {
			return nil, err
		}
	}
	return pool, nil
}
