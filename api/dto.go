/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, so the engine types can
  change without breaking clients.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts are decimal strings on the way out ("100.5"). On the way in both
  "100.50" and 100.50 are accepted; strings are preferred.

DATES:
  start_date accepts "2006-01-02" (midnight UTC) or full RFC 3339.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/rosca-engine/rosca"
)

// =============================================================================
// REQUESTS
// =============================================================================

// CreatePoolRequest creates a forming pool. The creator joins as the first
// participant.
type CreatePoolRequest struct {
	Name               string          `json:"name"`
	CreatedBy          string          `json:"created_by"`
	OrganizerName      string          `json:"organizer_name,omitempty"`
	ContributionAmount decimal.Decimal `json:"contribution_amount"`
	MemberLimit        int             `json:"member_limit"`
	Frequency          string          `json:"frequency"`
	RotationMode       string          `json:"rotation_mode"`
	RotationOrder      []int           `json:"rotation_order,omitempty"`
	StartDate          string          `json:"start_date"`
}

func (r CreatePoolRequest) toInput() (rosca.CreatePoolInput, error) {
	start, err := parseDate(r.StartDate)
	if err != nil {
		return rosca.CreatePoolInput{}, err
	}
	return rosca.CreatePoolInput{
		Name:          r.Name,
		CreatedBy:     rosca.MemberID(r.CreatedBy),
		OrganizerName: r.OrganizerName,
		Settings: rosca.Settings{
			ContributionAmount: r.ContributionAmount,
			MemberLimit:        r.MemberLimit,
			Frequency:          rosca.Frequency(r.Frequency),
			RotationMode:       rosca.RotationMode(r.RotationMode),
			RotationOrder:      r.RotationOrder,
			StartDate:          start,
		},
	}, nil
}

type JoinRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// ContributionRequest records a payment. PaidAt defaults to now.
type ContributionRequest struct {
	MemberID string          `json:"member_id"`
	Amount   decimal.Decimal `json:"amount"`
	PaidAt   *time.Time      `json:"paid_at,omitempty"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// PoolSummaryDTO is one row of the pool list.
type PoolSummaryDTO struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Status             string          `json:"status"`
	Members            int             `json:"members"`
	MemberLimit        int             `json:"member_limit"`
	ContributionAmount decimal.Decimal `json:"contribution_amount"`
	Frequency          string          `json:"frequency"`
	CurrentPeriod      int             `json:"current_period"`
	CreatedAt          string          `json:"created_at"`
}

// PoolDTO is the full pool with derived period states.
type PoolDTO struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	CreatedBy     string                `json:"created_by"`
	Status        string                `json:"status"`
	Participants  []rosca.Participant   `json:"participants"`
	Contribution  decimal.Decimal       `json:"contribution_amount"`
	Pot           decimal.Decimal       `json:"pot"`
	MemberLimit   int                   `json:"member_limit"`
	Frequency     string                `json:"frequency"`
	RotationMode  string                `json:"rotation_mode"`
	RotationOrder []int                 `json:"rotation_order,omitempty"`
	Recurrence    string                `json:"recurrence,omitempty"`
	StartDate     string                `json:"start_date"`
	CurrentPeriod int                   `json:"current_period"`
	Periods       []rosca.TimelineEntry `json:"periods"`
	Version       int64                 `json:"version"`
	CreatedAt     string                `json:"created_at"`
	UpdatedAt     string                `json:"updated_at"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error       string           `json:"error"`
	Details     string           `json:"details,omitempty"`
	Outstanding []rosca.MemberID `json:"outstanding,omitempty"`
}

// =============================================================================
// CONVERSION
// =============================================================================

func toPoolSummaryDTO(p *rosca.Pool) PoolSummaryDTO {
	return PoolSummaryDTO{
		ID:                 string(p.ID),
		Name:               p.Name,
		Status:             string(p.Status),
		Members:            len(p.Participants),
		MemberLimit:        p.Config.MemberLimit,
		ContributionAmount: p.Config.ContributionAmount,
		Frequency:          string(p.Config.Frequency),
		CurrentPeriod:      p.Config.CurrentPeriod,
		CreatedAt:          p.CreatedAt.Format(time.RFC3339),
	}
}

func toPoolDTO(p *rosca.Pool, now time.Time) PoolDTO {
	rule, _ := p.Recurrence()
	return PoolDTO{
		ID:            string(p.ID),
		Name:          p.Name,
		CreatedBy:     string(p.CreatedBy),
		Status:        string(p.Status),
		Participants:  p.Participants,
		Contribution:  p.Config.ContributionAmount,
		Pot:           p.Config.Pot(),
		MemberLimit:   p.Config.MemberLimit,
		Frequency:     string(p.Config.Frequency),
		RotationMode:  string(p.Config.RotationMode),
		RotationOrder: p.Config.RotationOrder,
		Recurrence:    rule,
		StartDate:     p.Config.StartDate.Format(time.RFC3339),
		CurrentPeriod: p.Config.CurrentPeriod,
		Periods:       rosca.Timeline(p, now),
		Version:       p.Version,
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     p.UpdatedAt.Format(time.RFC3339),
	}
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, rosca.ErrInvalidStartDate
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is neither YYYY-MM-DD nor RFC 3339", rosca.ErrInvalidStartDate, s)
	}
	return t, nil
}
