package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// Deployment binds a flow to a cron schedule. The next due time is
// precomputed so the scheduler can poll for due deployments without keeping
// individual timers.
type Deployment struct {
	// ID uniquely identifies this deployment
	ID string `json:"id" validate:"required"`

	// FlowID identifies the flow this deployment schedules
	FlowID string `json:"flow_id" validate:"required"`

	// Name is a human-readable label for the deployment
	Name string `json:"name"`

	// CronExpression defines when runs are due, in standard 5-field cron
	// format (minute hour day month weekday)
	CronExpression string `json:"cron_expression" validate:"required"`

	// NextDueAt is the precomputed next due time
	NextDueAt time.Time `json:"next_due_at" validate:"required"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Active deployments are the only ones the scheduler polls
	Active bool `json:"active"`
}

// ErrInvalidDeployment is returned when deployment validation fails.
var ErrInvalidDeployment = errors.New("invalid deployment configuration")

// NewDeployment creates a deployment with its first due time calculated from
// now.
func NewDeployment(id, flowID, name, cronExpression string) (*Deployment, error) {
	now := time.Now().UTC()
	deployment := &Deployment{
		ID:             id,
		FlowID:         flowID,
		Name:           name,
		CronExpression: cronExpression,
		CreatedAt:      now,
		UpdatedAt:      now,
		Active:         true,
	}

	if err := deployment.calculateNextDueAt(now); err != nil {
		return nil, err
	}

	return deployment, nil
}

// UpdateNextDueAt recomputes the next due time from the current time.
func (d *Deployment) UpdateNextDueAt() error {
	return d.calculateNextDueAt(time.Now().UTC())
}

func (d *Deployment) calculateNextDueAt(referenceTime time.Time) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	schedule, err := parser.Parse(d.CronExpression)
	if err != nil {
		return err
	}

	d.NextDueAt = schedule.Next(referenceTime)
	d.UpdatedAt = time.Now().UTC()

	return nil
}

// IsDue reports whether a run is due for this deployment at the given time.
func (d *Deployment) IsDue(now time.Time) bool {
	return d.Active && !d.NextDueAt.After(now)
}

// Validate checks the deployment fields and cron expression.
func (d *Deployment) Validate() error {
	if d.ID == "" || d.FlowID == "" || d.CronExpression == "" {
		return ErrInvalidDeployment
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(d.CronExpression)

	return err
}
