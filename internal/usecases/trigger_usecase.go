package usecases

import (
	"context"
	"encoding/json"

	"wa_automation/internal/entities"
	"wa_automation/internal/repository"
)

const defaultOutcomeLimit = 50

// TriggerInput is the request body for creating or replacing a trigger.
type TriggerInput struct {
	ConnectionID string                 `json:"connection_id"`
	Name         string                 `json:"name"`
	TriggerType  entities.ConditionKind `json:"trigger_type"`
	TriggerValue string                 `json:"trigger_value"`
	ActionType   entities.ActionKind    `json:"action_type"`
	ActionData   json.RawMessage        `json:"action_data"`
	IsActive     *bool                  `json:"is_active"`
}

func (in TriggerInput) apply(t *entities.Trigger) error {
	t.Name = in.Name
	t.ConditionKind = in.TriggerType
	t.ConditionValue = in.TriggerValue
	t.ActionKind = in.ActionType
	t.ActionData = in.ActionData
	if in.IsActive != nil {
		t.IsActive = *in.IsActive
	}
	return t.Validate()
}

type TriggerUsecase struct {
	repo *repository.TriggerRepository
}

func NewTriggerUsecase(repo *repository.TriggerRepository) *TriggerUsecase {
	return &TriggerUsecase{repo: repo}
}

// Create validates and stores a trigger. New triggers are active unless
// the input says otherwise.
func (u *TriggerUsecase) Create(ctx context.Context, userID int, in TriggerInput) (*entities.Trigger, error) {
	t := &entities.Trigger{ConnectionID: in.ConnectionID, IsActive: true}
	if err := in.apply(t); err != nil {
		return nil, err
	}
	if err := u.repo.Create(ctx, userID, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (u *TriggerUsecase) List(ctx context.Context, userID int, connectionID string) ([]entities.Trigger, error) {
	return u.repo.ListForUser(ctx, userID, connectionID)
}

func (u *TriggerUsecase) Get(ctx context.Context, userID int, id string) (*entities.Trigger, error) {
	return u.repo.GetForUser(ctx, userID, id)
}

// Update replaces a trigger's condition and action. The connection it is
// bound to cannot change.
func (u *TriggerUsecase) Update(ctx context.Context, userID int, id string, in TriggerInput) (*entities.Trigger, error) {
	t, err := u.repo.GetForUser(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if in.ConnectionID != "" && in.ConnectionID != t.ConnectionID {
		return nil, entities.NewValidationError("connection_id", "cannot be changed")
	}
	if err := in.apply(t); err != nil {
		return nil, err
	}
	if err := u.repo.Update(ctx, userID, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (u *TriggerUsecase) SetActive(ctx context.Context, userID int, id string, active bool) error {
	return u.repo.SetActive(ctx, userID, id, active)
}

func (u *TriggerUsecase) Delete(ctx context.Context, userID int, id string) error {
	return u.repo.DeleteForUser(ctx, userID, id)
}

func (u *TriggerUsecase) Outcomes(ctx context.Context, userID int, id string, limit int) ([]entities.Outcome, error) {
	if limit <= 0 || limit > maxMessageLimit {
		limit = defaultOutcomeLimit
	}
	return u.repo.ListOutcomes(ctx, userID, id, limit)
}
