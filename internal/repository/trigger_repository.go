package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wa_automation/internal/entities"
)

const triggerColumns = `t.id, t.connection_id, t.name, t.trigger_type, COALESCE(t.trigger_value, ''),
	t.action_type, t.action_data, t.is_active, t.created_at, t.updated_at`

const outcomeColumns = `o.trigger_id, o.message_id, o.status, COALESCE(o.error, ''),
	COALESCE(o.outbound_message_id, ''), o.attempts, o.best_effort, o.created_at, o.updated_at`

type TriggerRepository struct {
	db *pgxpool.Pool
}

func NewTriggerRepository(db *pgxpool.Pool) *TriggerRepository {
	return &TriggerRepository{db: db}
}

func scanTrigger(row pgx.Row) (*entities.Trigger, error) {
	var t entities.Trigger
	var data []byte
	err := row.Scan(&t.ID, &t.ConnectionID, &t.Name, &t.ConditionKind, &t.ConditionValue,
		&t.ActionKind, &data, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.ActionData = data
	return &t, nil
}

func scanOutcome(row pgx.Row) (*entities.Outcome, error) {
	var o entities.Outcome
	err := row.Scan(&o.TriggerID, &o.MessageID, &o.Status, &o.Error,
		&o.OutboundMessageID, &o.Attempts, &o.BestEffort, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func collectTriggers(rows pgx.Rows, op string) ([]entities.Trigger, error) {
	defer rows.Close()
	triggers := []entities.Trigger{}
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, mapErr(op, "trigger", err)
		}
		triggers = append(triggers, *t)
	}
	return triggers, mapErr(op, "trigger", rows.Err())
}

// Create stores a validated trigger. The connection must belong to userID.
func (r *TriggerRepository) Create(ctx context.Context, userID int, t *entities.Trigger) error {
	t.ID = uuid.NewString()
	err := r.db.QueryRow(ctx, `
		INSERT INTO whatsapp_triggers
			(id, connection_id, name, trigger_type, trigger_value, action_type, action_data, is_active)
		SELECT $1, c.id, $3, $4, $5, $6, $7, $8
		FROM whatsapp_connections c
		WHERE c.id = $2 AND c.user_id = $9
		RETURNING created_at, updated_at
	`, t.ID, t.ConnectionID, t.Name, string(t.ConditionKind), nullable(t.ConditionValue),
		string(t.ActionKind), []byte(t.ActionData), t.IsActive, userID).Scan(&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return entities.NotFound("connection")
	}
	return mapErr("create trigger", "connection", err)
}

// ListForUser returns the user's triggers, newest first, optionally for one connection.
func (r *TriggerRepository) ListForUser(ctx context.Context, userID int, connectionID string) ([]entities.Trigger, error) {
	rows, err := r.db.Query(ctx, "SELECT "+triggerColumns+`
		FROM whatsapp_triggers t
		JOIN whatsapp_connections c ON c.id = t.connection_id
		WHERE c.user_id = $1 AND ($2 = '' OR t.connection_id = $2)
		ORDER BY t.created_at DESC`, userID, connectionID)
	if err != nil {
		return nil, mapErr("list triggers", "trigger", err)
	}
	return collectTriggers(rows, "list triggers")
}

func (r *TriggerRepository) GetForUser(ctx context.Context, userID int, id string) (*entities.Trigger, error) {
	t, err := scanTrigger(r.db.QueryRow(ctx, "SELECT "+triggerColumns+`
		FROM whatsapp_triggers t
		JOIN whatsapp_connections c ON c.id = t.connection_id
		WHERE t.id = $1 AND c.user_id = $2`, id, userID))
	if err != nil {
		return nil, mapErr("get trigger", "trigger", err)
	}
	return t, nil
}

// Update replaces the editable fields. The connection binding never changes.
func (r *TriggerRepository) Update(ctx context.Context, userID int, t *entities.Trigger) error {
	err := r.db.QueryRow(ctx, `
		UPDATE whatsapp_triggers t
		SET name = $1, trigger_type = $2, trigger_value = $3, action_type = $4,
			action_data = $5, is_active = $6, updated_at = NOW()
		FROM whatsapp_connections c
		WHERE c.id = t.connection_id AND t.id = $7 AND c.user_id = $8
		RETURNING t.created_at, t.updated_at
	`, t.Name, string(t.ConditionKind), nullable(t.ConditionValue), string(t.ActionKind),
		[]byte(t.ActionData), t.IsActive, t.ID, userID).Scan(&t.CreatedAt, &t.UpdatedAt)
	return mapErr("update trigger", "trigger", err)
}

func (r *TriggerRepository) SetActive(ctx context.Context, userID int, id string, active bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE whatsapp_triggers t
		SET is_active = $1, updated_at = NOW()
		FROM whatsapp_connections c
		WHERE c.id = t.connection_id AND t.id = $2 AND c.user_id = $3
	`, active, id, userID)
	if err != nil {
		return mapErr("toggle trigger", "trigger", err)
	}
	if tag.RowsAffected() == 0 {
		return entities.NotFound("trigger")
	}
	return nil
}

func (r *TriggerRepository) DeleteForUser(ctx context.Context, userID int, id string) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM whatsapp_triggers t
		USING whatsapp_connections c
		WHERE c.id = t.connection_id AND t.id = $1 AND c.user_id = $2
	`, id, userID)
	if err != nil {
		return mapErr("delete trigger", "trigger", err)
	}
	if tag.RowsAffected() == 0 {
		return entities.NotFound("trigger")
	}
	return nil
}

// CountForUser returns the number of triggers and how many are active.
func (r *TriggerRepository) CountForUser(ctx context.Context, userID int) (total, active int, err error) {
	err = r.db.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE t.is_active)
		FROM whatsapp_triggers t
		JOIN whatsapp_connections c ON c.id = t.connection_id
		WHERE c.user_id = $1
	`, userID).Scan(&total, &active)
	return total, active, mapErr("count triggers", "trigger", err)
}

// ListActiveTriggers returns the active triggers of a connection with their
// action decoded. A row whose payload no longer decodes keeps Action nil.
func (r *TriggerRepository) ListActiveTriggers(ctx context.Context, connectionID string) ([]entities.Trigger, error) {
	rows, err := r.db.Query(ctx, "SELECT "+triggerColumns+`
		FROM whatsapp_triggers t
		WHERE t.connection_id = $1 AND t.is_active
		ORDER BY t.created_at`, connectionID)
	if err != nil {
		return nil, mapErr("list active triggers", "trigger", err)
	}
	triggers, err := collectTriggers(rows, "list active triggers")
	if err != nil {
		return nil, err
	}
	for i := range triggers {
		if spec, err := entities.DecodeAction(triggers[i].ActionKind, triggers[i].ActionData); err == nil {
			triggers[i].Action = spec
		}
	}
	return triggers, nil
}

// ClaimDispatch inserts the pending outcome row. The primary key on
// (trigger_id, message_id) makes the second claim a no-op.
func (r *TriggerRepository) ClaimDispatch(ctx context.Context, triggerID, messageID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO trigger_outcomes (trigger_id, message_id, status, attempts)
		VALUES ($1, $2, 'pending', 1)
		ON CONFLICT (trigger_id, message_id) DO NOTHING
	`, triggerID, messageID)
	if err != nil {
		return false, mapErr("claim dispatch", "trigger or message", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordOutcome writes the final status of a claimed dispatch.
func (r *TriggerRepository) RecordOutcome(ctx context.Context, o entities.Outcome) error {
	if o.Attempts < 1 {
		o.Attempts = 1
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO trigger_outcomes
			(trigger_id, message_id, status, error, outbound_message_id, attempts, best_effort)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (trigger_id, message_id) DO UPDATE
		SET status = EXCLUDED.status,
			error = EXCLUDED.error,
			outbound_message_id = EXCLUDED.outbound_message_id,
			attempts = GREATEST(trigger_outcomes.attempts, EXCLUDED.attempts),
			best_effort = EXCLUDED.best_effort,
			updated_at = NOW()
	`, o.TriggerID, o.MessageID, string(o.Status), nullable(o.Error),
		nullable(o.OutboundMessageID), o.Attempts, o.BestEffort)
	return mapErr("record outcome", "trigger or message", err)
}

// ListOutcomes returns the latest outcomes of a trigger owned by userID.
func (r *TriggerRepository) ListOutcomes(ctx context.Context, userID int, triggerID string, limit int) ([]entities.Outcome, error) {
	if _, err := r.GetForUser(ctx, userID, triggerID); err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, "SELECT "+outcomeColumns+`
		FROM trigger_outcomes o
		WHERE o.trigger_id = $1
		ORDER BY o.created_at DESC
		LIMIT $2`, triggerID, limit)
	if err != nil {
		return nil, mapErr("list outcomes", "outcome", err)
	}
	defer rows.Close()

	outcomes := []entities.Outcome{}
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, mapErr("list outcomes", "outcome", err)
		}
		outcomes = append(outcomes, *o)
	}
	return outcomes, mapErr("list outcomes", "outcome", rows.Err())
}

// ListRetryable returns webhook outcomes of still-active triggers that have
// attempts left and either failed or were left pending since before
// staleBefore, oldest first.
func (r *TriggerRepository) ListRetryable(ctx context.Context, maxAttempts, limit int, staleBefore time.Time) ([]entities.RetryCandidate, error) {
	rows, err := r.db.Query(ctx, "SELECT "+triggerColumns+", "+messageColumns+", "+outcomeColumns+`
		FROM trigger_outcomes o
		JOIN whatsapp_triggers t ON t.id = o.trigger_id
		JOIN whatsapp_messages m ON m.id = o.message_id
		WHERE (o.status = 'failed' OR (o.status = 'pending' AND o.updated_at < $3))
			AND o.attempts < $1
			AND t.is_active AND t.action_type = 'n8n_webhook'
		ORDER BY o.updated_at
		LIMIT $2`, maxAttempts, limit, staleBefore)
	if err != nil {
		return nil, mapErr("list retryable outcomes", "outcome", err)
	}
	defer rows.Close()

	candidates := []entities.RetryCandidate{}
	for rows.Next() {
		var c entities.RetryCandidate
		var actionData, metadata []byte
		err := rows.Scan(
			&c.Trigger.ID, &c.Trigger.ConnectionID, &c.Trigger.Name, &c.Trigger.ConditionKind,
			&c.Trigger.ConditionValue, &c.Trigger.ActionKind, &actionData, &c.Trigger.IsActive,
			&c.Trigger.CreatedAt, &c.Trigger.UpdatedAt,
			&c.Message.ID, &c.Message.ConnectionID, &c.Message.FromNumber, &c.Message.ToNumber,
			&c.Message.Kind, &c.Message.Content, &c.Message.MediaURL, &metadata,
			&c.Message.Status, &c.Message.CreatedAt, &c.Message.ExternalID,
			&c.Outcome.TriggerID, &c.Outcome.MessageID, &c.Outcome.Status, &c.Outcome.Error,
			&c.Outcome.OutboundMessageID, &c.Outcome.Attempts, &c.Outcome.BestEffort,
			&c.Outcome.CreatedAt, &c.Outcome.UpdatedAt,
		)
		if err != nil {
			return nil, mapErr("list retryable outcomes", "outcome", err)
		}
		c.Trigger.ActionData = actionData
		c.Message.Metadata = metadata
		spec, err := entities.DecodeAction(c.Trigger.ActionKind, actionData)
		if err != nil {
			continue
		}
		c.Trigger.Action = spec
		candidates = append(candidates, c)
	}
	return candidates, mapErr("list retryable outcomes", "outcome", rows.Err())
}

// ClaimRetry moves a failed or stale pending outcome to a fresh pending
// attempt and returns its number. ok is false when another sweep got there
// first.
func (r *TriggerRepository) ClaimRetry(ctx context.Context, triggerID, messageID string, staleBefore time.Time) (attempt int, ok bool, err error) {
	err = r.db.QueryRow(ctx, `
		UPDATE trigger_outcomes
		SET status = 'pending', attempts = attempts + 1, updated_at = NOW()
		WHERE trigger_id = $1 AND message_id = $2
			AND (status = 'failed' OR (status = 'pending' AND updated_at < $3))
		RETURNING attempts
	`, triggerID, messageID, staleBefore).Scan(&attempt)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, mapErr("claim retry", "outcome", err)
	}
	return attempt, true, nil
}
