// Package postgres is the one durable Repository backend spec §4.D
// allows ("a durable backend is optional; the core works fully with an
// in-memory implementation"). It follows the persisted-state layout of
// spec §6 exactly and is grounded on the teacher's
// ollama-distributed/pkg/database (sqlx + lib/pq, JSON columns for
// object/list fields, context-scoped queries).
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/hivemesh/swarmcore/internal/errs"
	"github.com/hivemesh/swarmcore/pkg/agent"
	"github.com/hivemesh/swarmcore/pkg/repository"
	"github.com/hivemesh/swarmcore/pkg/task"
)

var (
	_ repository.Repository[*task.Task]   = (*TaskRepository)(nil)
	_ repository.Repository[*agent.Agent] = (*AgentRepository)(nil)
)

// Open connects to a Postgres DSN and runs the schema migrations needed
// for the tasks/agents/pools tables of spec §6.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		return nil, err
	}
	return db, nil
}

func migrate(ctx context.Context, db *sqlx.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT,
			type TEXT,
			priority INTEGER,
			status TEXT,
			assigned_agent_id TEXT,
			blocked_by JSONB,
			blocks JSONB,
			input JSONB,
			output JSONB,
			error TEXT,
			metrics JSONB,
			retry_count INTEGER,
			max_retries INTEGER,
			timeout_ms BIGINT,
			metadata JSONB,
			created_at TIMESTAMPTZ,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_priority ON tasks(priority)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_type ON tasks(type)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_assigned_agent_id ON tasks(assigned_agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			type TEXT,
			status TEXT,
			name TEXT,
			capabilities JSONB,
			metrics JSONB,
			config JSONB,
			created_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ,
			start_time TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_type ON agents(type)`,
		`CREATE TABLE IF NOT EXISTS pools (
			id TEXT PRIMARY KEY,
			type TEXT,
			name TEXT,
			size INTEGER,
			members JSONB,
			config JSONB
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// TaskRepository is the Postgres-backed Repository[*task.Task].
type TaskRepository struct{ db *sqlx.DB }

// NewTaskRepository wraps an open *sqlx.DB.
func NewTaskRepository(db *sqlx.DB) *TaskRepository { return &TaskRepository{db: db} }

type taskRow struct {
	ID              string          `db:"id"`
	Title           string          `db:"title"`
	Description     string          `db:"description"`
	Type            string          `db:"type"`
	Priority        int             `db:"priority"`
	Status          string          `db:"status"`
	AssignedAgentID string          `db:"assigned_agent_id"`
	BlockedBy       json.RawMessage `db:"blocked_by"`
	Blocks          json.RawMessage `db:"blocks"`
	Input           json.RawMessage `db:"input"`
	Output          json.RawMessage `db:"output"`
	Error           string          `db:"error"`
	Metrics         json.RawMessage `db:"metrics"`
	RetryCount      int             `db:"retry_count"`
	MaxRetries      int             `db:"max_retries"`
	TimeoutMs       int64           `db:"timeout_ms"`
	Metadata        json.RawMessage `db:"metadata"`
	CreatedAt       time.Time       `db:"created_at"`
	StartedAt       *time.Time      `db:"started_at"`
	CompletedAt     *time.Time      `db:"completed_at"`
}

func marshalSet(s map[string]struct{}) json.RawMessage {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	b, _ := json.Marshal(ids)
	return b
}

func (r *TaskRepository) Save(ctx context.Context, t *task.Task) error {
	metrics, _ := json.Marshal(t.Metrics)
	metadata, _ := json.Marshal(t.Metadata)
	input, _ := json.Marshal(t.Input)
	output, _ := json.Marshal(t.Output)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, type, priority, status, assigned_agent_id,
			blocked_by, blocks, input, output, error, metrics, retry_count, max_retries, timeout_ms,
			metadata, created_at, started_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, assigned_agent_id = EXCLUDED.assigned_agent_id,
			output = EXCLUDED.output, error = EXCLUDED.error, metrics = EXCLUDED.metrics,
			retry_count = EXCLUDED.retry_count, started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at`,
		t.ID, t.Title, t.Description, t.Type, int(t.Priority), string(t.Status), t.AssignedAgentID,
		marshalSet(t.BlockedBy), marshalSet(t.Blocks), input, output, t.Error, metrics,
		t.RetryCount, t.MaxRetries, t.Timeout.Milliseconds(), metadata,
		t.CreatedAt, nullTime(t.StartedAt), nullTime(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (r *TaskRepository) FindByID(ctx context.Context, id string) (*task.Task, bool, error) {
	var row taskRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM tasks WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("find task: %w", err)
	}
	t, err := rowToTask(row)
	return t, true, err
}

func (r *TaskRepository) FindAll(ctx context.Context, filter repository.Filter[*task.Task]) ([]*task.Task, error) {
	var rows []taskRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM tasks ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("find all tasks: %w", err)
	}
	out := make([]*task.Task, 0, len(rows))
	for _, row := range rows {
		t, err := rowToTask(row)
		if err != nil {
			return nil, err
		}
		if filter == nil || filter(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *TaskRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *TaskRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM tasks WHERE id = $1)`, id)
	if err != nil {
		return false, fmt.Errorf("exists task: %w", err)
	}
	return exists, nil
}

func rowToTask(row taskRow) (*task.Task, error) {
	t := &task.Task{
		ID:              row.ID,
		Title:           row.Title,
		Description:     row.Description,
		Type:            row.Type,
		Priority:        task.Priority(row.Priority),
		Status:          task.Status(row.Status),
		AssignedAgentID: row.AssignedAgentID,
		Error:           row.Error,
		RetryCount:      row.RetryCount,
		MaxRetries:      row.MaxRetries,
		Timeout:         time.Duration(row.TimeoutMs) * time.Millisecond,
		CreatedAt:       row.CreatedAt,
	}
	if row.StartedAt != nil {
		t.StartedAt = *row.StartedAt
	}
	if row.CompletedAt != nil {
		t.CompletedAt = *row.CompletedAt
	}
	var blockedBy, blocks []string
	_ = json.Unmarshal(row.BlockedBy, &blockedBy)
	_ = json.Unmarshal(row.Blocks, &blocks)
	t.BlockedBy = map[string]struct{}{}
	for _, id := range blockedBy {
		t.BlockedBy[id] = struct{}{}
	}
	t.Blocks = map[string]struct{}{}
	for _, id := range blocks {
		t.Blocks[id] = struct{}{}
	}
	_ = json.Unmarshal(row.Input, &t.Input)
	_ = json.Unmarshal(row.Output, &t.Output)
	_ = json.Unmarshal(row.Metrics, &t.Metrics)
	_ = json.Unmarshal(row.Metadata, &t.Metadata)
	return t, nil
}

// AgentRepository is the Postgres-backed Repository[*agent.Agent].
type AgentRepository struct{ db *sqlx.DB }

// NewAgentRepository wraps an open *sqlx.DB.
func NewAgentRepository(db *sqlx.DB) *AgentRepository { return &AgentRepository{db: db} }

type agentRow struct {
	ID           string          `db:"id"`
	Type         string          `db:"type"`
	Status       string          `db:"status"`
	Name         string          `db:"name"`
	Capabilities json.RawMessage `db:"capabilities"`
	Metrics      json.RawMessage `db:"metrics"`
	Config       json.RawMessage `db:"config"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
	StartTime    *time.Time      `db:"start_time"`
}

func (r *AgentRepository) Save(ctx context.Context, a *agent.Agent) error {
	caps, _ := json.Marshal(a.Capabilities)
	metrics, _ := json.Marshal(a.Metrics)
	config, _ := json.Marshal(a.Config)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO agents (id, type, status, name, capabilities, metrics, config, created_at, updated_at, start_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, metrics = EXCLUDED.metrics, updated_at = EXCLUDED.updated_at,
			start_time = EXCLUDED.start_time`,
		a.ID, string(a.Type), string(a.Status), a.Name, caps, metrics, config,
		a.CreatedAt, a.UpdatedAt, nullTime(a.StartTime))
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

func (r *AgentRepository) FindByID(ctx context.Context, id string) (*agent.Agent, bool, error) {
	var row agentRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM agents WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("find agent: %w", err)
	}
	a := rowToAgent(row)
	return a, true, nil
}

func (r *AgentRepository) FindAll(ctx context.Context, filter repository.Filter[*agent.Agent]) ([]*agent.Agent, error) {
	var rows []agentRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM agents ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("find all agents: %w", err)
	}
	out := make([]*agent.Agent, 0, len(rows))
	for _, row := range rows {
		a := rowToAgent(row)
		if filter == nil || filter(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *AgentRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete agent: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *AgentRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM agents WHERE id = $1)`, id)
	if err != nil {
		return false, fmt.Errorf("exists agent: %w", err)
	}
	return exists, nil
}

func rowToAgent(row agentRow) *agent.Agent {
	a := &agent.Agent{
		ID:        row.ID,
		Type:      agent.Type(row.Type),
		Status:    agent.Status(row.Status),
		Name:      row.Name,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.StartTime != nil {
		a.StartTime = *row.StartTime
	}
	_ = json.Unmarshal(row.Capabilities, &a.Capabilities)
	_ = json.Unmarshal(row.Metrics, &a.Metrics)
	_ = json.Unmarshal(row.Config, &a.Config)
	return a
}

// errNotFound mirrors the abstract repository's not-found signal for
// callers that want to distinguish "no row" from a query failure.
var errNotFound = errs.ErrNotFound
