package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
)

type stageLedger struct {
	db *sql.DB
}

// NewStageLedger создаёт PostgreSQL-реализацию StageLedger.
func NewStageLedger(store *Store) domain.StageLedger {
	return &stageLedger{db: store.DB()}
}

// OpenEntry создаёт открытую запись стадии. Upsert: повторное открытие
// той же стадии перезаписывает только незакрытую запись; закрытую запись
// запоздавший дубликат перехода не реанимирует.
func (l *stageLedger) OpenEntry(entry domain.StageEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if entry.Worker == "" {
		entry.Worker = domain.WorkerUnassigned
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO stage_entries (
			tenant_id, order_id, stage, status, worker, started_at, ended_at
		) VALUES ($1,$2,$3,$4,$5,$6,NULL)
		ON CONFLICT (tenant_id, order_id, stage)
		DO UPDATE SET status = EXCLUDED.status,
		              worker = EXCLUDED.worker,
		              started_at = EXCLUDED.started_at,
		              ended_at = NULL
		WHERE stage_entries.status <> $7
	`,
		entry.TenantID, entry.OrderID, string(entry.Stage),
		string(domain.StageInProgress), entry.Worker, entry.StartedAt,
		string(domain.StageDone),
	)
	if err != nil {
		return fmt.Errorf("open stage entry: %w", err)
	}
	return nil
}

// CloseEntry закрывает открытую запись. Предикат по статусу делает
// закрытие идемпотентным; отсутствие записи не ошибка.
func (l *stageLedger) CloseEntry(tenantID, orderID string, stage domain.Stage, worker string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := l.db.ExecContext(ctx, `
		UPDATE stage_entries
		SET status = $1,
		    ended_at = $2,
		    worker = CASE WHEN $3 <> '' THEN $3 ELSE worker END
		WHERE tenant_id = $4
		  AND order_id = $5
		  AND stage = $6
		  AND status = $7
	`,
		string(domain.StageDone), time.Now().UTC(), worker,
		tenantID, orderID, string(stage), string(domain.StageInProgress),
	)
	if err != nil {
		return fmt.Errorf("close stage entry: %w", err)
	}
	return nil
}

func (l *stageLedger) GetEntry(tenantID, orderID string, stage domain.Stage) (domain.StageEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := l.db.QueryRowContext(ctx, `
		SELECT tenant_id, order_id, stage, status, worker, started_at, ended_at
		FROM stage_entries
		WHERE tenant_id = $1 AND order_id = $2 AND stage = $3
	`, tenantID, orderID, string(stage))

	entry, err := scanStageEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StageEntry{}, domain.ErrStageEntryNotFound
		}
		return domain.StageEntry{}, fmt.Errorf("select stage entry: %w", err)
	}
	return entry, nil
}

func (l *stageLedger) ListEntries(tenantID, orderID string) ([]domain.StageEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := l.db.QueryContext(ctx, `
		SELECT tenant_id, order_id, stage, status, worker, started_at, ended_at
		FROM stage_entries
		WHERE tenant_id = $1 AND order_id = $2
		ORDER BY started_at ASC
	`, tenantID, orderID)
	if err != nil {
		return nil, fmt.Errorf("list stage entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.StageEntry, 0, 3)
	for rows.Next() {
		entry, err := scanStageEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage entries: %w", err)
	}

	return entries, nil
}

func scanStageEntry(row scanTarget) (domain.StageEntry, error) {
	var (
		entry   domain.StageEntry
		stage   string
		status  string
		endedAt sql.NullTime
	)

	err := row.Scan(
		&entry.TenantID, &entry.OrderID, &stage, &status,
		&entry.Worker, &entry.StartedAt, &endedAt,
	)
	if err != nil {
		return domain.StageEntry{}, err
	}

	entry.Stage = domain.Stage(stage)
	entry.Status = domain.EntryStatus(status)
	if endedAt.Valid {
		entry.EndedAt = endedAt.Time
	}
	return entry, nil
}

var _ domain.StageLedger = (*stageLedger)(nil)
