package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/agentos-kernel-prototype/internal/ledger"
)

// AuditStore — персист цепочки аудита. Таблица append-only: записи
// не обновляются и не удаляются, sequence — первичный ключ, поэтому
// повторная вставка той же записи (после рестарта писателя) просто
// отлетит по конфликту, а не продублирует хвост.
type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// EnsureSchema создает таблицу цепочки, если ее еще нет.
func (s *AuditStore) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS audit_chain (
			sequence   BIGINT PRIMARY KEY,
			timestamp  TIMESTAMPTZ NOT NULL,
			action     TEXT NOT NULL,
			agent_id   TEXT NOT NULL,
			detail     TEXT NOT NULL,
			tip_hash   TEXT NOT NULL
		)`
	_, err := s.pool.Exec(ctx, query)
	return err
}

// WriteBatch сохраняет пачку записей одним запросом.
func (s *AuditStore) WriteBatch(ctx context.Context, entries []ledger.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_chain
	numFields := 6
	placeholderStr := ""
	vals := make([]interface{}, 0, len(entries)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range entries {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6)

		vals = append(vals,
			int64(e.Sequence), e.Timestamp, string(e.Action),
			e.AgentID, e.Detail, e.TipHash,
		)
	}

	// ON CONFLICT DO NOTHING: at-least-once со стороны писателя,
	// exactly-once в таблице
	query := fmt.Sprintf(
		"INSERT INTO audit_chain (sequence, timestamp, action, agent_id, detail, tip_hash) VALUES %s ON CONFLICT (sequence) DO NOTHING",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := s.pool.Exec(ctx, query, vals...)
	return err
}

// LoadAll читает всю цепочку по возрастанию sequence. Верификация
// хэшей — забота леджера, здесь только чтение.
func (s *AuditStore) LoadAll(ctx context.Context) ([]ledger.Entry, error) {
	query := `
		SELECT sequence, timestamp, action, agent_id, detail, tip_hash
		FROM audit_chain ORDER BY sequence ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to load audit chain: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var seq int64
		var action string
		if err := rows.Scan(&seq, &e.Timestamp, &action, &e.AgentID, &e.Detail, &e.TipHash); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan audit entry: %w", err)
		}
		e.Sequence = uint64(seq)
		e.Action = ledger.Action(action)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ ledger.Store = (*AuditStore)(nil)
