package realtime

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"

	"courier/cmd/internal/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
)

const messageColumns = `id, sender_id, receiver_id, content, status, created_at, updated_at`

// PostgresStore is a MessageStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
//   - Every status change is a single conditional UPDATE (status = ANY(lower statuses)), so concurrent
//     writers can never move a row backwards and no explicit locking is needed.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "courier").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed MessageStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: db.Schema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) table() string { return pgIdent(s.schema, "messages") }

// CreateMessage inserts a new row at StatusSent.
func (s *PostgresStore) CreateMessage(ctx context.Context, in CreateMessageInput) (Message, error) {
	if !validCreateInput(in) {
		return Message{}, errInvalidStoreInput
	}
	msg := in.message()

	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table()+` (id, sender_id, receiver_id, content, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 RETURNING `+messageColumns,
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Content, string(msg.Status), msg.CreatedAt,
	)
	return scanMessage(row)
}

// AdvanceStatus moves one row forward to in.To when it is currently lower.
func (s *PostgresStore) AdvanceStatus(ctx context.Context, in AdvanceStatusInput) (AdvanceStatusResult, error) {
	if in.MessageID == "" || !in.To.Valid() {
		return AdvanceStatusResult{}, errInvalidStoreInput
	}

	lower := lo.Map(in.To.lowerThan(), func(st Status, _ int) string { return string(st) })

	m, err := scanMessage(s.pool.QueryRow(ctx,
		`UPDATE `+s.table()+`
		    SET status = $2,
		        updated_at = $3
		  WHERE id = $1 AND status = ANY($4)
		RETURNING `+messageColumns,
		in.MessageID, string(in.To), nowOr(in.Now), lower,
	))
	if err == nil {
		return AdvanceStatusResult{Message: m, Changed: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AdvanceStatusResult{}, err
	}

	// Already at or past the target: report the row as stored.
	m, err = scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM `+s.table()+` WHERE id = $1`,
		in.MessageID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return AdvanceStatusResult{}, ErrMessageNotFound
	}
	if err != nil {
		return AdvanceStatusResult{}, err
	}
	return AdvanceStatusResult{Message: m, Changed: false}, nil
}

// MarkSeen moves the selected unseen rows to StatusSeen in one statement and returns their ids.
func (s *PostgresStore) MarkSeen(ctx context.Context, in MarkSeenInput) ([]string, error) {
	if in.SenderID == "" || in.ReceiverID == "" {
		return nil, errInvalidStoreInput
	}
	if !in.selectsAll() && len(in.MessageIDs) == 0 {
		return nil, nil
	}

	q := `UPDATE ` + s.table() + `
	         SET status = 'seen',
	             updated_at = $3
	       WHERE sender_id = $1 AND receiver_id = $2 AND status <> 'seen'`
	args := []any{in.SenderID, in.ReceiverID, nowOr(in.Now)}
	if !in.selectsAll() {
		q += ` AND id = ANY($4)`
		args = append(args, lo.Uniq(in.MessageIDs))
	}
	q += ` RETURNING id`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// Conversation returns every message between a and b, oldest first.
func (s *PostgresStore) Conversation(ctx context.Context, a, b string) ([]Message, error) {
	if a == "" || b == "" {
		return nil, errInvalidStoreInput
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+`
		   FROM `+s.table()+`
		  WHERE (sender_id = $1 AND receiver_id = $2)
		     OR (sender_id = $2 AND receiver_id = $1)
		  ORDER BY created_at ASC, id ASC`,
		a, b,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0, 32)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LatestPerCounterpart returns the most recent message per counterpart, newest first.
func (s *PostgresStore) LatestPerCounterpart(ctx context.Context, identityID string) ([]ConversationSummary, error) {
	if identityID == "" {
		return nil, errInvalidStoreInput
	}

	rows, err := s.pool.Query(ctx,
		`SELECT counterpart, `+messageColumns+`
		   FROM (
		     SELECT DISTINCT ON (counterpart)
		            CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS counterpart,
		            `+messageColumns+`
		       FROM `+s.table()+`
		      WHERE sender_id = $1 OR receiver_id = $1
		      ORDER BY counterpart, created_at DESC, id DESC
		   ) latest
		  ORDER BY created_at DESC, id DESC`,
		identityID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ConversationSummary, 0, 16)
	for rows.Next() {
		var (
			sum    ConversationSummary
			status string
		)
		m := &sum.LastMessage
		if err := rows.Scan(&sum.CounterpartID, &m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &status, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.Status = Status(status)
		m.CreatedAt = m.CreatedAt.UTC()
		m.UpdatedAt = m.UpdatedAt.UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		m      Message
		status string
	)
	if err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &status, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return Message{}, err
	}
	m.Status = Status(status)
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
