package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/santerog80-rgb/Talkio/internal/domain"
)

// Postgres implements domain.DataStore against the backend database
// directly. Rows are round-tripped through jsonb so that the same struct
// tags serve both store implementations.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Insert(ctx context.Context, table string, record any, dest any) error {
	row, err := toMap(record)
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	if len(row) == 0 {
		return fmt.Errorf("insert %s: empty record", table)
	}

	cols := sortedKeys(row)
	quoted := make([]string, len(cols))
	holders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
		holders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[c]
	}

	ident := pgx.Identifier{table}.Sanitize()
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING to_jsonb(%s)",
		ident, strings.Join(quoted, ", "), strings.Join(holders, ", "), ident)

	var raw []byte
	if err := p.pool.QueryRow(ctx, sql, args...).Scan(&raw); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	if dest != nil {
		if err := json.Unmarshal(raw, dest); err != nil {
			return fmt.Errorf("insert %s: decode row: %w", table, err)
		}
	}
	return nil
}

func (p *Postgres) Select(ctx context.Context, table string, filter domain.Filter, dest any, opts ...domain.SelectOption) error {
	var o domain.SelectOptions
	for _, opt := range opts {
		opt(&o)
	}

	where, args := whereClause(filter, 1)
	inner := fmt.Sprintf("SELECT * FROM %s%s", pgx.Identifier{table}.Sanitize(), where)
	if o.OrderBy != "" {
		dir := "ASC"
		if o.Descending {
			dir = "DESC"
		}
		inner += fmt.Sprintf(" ORDER BY %s %s", pgx.Identifier{o.OrderBy}.Sanitize(), dir)
	}
	if o.Limit > 0 {
		inner += fmt.Sprintf(" LIMIT %d", o.Limit)
	}
	sql := fmt.Sprintf("SELECT coalesce(jsonb_agg(t), '[]') FROM (%s) t", inner)

	var raw []byte
	if err := p.pool.QueryRow(ctx, sql, args...).Scan(&raw); err != nil {
		return fmt.Errorf("select %s: %w", table, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("select %s: decode rows: %w", table, err)
	}
	return nil
}

func (p *Postgres) Update(ctx context.Context, table string, filter domain.Filter, patch map[string]any, dest any) error {
	if len(patch) == 0 {
		return fmt.Errorf("update %s: empty patch", table)
	}

	cols := sortedKeys(patch)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(filter))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{c}.Sanitize(), i+1)
		args = append(args, patch[c])
	}
	where, whereArgs := whereClause(filter, len(cols)+1)
	args = append(args, whereArgs...)

	ident := pgx.Identifier{table}.Sanitize()
	sql := fmt.Sprintf("UPDATE %s SET %s%s RETURNING to_jsonb(%s)",
		ident, strings.Join(sets, ", "), where, ident)

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	defer rows.Close()

	var first []byte
	for rows.Next() {
		if first == nil {
			if err := rows.Scan(&first); err != nil {
				return fmt.Errorf("update %s: %w", table, err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if dest != nil {
		if first == nil {
			return fmt.Errorf("update %s: no matching rows", table)
		}
		if err := json.Unmarshal(first, dest); err != nil {
			return fmt.Errorf("update %s: decode row: %w", table, err)
		}
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, table string, filter domain.Filter) error {
	where, args := whereClause(filter, 1)
	sql := fmt.Sprintf("DELETE FROM %s%s", pgx.Identifier{table}.Sanitize(), where)
	if _, err := p.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return nil
}

// whereClause renders filter as " WHERE ..." with placeholders starting at
// start. Empty filter yields an empty clause.
func whereClause(filter domain.Filter, start int) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}
	cols := make([]string, 0, len(filter))
	for c := range filter {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	conds := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		conds[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{c}.Sanitize(), start+i)
		args[i] = filter[c]
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// toMap flattens record to column/value pairs via its JSON form, so
// omitempty tags decide which columns are written.
func toMap(record any) (map[string]any, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	var row map[string]any
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	return row, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
