package filter

import (
	"fmt"
	"strings"
)

// Columns maps expression field names to SQL column names. Fields missing
// from the map are rejected so that callers cannot inject column names.
type Columns map[string]string

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ToSQL compiles e into a WHERE fragment whose placeholders start at $start.
// It returns the fragment, its arguments and the next free placeholder index.
func ToSQL(e *Expr, cols Columns, start int) (string, []any, int, error) {
	if e.IsTrue() {
		return "TRUE", nil, start, nil
	}

	switch e.Kind {
	case KindEquals:
		col, err := cols.column(e.Field)
		if err != nil {
			return "", nil, start, err
		}
		return fmt.Sprintf("%s = $%d", col, start), []any{e.Value}, start + 1, nil

	case KindContainsFold:
		col, err := cols.column(e.Field)
		if err != nil {
			return "", nil, start, err
		}
		s, ok := e.Value.(string)
		if !ok {
			return "", nil, start, fmt.Errorf("filter: contains on %s needs a string, got %T", e.Field, e.Value)
		}
		return fmt.Sprintf("%s ILIKE $%d", col, start), []any{"%" + likeEscaper.Replace(s) + "%"}, start + 1, nil

	case KindBetween:
		col, err := cols.column(e.Field)
		if err != nil {
			return "", nil, start, err
		}
		var parts []string
		var args []any
		idx := start
		if e.Lo != nil {
			parts = append(parts, fmt.Sprintf("%s >= $%d", col, idx))
			args = append(args, e.Lo)
			idx++
		}
		if e.Hi != nil {
			parts = append(parts, fmt.Sprintf("%s <= $%d", col, idx))
			args = append(args, e.Hi)
			idx++
		}
		return joinAnd(parts), args, idx, nil

	case KindAnd:
		var parts []string
		var args []any
		idx := start
		for _, a := range e.Args {
			clause, aArgs, next, err := ToSQL(a, cols, idx)
			if err != nil {
				return "", nil, start, err
			}
			parts = append(parts, clause)
			args = append(args, aArgs...)
			idx = next
		}
		return joinAnd(parts), args, idx, nil
	}

	return "", nil, start, fmt.Errorf("filter: unsupported expression kind %s", e.Kind)
}

func joinAnd(parts []string) string {
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

func (c Columns) column(field string) (string, error) {
	col, ok := c[field]
	if !ok {
		return "", fmt.Errorf("filter: unknown field %q", field)
	}
	return col, nil
}

// Query accumulates WHERE fragments, ordering and paging for one table.
type Query struct {
	table   string
	cols    string
	where   string
	args    []any
	idx     int
	orderBy string
}

func NewQuery(table, cols string) *Query {
	return &Query{table: table, cols: cols, idx: 1}
}

// Idx returns the next free placeholder index.
func (q *Query) Idx() int { return q.idx }

// Add appends a raw WHERE fragment whose placeholders start at Idx().
func (q *Query) Add(clause string, args ...any) {
	q.where += " AND " + clause
	q.args = append(q.args, args...)
	q.idx += len(args)
}

// Where compiles e against cols and appends it.
func (q *Query) Where(e *Expr, cols Columns) error {
	if e.IsTrue() {
		return nil
	}
	clause, args, next, err := ToSQL(e, cols, q.idx)
	if err != nil {
		return err
	}
	q.where += " AND " + clause
	q.args = append(q.args, args...)
	q.idx = next
	return nil
}

// OrderBy sets the ORDER BY list. Callers must pass whitelisted columns.
func (q *Query) OrderBy(orderBy string) {
	q.orderBy = orderBy
}

func (q *Query) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", q.table, q.where)
}

func (q *Query) Args() []any {
	return q.args
}

// SelectSQL returns the unpaged data query.
func (q *Query) SelectSQL() string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", q.cols, q.table, q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	return sql
}

func (q *Query) DataSQL() string {
	return q.SelectSQL() + fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.idx, q.idx+1)
}

func (q *Query) DataArgs(limit, offset int) []any {
	out := make([]any, len(q.args), len(q.args)+2)
	copy(out, q.args)
	return append(out, limit, offset)
}
