package study

import (
	"fmt"
	"strings"

	"github.com/gynlab/gynlab/internal/platform/db"
	"github.com/gynlab/gynlab/pkg/pagination"
)

// dialect holds the few SQL fragments that differ between backends.
type dialect struct {
	placeholder func(n int) string
	orderedDay  string
	like        string
}

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	orderedDay:  "substr(s.ordered_at, 1, 10)",
	like:        "LIKE",
}

var pgDialect = dialect{
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	orderedDay:  "(s.ordered_at::date)",
	like:        "ILIKE",
}

const rowSelect = `SELECT s.id, s.visit_id, s.patient_id, s.center_id, s.kind, s.subtype,
	s.current_state, s.ordered_at, s.sent_at, s.paid_at, s.received_at, s.delivered_at,
	s.result, s.result_edited_at, s.overridden, s.created_at, s.updated_at,
	p.last_name || ', ' || p.first_name, p.national_id, COALESCE(c.name, '')
FROM studies s
JOIN patients p ON p.id = s.patient_id
LEFT JOIN histology_centers c ON c.id = s.center_id`

const statePriority = `CASE s.current_state
	WHEN 'ordered' THEN 0
	WHEN 'sent' THEN 1
	WHEN 'paid' THEN 2
	WHEN 'received' THEN 3
	ELSE 4 END`

func (f Filter) page() pagination.Params {
	return pagination.Params{Limit: f.Limit, Offset: f.Offset}
}

// listQuery builds the filtered list statement for one page.
func (d dialect) listQuery(f Filter, page pagination.Params) (string, []any) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return d.placeholder(len(args))
	}

	if f.From != nil {
		where = append(where, d.orderedDay+" >= "+arg(f.From.Format(db.DateLayout)))
	}
	if f.To != nil {
		where = append(where, d.orderedDay+" <= "+arg(f.To.Format(db.DateLayout)))
	}
	if f.State != "" {
		where = append(where, "s.current_state = "+arg(string(f.State)))
	}
	if f.Kind != "" {
		where = append(where, "s.kind = "+arg(string(f.Kind)))
	}
	if f.CenterID != nil {
		where = append(where, "s.center_id = "+arg(*f.CenterID))
	}
	if f.OpenOnly {
		where = append(where, "s.current_state <> 'delivered'")
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		like := "%" + q + "%"
		where = append(where, fmt.Sprintf(
			"(p.national_id %[1]s %[2]s OR (p.last_name || ' ' || p.first_name) %[1]s %[3]s OR (p.first_name || ' ' || p.last_name) %[1]s %[4]s OR s.subtype %[1]s %[5]s)",
			d.like, arg(like), arg(like), arg(like), arg(like)))
	}

	query := rowSelect
	if len(where) > 0 {
		query += "\nWHERE " + strings.Join(where, " AND ")
	}
	if f.Order == OrderStatePriority {
		query += "\nORDER BY " + statePriority + ", s.ordered_at DESC, s.id DESC"
	} else {
		query += "\nORDER BY s.ordered_at DESC, s.id DESC"
	}
	query += "\n" + page.SQL()
	return query, args
}

// overdueQuery selects studies sent before the cutoff argument and not yet
// received.
func (d dialect) overdueQuery() string {
	return rowSelect + `
WHERE s.sent_at IS NOT NULL
  AND s.received_at IS NULL
  AND s.current_state IN ('sent', 'paid')
  AND s.sent_at < ` + d.placeholder(1) + `
ORDER BY s.sent_at ASC, s.id ASC
LIMIT ` + d.placeholder(2)
}
