package erp

import (
	"fmt"
	"strings"
	"time"
)

// dateLayout is the literal layout the ERP query language expects inside
// TO_DATE.
const dateLayout = "2006-01-02 15:04:05"

// toDate renders a timestamp as a TO_DATE literal.
func toDate(t time.Time) string {
	return fmt.Sprintf("TO_DATE('%s', 'YYYY-MM-DD HH24:MI:SS')", t.UTC().Format(dateLayout))
}

// escape doubles single quotes in string literals.
func escape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// QueryBuilder assembles one ERP query. The provider exposes a SQL-shaped
// query endpoint; only the fragments used here are supported.
type QueryBuilder struct {
	columns    []string
	table      string
	conditions []string
	orderBy    string
}

// NewQuery starts a query over one table.
func NewQuery(table string, columns ...string) *QueryBuilder {
	return &QueryBuilder{table: table, columns: columns}
}

// WhereModifiedSince bounds the query to rows modified at or after since.
func (q *QueryBuilder) WhereModifiedSince(column string, since time.Time) *QueryBuilder {
	q.conditions = append(q.conditions, fmt.Sprintf("%s >= %s", column, toDate(since)))
	return q
}

// WhereModifiedBefore bounds the query to rows modified before until.
func (q *QueryBuilder) WhereModifiedBefore(column string, until time.Time) *QueryBuilder {
	q.conditions = append(q.conditions, fmt.Sprintf("%s < %s", column, toDate(until)))
	return q
}

// WhereEquals adds an equality condition on a string literal.
func (q *QueryBuilder) WhereEquals(column, value string) *QueryBuilder {
	q.conditions = append(q.conditions, fmt.Sprintf("%s = '%s'", column, escape(value)))
	return q
}

// AfterCursor adds the keyset condition for the (modified, id) cursor:
// strictly-later rows, or same-instant rows with a larger id. Rows sharing
// the cursor's exact (modified, id) pair are excluded, which is what makes
// resumption loss-free across equal timestamps.
func (q *QueryBuilder) AfterCursor(modifiedColumn, idColumn string, modified time.Time, id string) *QueryBuilder {
	q.conditions = append(q.conditions, fmt.Sprintf(
		"(%s > %s OR (%s = %s AND %s > '%s'))",
		modifiedColumn, toDate(modified),
		modifiedColumn, toDate(modified),
		idColumn, escape(id),
	))
	return q
}

// OrderByCursor orders rows by the keyset columns ascending.
func (q *QueryBuilder) OrderByCursor(modifiedColumn, idColumn string) *QueryBuilder {
	q.orderBy = fmt.Sprintf("%s ASC, %s ASC", modifiedColumn, idColumn)
	return q
}

// Build renders the final query string.
func (q *QueryBuilder) Build() string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(q.columns, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(q.table)
	if len(q.conditions) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(q.conditions, " AND "))
	}
	if q.orderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(q.orderBy)
	}
	return sb.String()
}
