package v1

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Expr is a row predicate node. Rendering is deterministic: node order is
// fixed by the rule and id sets arrive sorted.
type Expr interface {
	render(b *strings.Builder) error
}

// In matches column against a set of ids. An empty set renders as false so it
// can never widen access.
func In(column string, ids []string) Expr {
	return inExpr{column: column, ids: ids}
}

// Eq matches column against one id.
func Eq(column, id string) Expr {
	return eqExpr{column: column, id: id}
}

// EqText matches column against a constant text literal.
func EqText(column, value string) Expr {
	return textExpr{column: column, value: value}
}

// IsTrue matches rows where a boolean column is true.
func IsTrue(column string) Expr {
	return trueExpr{column: column}
}

// NotDeleted excludes soft-deleted rows.
func NotDeleted() Expr {
	return nullExpr{column: "deleted_at"}
}

// InSubquery matches column against the selected column of another table's
// rows that satisfy where.
func InSubquery(column, table, selected string, where Expr) Expr {
	return subqueryExpr{column: column, table: table, selected: selected, where: where}
}

// And joins conditions with AND.
func And(exprs ...Expr) Expr {
	return listExpr{op: " AND ", exprs: exprs}
}

// Or joins conditions with OR.
func Or(exprs ...Expr) Expr {
	return listExpr{op: " OR ", exprs: exprs}
}

// Render returns the SQL text of expr.
func Render(expr Expr) (string, error) {
	if expr == nil {
		return "", fmt.Errorf("render predicate: nil expression: %w", ErrNoPolicyForTable)
	}
	var b strings.Builder
	if err := expr.render(&b); err != nil {
		return "", err
	}
	return b.String(), nil
}

type inExpr struct {
	column string
	ids    []string
}

func (e inExpr) render(b *strings.Builder) error {
	if len(e.ids) == 0 {
		b.WriteString("false")
		return nil
	}
	b.WriteString(quoteIdent(e.column))
	b.WriteString(" IN (")
	for i, id := range e.ids {
		if i > 0 {
			b.WriteString(", ")
		}
		lit, err := idLiteral(id)
		if err != nil {
			return err
		}
		b.WriteString(lit)
	}
	b.WriteString(")")
	return nil
}

type eqExpr struct {
	column string
	id     string
}

func (e eqExpr) render(b *strings.Builder) error {
	lit, err := idLiteral(e.id)
	if err != nil {
		return err
	}
	b.WriteString(quoteIdent(e.column))
	b.WriteString(" = ")
	b.WriteString(lit)
	return nil
}

type textExpr struct {
	column string
	value  string
}

func (e textExpr) render(b *strings.Builder) error {
	b.WriteString(quoteIdent(e.column))
	b.WriteString(" = ")
	b.WriteString(quoteLiteral(e.value))
	return nil
}

type trueExpr struct {
	column string
}

func (e trueExpr) render(b *strings.Builder) error {
	b.WriteString(quoteIdent(e.column))
	b.WriteString(" = true")
	return nil
}

type nullExpr struct {
	column string
}

func (e nullExpr) render(b *strings.Builder) error {
	b.WriteString(quoteIdent(e.column))
	b.WriteString(" IS NULL")
	return nil
}

type subqueryExpr struct {
	column   string
	table    string
	selected string
	where    Expr
}

func (e subqueryExpr) render(b *strings.Builder) error {
	if e.where == nil {
		return fmt.Errorf("subquery on %s without condition: %w", e.table, ErrNoPolicyForTable)
	}
	b.WriteString(quoteIdent(e.column))
	b.WriteString(" IN (SELECT ")
	b.WriteString(quoteIdent(e.selected))
	b.WriteString(" FROM ")
	b.WriteString(quoteIdent(e.table))
	b.WriteString(" WHERE ")
	if err := e.where.render(b); err != nil {
		return err
	}
	b.WriteString(")")
	return nil
}

type listExpr struct {
	op    string
	exprs []Expr
}

func (e listExpr) render(b *strings.Builder) error {
	if len(e.exprs) == 0 {
		return fmt.Errorf("empty%scondition: %w", e.op, ErrNoPolicyForTable)
	}
	for i, child := range e.exprs {
		if child == nil {
			return fmt.Errorf("nil condition: %w", ErrNoPolicyForTable)
		}
		if i > 0 {
			b.WriteString(e.op)
		}
		nested, isList := child.(listExpr)
		wrap := isList && nested.op != e.op && len(nested.exprs) > 1
		if wrap {
			b.WriteString("(")
		}
		if err := child.render(b); err != nil {
			return err
		}
		if wrap {
			b.WriteString(")")
		}
	}
	return nil
}

// idLiteral accepts only UUIDs and renders them in canonical form, so no
// byte of the output comes from anything but hex digits and dashes.
func idLiteral(id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", ErrInvalidAccessValue.wrap(fmt.Errorf("id is not a uuid: %w", err))
	}
	return quoteLiteral(parsed.String()), nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
