// Package sqlbase implements the record provider contract over database/sql.
// The postgres and sqlite backends supply a Dialect for the statements and
// catalog queries that differ between engines.
package sqlbase

import (
	"context"
	"strings"
	"time"

	"github.com/alphadevx/alpha-sub000/pkg/record"
	"github.com/alphadevx/alpha-sub000/pkg/types"
)

// ForeignKey is a foreign key declared inline in a CREATE TABLE statement.
type ForeignKey struct {
	Column    string
	Table     string
	RefColumn string
}

// Dialect captures what differs between SQL engines.
type Dialect interface {
	// Name is the provider name the backend registers under.
	Name() string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder(n int) string
	// ColumnType maps a column to its native type.
	ColumnType(c record.Column) string
	// IdentityColumn is the definition of an auto-assigned primary key.
	IdentityColumn() string
	// NoLimit is the LIMIT operand meaning "all rows", used when only an
	// offset is requested.
	NoLimit() string
	// BindTemporal converts a date or timestamp string for binding.
	BindTemporal(kind types.Kind, value string) (any, error)
	// DayFilter renders a predicate matching col on the given day. bind adds an
	// argument and returns its placeholder.
	DayFilter(col string, day time.Time, bind func(any) string) string
	// Insert executes stmt and returns the identity the engine assigned.
	Insert(ctx context.Context, q record.Querier, stmt string, args []any) (int64, error)
	// QuoteIdent quotes a table or column name. The quoting must never fall
	// back to a string literal when the name does not resolve.
	QuoteIdent(ident string) string
	// DropTable renders a DROP TABLE statement.
	DropTable(table string) string

	TableExists(ctx context.Context, p *Provider, table string) (bool, error)
	ColumnNames(ctx context.Context, p *Provider, table string) ([]string, error)
	Indexes(ctx context.Context, p *Provider, table string) ([]string, error)
	// InlineForeignKeys returns the foreign keys to declare in CREATE TABLE.
	InlineForeignKeys(ctx context.Context, p *Provider, cols []record.Column) ([]ForeignKey, error)
	AddForeignKey(ctx context.Context, p *Provider, table, attr, relatedTable, relatedAttr, name string) error
	// UniqueViolation reports whether err is a unique constraint violation
	// and, when the engine reports it, the violated constraint's name.
	UniqueViolation(err error) (constraint string, ok bool)
	// ReadOnly runs fn while the database refuses writes, then lifts the
	// restriction again.
	ReadOnly(ctx context.Context, p *Provider, fn func(q record.Querier) error) error
}

// Quote renders an identifier quoted with double quotes.
func Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Quote renders ident with the dialect's identifier quoting.
func (p *Provider) Quote(ident string) string { return p.d.QuoteIdent(ident) }

func (p *Provider) quoteAll(idents []string) string {
	out := make([]string, len(idents))
	for i, id := range idents {
		out[i] = p.Quote(id)
	}
	return strings.Join(out, ", ")
}

// binder accumulates bind arguments and renders their placeholders.
type binder struct {
	d    Dialect
	args []any
}

func (b *binder) add(v any) string {
	b.args = append(b.args, v)
	return b.d.Placeholder(len(b.args))
}
