package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alphadevx/alpha-sub000/internal/infra/persistence/sqlbase"
	"github.com/alphadevx/alpha-sub000/pkg/record"
	"github.com/alphadevx/alpha-sub000/pkg/types"
)

func authorDescriptor() *record.Descriptor {
	return &record.Descriptor{
		Name: "Author",
		Fields: []record.FieldSpec{
			{Name: "name", New: func() types.Type { return types.NewRequiredSmallText() }},
		},
		Unique: [][]string{{"name"}},
	}
}

func bookDescriptor() *record.Descriptor {
	return &record.Descriptor{
		Name: "Book",
		Fields: []record.FieldSpec{
			{Name: "title", New: func() types.Type { return types.NewRequiredSmallText() }},
			{Name: "author_id", New: func() types.Type { return types.NewManyToOne("Author", "name") }},
		},
		Unique: [][]string{{"title"}},
	}
}

func openStore(t *testing.T) *record.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "alpha.db")
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Register(authorDescriptor(), bookDescriptor()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newRecord(t *testing.T, store *record.Store, name string, values map[string]string) *record.Record {
	t.Helper()
	rec, err := store.New(name)
	require.NoError(t, err)
	for k, v := range values {
		require.NoError(t, rec.Set(k, v))
	}
	return rec
}

func get(t *testing.T, rec *record.Record, name string) string {
	t.Helper()
	v, err := rec.Get(name)
	require.NoError(t, err)
	return v
}

func TestOpenCreatesDatabaseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "alpha.db")
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Register(authorDescriptor(), bookDescriptor()))
	author := newRecord(t, store, "Author", nil)
	require.NoError(t, author.MakeTable(context.Background()))
	require.NoError(t, store.Close())
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestColumnType(t *testing.T) {
	d := Dialect{}
	require.Equal(t, "INTEGER", d.ColumnType(record.Column{Kind: types.KindRelation}))
	require.Equal(t, "DOUBLE", d.ColumnType(record.Column{Kind: types.KindDouble}))
	require.Equal(t, "VARCHAR(40)", d.ColumnType(record.Column{Kind: types.KindSmallText, Size: 40}))
	require.Equal(t, "DATETIME", d.ColumnType(record.Column{Kind: types.KindTimestamp}))
	require.Equal(t, "CHAR(1)", d.ColumnType(record.Column{Kind: types.KindBoolean}))
	require.Equal(t, "?", d.Placeholder(4))

	_, err := d.BindTemporal(types.KindTimestamp, "2026-13-01 00:00:00")
	require.ErrorIs(t, err, record.ErrInvalidValue)
	v, err := d.BindTemporal(types.KindDate, "2026-01-31")
	require.NoError(t, err)
	require.Equal(t, "2026-01-31", v)
}

func TestMakeTableDeclaresForeignKeyWhenTargetExists(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	author := newRecord(t, store, "Author", nil)
	require.NoError(t, author.MakeTable(ctx))
	book := newRecord(t, store, "Book", nil)
	require.NoError(t, book.MakeTable(ctx))

	indexes, err := book.GetIndexes(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"Book_title_unq_idx", "Book_author_id_fk_idx"}, indexes)
}

func TestCheckIndexesRebuildsTableWithForeignKey(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	book := newRecord(t, store, "Book", map[string]string{"title": "Dune"})
	require.NoError(t, book.MakeTable(ctx))
	indexes, err := book.GetIndexes(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Book_title_unq_idx"}, indexes)
	require.NoError(t, book.Save(ctx))

	author := newRecord(t, store, "Author", nil)
	require.NoError(t, author.MakeTable(ctx))
	require.NoError(t, book.CheckIndexes(ctx))

	indexes, err = book.GetIndexes(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"Book_title_unq_idx", "Book_author_id_fk_idx"}, indexes)

	reloaded := newRecord(t, store, "Book", nil)
	require.NoError(t, reloaded.Load(ctx, book.ID(), 0))
	require.Equal(t, "Dune", get(t, reloaded, "title"))
	require.Equal(t, 1, reloaded.Version())

	// The rebuilt table enforces the constraint.
	orphan := newRecord(t, store, "Book", map[string]string{"title": "Orphan", "author_id": "999"})
	require.ErrorIs(t, orphan.Save(ctx), record.ErrFailedSave)

	// And still enforces the carried over unique index.
	dup := newRecord(t, store, "Book", map[string]string{"title": "Dune"})
	err = dup.Save(ctx)
	var verr *record.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	require.Contains(t, verr.Fields, "title")
}

func TestDeletingReferencedRowNullsReference(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	author := newRecord(t, store, "Author", map[string]string{"name": "Herbert"})
	require.NoError(t, author.MakeTable(ctx))
	require.NoError(t, author.Save(ctx))

	book := newRecord(t, store, "Book", map[string]string{"title": "Dune"})
	require.NoError(t, book.MakeTable(ctx))
	require.NoError(t, book.Set("author_id", author.IDString()))
	require.NoError(t, book.Save(ctx))

	require.NoError(t, author.Delete(ctx))
	require.NoError(t, book.Reload(ctx))
	require.Equal(t, "", get(t, book, "author_id"))
}

func TestLoadAllByDayUpdatedAndOffsetWithoutLimit(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	authors := newRecord(t, store, "Author", nil)
	require.NoError(t, authors.MakeTable(ctx))
	for _, name := range []string{"Clarke", "Asimov", "Banks"} {
		require.NoError(t, newRecord(t, store, "Author", map[string]string{"name": name}).Save(ctx))
	}
	today := time.Now().UTC().Format(types.DateLayout)

	recs, err := authors.LoadAllByDayUpdated(ctx, today, record.Query{})
	require.NoError(t, err)
	require.Len(t, recs, 3)

	recs, err = authors.LoadAllByDayUpdated(ctx, "2001-01-01", record.Query{})
	require.NoError(t, err)
	require.Empty(t, recs)

	recs, err = authors.LoadAll(ctx, record.Query{Start: 1, OrderBy: "name"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "Banks", get(t, recs[0], "name"))
	require.Equal(t, "Clarke", get(t, recs[1], "name"))
}

func TestUniqueViolationIgnoresOtherErrors(t *testing.T) {
	_, ok := Dialect{}.UniqueViolation(errors.New("UNIQUE constraint failed: x.y"))
	require.False(t, ok)

	ctx := context.Background()
	store := openStore(t)
	p := sqlbase.New(store, newRecord(t, store, "Author", nil), Dialect{})
	_, err := p.Exec(ctx, "test", "CREATE TABLE `Gate` (`code` TEXT CONSTRAINT `UNIQUE constraint failed` CHECK (`code` <> 'x') UNIQUE)")
	require.NoError(t, err)

	// A check constraint whose name reads like a unique failure is not one.
	_, err = p.Exec(ctx, "test", "INSERT INTO `Gate` (`code`) VALUES ('x')")
	require.ErrorContains(t, err, "UNIQUE constraint failed")
	_, ok = Dialect{}.UniqueViolation(err)
	require.False(t, ok)

	_, err = p.Exec(ctx, "test", "INSERT INTO `Gate` (`code`) VALUES ('a')")
	require.NoError(t, err)
	_, err = p.Exec(ctx, "test", "INSERT INTO `Gate` (`code`) VALUES ('a')")
	_, ok = Dialect{}.UniqueViolation(err)
	require.True(t, ok)
}

func TestQuoteIdentNeverFallsBackToLiteral(t *testing.T) {
	require.Equal(t, "`Book`", Dialect{}.QuoteIdent("Book"))
	require.Equal(t, "`a``b`", Dialect{}.QuoteIdent("a`b"))
	require.Equal(t, "DROP TABLE IF EXISTS `Book`", Dialect{}.DropTable("Book"))
}

func TestLoadHealsColumnAddedSinceTableWasMade(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "drift.db")
	widget := func(fields ...string) *record.Descriptor {
		d := &record.Descriptor{Name: "Widget"}
		for _, f := range fields {
			d.Fields = append(d.Fields, record.FieldSpec{Name: f, New: func() types.Type { return types.NewSmallText() }})
		}
		return d
	}

	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Register(widget("a")))
	row := newRecord(t, first, "Widget", map[string]string{"a": "x"})
	require.NoError(t, row.MakeTable(ctx))
	require.NoError(t, row.Save(ctx))
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })
	require.NoError(t, second.Register(widget("a", "b")))

	rec := newRecord(t, second, "Widget", nil)
	require.ErrorIs(t, rec.Load(ctx, row.ID(), 0), record.ErrNotFound)
	missing, err := rec.FindMissingFields(ctx)
	require.NoError(t, err)
	require.Empty(t, missing)

	require.NoError(t, rec.Load(ctx, row.ID(), 0))
	require.Equal(t, "x", get(t, rec, "a"))
	require.Equal(t, "", get(t, rec, "b"))

	// A filter on a column that is not there fails instead of comparing text.
	require.NoError(t, second.Close())
	third, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = third.Close() })
	require.NoError(t, third.Register(widget("a", "b", "c")))
	_, err = newRecord(t, third, "Widget", nil).LoadAllByAttribute(ctx, "c", "c", record.Query{})
	require.ErrorIs(t, err, record.ErrNotFound)
	all, err := newRecord(t, third, "Widget", nil).LoadAllByAttribute(ctx, "c", "c", record.Query{})
	require.NoError(t, err)
	require.Empty(t, all)
}

func foreignTables(t *testing.T, store *record.Store, table string) []string {
	t.Helper()
	p := sqlbase.New(store, newRecord(t, store, "Author", nil), Dialect{})
	fks, err := Dialect{}.foreignKeys(context.Background(), p, table)
	require.NoError(t, err)
	out := make([]string, 0, len(fks))
	for _, fk := range fks {
		out = append(out, fk.Table)
	}
	return out
}

func TestCheckIndexesRefusesRebuildInsideTransaction(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	require.NoError(t, store.Register(&record.Descriptor{
		Name: "Shelf",
		Fields: []record.FieldSpec{
			{Name: "book_id", New: func() types.Type { return types.NewManyToOne("Book", "title") }},
		},
	}))

	book := newRecord(t, store, "Book", nil)
	require.NoError(t, book.MakeTable(ctx))
	require.NoError(t, newRecord(t, store, "Shelf", nil).MakeTable(ctx))
	require.NoError(t, newRecord(t, store, "Author", nil).MakeTable(ctx))
	require.Equal(t, []string{"Book"}, foreignTables(t, store, "Shelf"))

	require.NoError(t, store.Begin(ctx))
	require.ErrorIs(t, book.CheckIndexes(ctx), record.ErrFailedIndexCreate)
	require.NoError(t, store.Rollback())
	require.Equal(t, []string{"Book"}, foreignTables(t, store, "Shelf"))

	require.NoError(t, book.CheckIndexes(ctx))
	indexes, err := book.GetIndexes(ctx)
	require.NoError(t, err)
	require.Contains(t, indexes, "Book_author_id_fk_idx")
	require.Equal(t, []string{"Book"}, foreignTables(t, store, "Shelf"))
}

func TestProviderRegistered(t *testing.T) {
	require.Contains(t, record.Providers(), ProviderName)
}

func TestQueryRunsWithWritesRefused(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	author := newRecord(t, store, "Author", map[string]string{"name": "Banks"})
	require.NoError(t, author.MakeTable(ctx))
	require.NoError(t, author.Save(ctx))
	p := sqlbase.New(store, author, Dialect{})

	_, err := p.Query(ctx, "DELETE FROM `Author`")
	require.ErrorIs(t, err, record.ErrCustomQuery)
	require.NoError(t, newRecord(t, store, "Author", map[string]string{"name": "Clarke"}).Save(ctx))

	require.NoError(t, store.Begin(ctx))
	_, err = p.Query(ctx, "DELETE FROM `Author`")
	require.ErrorIs(t, err, record.ErrCustomQuery)
	require.NoError(t, newRecord(t, store, "Author", map[string]string{"name": "Le Guin"}).Save(ctx))
	require.NoError(t, store.Commit())

	n, err := author.CountAll(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}
