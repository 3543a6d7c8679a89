package record_test

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alphadevx/alpha-sub000/internal/infra/persistence/sqlite"
	"github.com/alphadevx/alpha-sub000/pkg/record"
	"github.com/alphadevx/alpha-sub000/pkg/types"
)

func noteDescriptor() *record.Descriptor {
	return &record.Descriptor{
		Name: "Note",
		Fields: []record.FieldSpec{
			{Name: "title", New: func() types.Type { return types.NewRequiredSmallText() }},
			{Name: "body", New: func() types.Type { return types.NewText() }},
			{Name: "rating", New: func() types.Type { return types.NewInteger() }},
			{Name: "score", New: func() types.Type { return types.NewDouble() }},
			{Name: "pinned", New: func() types.Type { return types.NewBoolean() }},
			{Name: "due", New: func() types.Type { return types.NewDate() }},
			{Name: "remind_at", New: func() types.Type { return types.NewTimestamp() }},
			{Name: "mood", New: func() types.Type { return types.NewEnum("calm", "busy") }},
			{Name: "draft", New: func() types.Type { return types.NewText() }, Transient: true},
		},
		MaintainHistory: true,
	}
}

func libraryDescriptors() []*record.Descriptor {
	return []*record.Descriptor{
		{
			Name: "Author",
			Fields: []record.FieldSpec{
				{Name: "name", New: func() types.Type { return types.NewRequiredSmallText() }},
				{Name: "books", New: func() types.Type { return types.NewOneToMany("Book", "author_id", "title").Cascade() }},
			},
			Unique: [][]string{{"name"}},
		},
		{
			Name: "Publisher",
			Fields: []record.FieldSpec{
				{Name: "name", New: func() types.Type { return types.NewRequiredSmallText() }},
				{Name: "books", New: func() types.Type { return types.NewOneToMany("Book", "publisher_id", "title") }},
			},
		},
		{
			Name: "Book",
			Fields: []record.FieldSpec{
				{Name: "title", New: func() types.Type { return types.NewRequiredSmallText() }},
				{Name: "author_id", New: func() types.Type { return types.NewManyToOne("Author", "name") }},
				{Name: "publisher_id", New: func() types.Type { return types.NewManyToOne("Publisher", "name") }},
			},
		},
		{
			Name: "Article",
			Fields: []record.FieldSpec{
				{Name: "title", New: func() types.Type { return types.NewRequiredSmallText() }},
				{Name: "tags", New: func() types.Type { return types.NewManyToMany("Article", "Tag", "name") }},
			},
		},
		{
			Name: "Tag",
			Fields: []record.FieldSpec{
				{Name: "name", New: func() types.Type { return types.NewRequiredSmallText() }},
				{Name: "articles", New: func() types.Type { return types.NewManyToMany("Article", "Tag", "title") }},
			},
		},
		{
			Name: "Car",
			Fields: []record.FieldSpec{
				{Name: "name", New: func() types.Type { return types.NewRequiredSmallText() }},
			},
		},
		{
			Name:            "Truck",
			SharesTableWith: "Car",
			Fields: []record.FieldSpec{
				{Name: "payload", New: func() types.Type { return types.NewDouble() }},
			},
		},
		{
			Name: "Ticket",
			Fields: []record.FieldSpec{
				{Name: "subject", New: func() types.Type { return types.NewRequiredSmallText() }},
				{Name: "status", New: func() types.Type { return types.NewDEnum("ticket_status") }},
			},
		},
	}
}

func openAt(t *testing.T, path string, opts ...record.Option) *record.Store {
	t.Helper()
	store, err := sqlite.Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func openStore(t *testing.T, opts ...record.Option) *record.Store {
	t.Helper()
	store := openAt(t, filepath.Join(t.TempDir(), "records.db"), opts...)
	require.NoError(t, store.Register(noteDescriptor()))
	require.NoError(t, store.Register(libraryDescriptors()...))
	return store
}

func makeTables(t *testing.T, store *record.Store, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, newRec(t, store, name, nil).MakeTable(context.Background()))
	}
}

func newRec(t *testing.T, store *record.Store, name string, values map[string]string) *record.Record {
	t.Helper()
	rec, err := store.New(name)
	require.NoError(t, err)
	for k, v := range values {
		require.NoError(t, rec.Set(k, v))
	}
	return rec
}

func saved(t *testing.T, store *record.Store, name string, values map[string]string) *record.Record {
	t.Helper()
	rec := newRec(t, store, name, values)
	require.NoError(t, rec.Save(context.Background()))
	return rec
}

func load(t *testing.T, store *record.Store, name string, id int64) *record.Record {
	t.Helper()
	rec := newRec(t, store, name, nil)
	require.NoError(t, rec.Load(context.Background(), id, 0))
	return rec
}

func get(t *testing.T, rec *record.Record, name string) string {
	t.Helper()
	v, err := rec.Get(name)
	require.NoError(t, err)
	return v
}

func names(t *testing.T, recs []*record.Record, field string) []string {
	t.Helper()
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, get(t, r, field))
	}
	return out
}

func TestSaveThenLoadRoundTripsEveryField(t *testing.T) {
	store := openStore(t)
	makeTables(t, store, "Note")

	values := map[string]string{
		"title":     "groceries",
		"body":      "milk, eggs",
		"rating":    "3",
		"score":     "4.5",
		"pinned":    "1",
		"due":       "2026-01-31",
		"remind_at": "2026-01-31 10:15:00",
		"mood":      "busy",
		"draft":     "scratch",
	}
	note := saved(t, store, "Note", values)
	require.False(t, note.IsTransient())
	require.Equal(t, 1, note.Version())
	require.NotEmpty(t, note.CreatedTS())
	require.Equal(t, note.CreatedTS(), note.UpdatedTS())
	require.Len(t, note.IDString(), record.IDWidth)

	got := load(t, store, "Note", note.ID())
	for field, want := range values {
		if field == "draft" {
			continue
		}
		require.Equal(t, want, get(t, got, field), field)
	}
	require.Equal(t, "", get(t, got, "draft"), "transient fields are not persisted")
	require.Equal(t, note.CreatedTS(), got.CreatedTS())
	require.Equal(t, record.AnonymousActor, got.CreatedBy())
}

func TestLoadMissingRowIsNotFound(t *testing.T) {
	store := openStore(t)
	makeTables(t, store, "Note")
	err := newRec(t, store, "Note", nil).Load(context.Background(), 42, 0)
	require.ErrorIs(t, err, record.ErrNotFound)
}

func TestSaveRejectsInvalidRecordWithAggregatedErrors(t *testing.T) {
	store := openStore(t)
	makeTables(t, store, "Note")
	note := newRec(t, store, "Note", map[string]string{"body": "no title"})
	err := note.Save(context.Background())
	require.ErrorIs(t, err, record.ErrValidationFailed)
	var verr *record.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "title")
	require.True(t, note.IsTransient())

	require.ErrorIs(t, note.Set("mood", "angry"), record.ErrInvalidValue)
	require.ErrorIs(t, note.Set("nope", "x"), record.ErrUnknownField)
	require.Error(t, note.Set(record.ColVersion, "7"))
}

func TestVersionIncrementsAndStaleCopiesAreRejected(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	makeTables(t, store, "Note")
	note := saved(t, store, "Note", map[string]string{"title": "v1"})

	first := load(t, store, "Note", note.ID())
	second := load(t, store, "Note", note.ID())

	require.NoError(t, first.Set("title", "v2"))
	require.NoError(t, first.Save(ctx))
	require.Equal(t, 2, first.Version())

	require.NoError(t, second.Set("title", "conflict"))
	require.ErrorIs(t, second.Save(ctx), record.ErrLocking)
	require.True(t, second.IsStale())
	require.ErrorIs(t, second.Save(ctx), record.ErrStale)

	require.NoError(t, second.Reload(ctx))
	require.False(t, second.IsStale())
	require.Equal(t, 2, second.Version())
	require.Equal(t, "v2", get(t, second, "title"))
	require.NoError(t, second.Set("title", "v3"))
	require.NoError(t, second.Save(ctx))
	require.Equal(t, 3, second.Version())

	v, err := second.GetVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, v)
}

func TestSaveAttributeWritesOneFieldUnderVersionCheck(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	makeTables(t, store, "Note")
	note := saved(t, store, "Note", map[string]string{"title": "t", "body": "old"})

	require.ErrorIs(t, newRec(t, store, "Note", nil).SaveAttribute(ctx, "body", "x"), record.ErrFailedSave)
	require.ErrorIs(t, note.SaveAttribute(ctx, "draft", "x"), record.ErrUnknownField)
	require.ErrorIs(t, note.SaveAttribute(ctx, "title", ""), record.ErrValidationFailed)

	require.NoError(t, note.SaveAttribute(ctx, "body", "new"))
	require.Equal(t, 2, note.Version())
	got := load(t, store, "Note", note.ID())
	require.Equal(t, "new", get(t, got, "body"))
	require.Equal(t, "t", get(t, got, "title"))

	n, err := note.HistoryCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestHistoryKeepsEverySavedVersion(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	makeTables(t, store, "Note", "Author")
	note := saved(t, store, "Note", map[string]string{"title": "one"})
	for _, title := range []string{"two", "three"} {
		require.NoError(t, note.Set("title", title))
		require.NoError(t, note.Save(ctx))
	}

	n, err := note.HistoryCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	old := newRec(t, store, "Note", nil)
	require.NoError(t, old.Load(ctx, note.ID(), 2))
	require.Equal(t, "two", get(t, old, "title"))
	require.Equal(t, 2, old.Version())
	require.Equal(t, "three", get(t, load(t, store, "Note", note.ID()), "title"))

	require.ErrorIs(t, newRec(t, store, "Note", nil).Load(ctx, note.ID(), 9), record.ErrNotFound)

	author := saved(t, store, "Author", map[string]string{"name": "Le Guin"})
	require.ErrorIs(t, newRec(t, store, "Author", nil).Load(ctx, author.ID(), 1), record.ErrNotFound)
	_, err = author.HistoryCount(ctx)
	require.ErrorIs(t, err, record.ErrNotFound)
}

func TestLoadCreatesMissingTableAndReportsNotFound(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	note := newRec(t, store, "Note", nil)

	exists, err := note.CheckTableExists(ctx, false)
	require.NoError(t, err)
	require.False(t, exists)

	require.ErrorIs(t, note.Load(ctx, 1, 0), record.ErrNotFound)
	for _, history := range []bool{false, true} {
		exists, err = note.CheckTableExists(ctx, history)
		require.NoError(t, err)
		require.True(t, exists)
	}
	saved(t, store, "Note", map[string]string{"title": "after heal"})
}

func TestLoadAddsMissingColumnsAndReportsNotFound(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "drift.db")
	gadget := func(fields ...string) *record.Descriptor {
		d := &record.Descriptor{Name: "Gadget"}
		for _, f := range fields {
			d.Fields = append(d.Fields, record.FieldSpec{Name: f, New: func() types.Type { return types.NewSmallText() }})
		}
		return d
	}

	before := openAt(t, path)
	require.NoError(t, before.Register(gadget("a")))
	makeTables(t, before, "Gadget")
	row := saved(t, before, "Gadget", map[string]string{"a": "x"})
	require.NoError(t, before.Close())

	after := openAt(t, path)
	require.NoError(t, after.Register(gadget("a", "b")))
	rec := newRec(t, after, "Gadget", nil)

	missing, err := rec.FindMissingFields(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, missing)
	needs, err := rec.CheckTableNeedsUpdate(ctx)
	require.NoError(t, err)
	require.True(t, needs)

	require.ErrorIs(t, rec.Load(ctx, row.ID(), 0), record.ErrNotFound)

	missing, err = rec.FindMissingFields(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{}, missing)
	got := load(t, after, "Gadget", row.ID())
	require.Equal(t, "x", get(t, got, "a"))
	require.Equal(t, "", get(t, got, "b"))
}

func TestAddPropertyRejectsUndeclaredColumn(t *testing.T) {
	store := openStore(t)
	makeTables(t, store, "Note")
	note := newRec(t, store, "Note", nil)
	require.ErrorIs(t, note.AddProperty(context.Background(), "nope"), record.ErrUnknownField)
	require.ErrorIs(t, note.AddProperty(context.Background(), "draft"), record.ErrUnknownField)
}

func TestSharedTableIsolatesTypesByKind(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	makeTables(t, store, "Car")

	car := saved(t, store, "Car", map[string]string{"name": "mini"})
	saved(t, store, "Truck", map[string]string{"payload": "7.5"})
	truck := saved(t, store, "Truck", map[string]string{"payload": "12"})

	carView := newRec(t, store, "Car", nil)
	truckView := newRec(t, store, "Truck", nil)
	for _, tc := range []struct {
		rec        *record.Record
		ignoreKind bool
		want       int
	}{
		{carView, false, 1},
		{truckView, false, 2},
		{carView, true, 3},
	} {
		n, err := tc.rec.CountAll(ctx, tc.ignoreKind)
		require.NoError(t, err)
		require.Equal(t, tc.want, n)
	}

	trucks, err := truckView.LoadAll(ctx, record.Query{})
	require.NoError(t, err)
	require.Len(t, trucks, 2)

	all, err := carView.LoadAll(ctx, record.Query{IgnoreKind: true})
	require.NoError(t, err)
	kinds := map[string]int{}
	for _, r := range all {
		kinds[r.TypeName()]++
	}
	require.Equal(t, map[string]int{"Car": 1, "Truck": 2}, kinds)
	require.Equal(t, "12", get(t, all[2], "payload"))

	require.ErrorIs(t, truckView.Load(ctx, car.ID(), 0), record.ErrNotFound)
	require.Equal(t, "12", get(t, load(t, store, "Truck", truck.ID()), "payload"))

	overloaded, err := truckView.IsTableOverloaded(ctx)
	require.NoError(t, err)
	require.True(t, overloaded)
	table, err := truckView.Table()
	require.NoError(t, err)
	require.Equal(t, "Car", table)
}

func TestOneToManyDeleteCascadesOrReleases(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	makeTables(t, store, "Author", "Publisher", "Book")

	author := saved(t, store, "Author", map[string]string{"name": "Herbert"})
	publisher := saved(t, store, "Publisher", map[string]string{"name": "Chilton"})
	for _, title := range []string{"Dune Messiah", "Dune"} {
		saved(t, store, "Book", map[string]string{
			"title":        title,
			"author_id":    author.IDString(),
			"publisher_id": publisher.IDString(),
		})
	}

	books, err := author.RelatedRecords(ctx, "books")
	require.NoError(t, err)
	require.Equal(t, []string{"Dune", "Dune Messiah"}, names(t, books, "title"))

	display, err := books[0].DisplayValue(ctx, "author_id")
	require.NoError(t, err)
	require.Equal(t, "Herbert", display)
	related, err := books[0].Related(ctx, "publisher_id")
	require.NoError(t, err)
	require.Equal(t, publisher.ID(), related.ID())

	require.NoError(t, publisher.Delete(ctx))
	require.True(t, publisher.IsTransient())
	for _, b := range books {
		got := load(t, store, "Book", b.ID())
		require.Equal(t, "", get(t, got, "publisher_id"))
		require.Equal(t, 2, got.Version())
	}

	require.NoError(t, author.Delete(ctx))
	n, err := newRec(t, store, "Book", nil).CountAll(ctx, false)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = newRec(t, store, "Book", nil).Related(ctx, "author_id")
	require.ErrorIs(t, err, record.ErrNotFound)
	require.ErrorIs(t, newRec(t, store, "Book", nil).Delete(ctx), record.ErrFailedDelete)
}

func TestManyToManySaveReplacesTheWholeSet(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	makeTables(t, store, "Article", "Tag")

	tags := map[string]*record.Record{}
	for _, name := range []string{"zig", "go", "sql"} {
		tags[name] = saved(t, store, "Tag", map[string]string{"name": name})
	}
	article := newRec(t, store, "Article", map[string]string{"title": "Systems"})
	rel, err := record.Field[*types.Relation](article, "tags")
	require.NoError(t, err)

	require.NoError(t, rel.SetRelatedIDs(tags["sql"].ID(), tags["go"].ID()))
	require.NoError(t, article.Save(ctx))
	got, err := article.RelatedRecords(ctx, "tags")
	require.NoError(t, err)
	require.Equal(t, []string{"go", "sql"}, names(t, got, "name"))

	require.NoError(t, rel.SetRelatedIDs(tags["sql"].ID(), tags["zig"].ID()))
	require.NoError(t, article.Save(ctx))
	got, err = article.RelatedRecords(ctx, "tags")
	require.NoError(t, err)
	require.Equal(t, []string{"sql", "zig"}, names(t, got, "name"))

	lookup := newRec(t, store, types.LookupName("Article", "Tag"), nil)
	n, err := lookup.CountAll(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	fromGo, err := tags["go"].RelatedRecords(ctx, "articles")
	require.NoError(t, err)
	require.Empty(t, fromGo)
	fromZig, err := tags["zig"].RelatedRecords(ctx, "articles")
	require.NoError(t, err)
	require.Equal(t, []string{"Systems"}, names(t, fromZig, "title"))

	// Saving without assigning a new set leaves the lookup alone.
	require.NoError(t, article.Set("title", "Systems 2e"))
	require.NoError(t, article.Save(ctx))
	n, err = lookup.CountAll(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.NoError(t, article.Delete(ctx))
	n, err = lookup.CountAll(ctx, false)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDynamicEnumOptionsArePersisted(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	open, err := store.AddDEnumOption(ctx, "ticket_status", "open")
	require.NoError(t, err)
	closed, err := store.AddDEnumOption(ctx, "ticket_status", "closed")
	require.NoError(t, err)
	_, err = store.AddDEnumOption(ctx, "ticket_status", "open")
	require.ErrorIs(t, err, record.ErrValidationFailed)

	makeTables(t, store, "Ticket")
	ticket := saved(t, store, "Ticket", map[string]string{"subject": "printer", "status": strconv.FormatInt(open, 10)})

	bad := newRec(t, store, "Ticket", map[string]string{"subject": "x"})
	require.ErrorIs(t, bad.Set("status", "999"), record.ErrInvalidValue)
	require.NoError(t, bad.Set("status", strconv.FormatInt(closed, 10)))

	got := load(t, store, "Ticket", ticket.ID())
	status, err := record.Field[*types.DEnum](got, "status")
	require.NoError(t, err)
	require.NoError(t, store.LoadDEnumOptions(ctx, status))
	require.Equal(t, []int64{open, closed}, status.Options())
	require.Equal(t, "open", status.Label())
}

func TestUnknownDynamicEnumOptionIsRejected(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tickets.db")
	writer := openAt(t, path)
	require.NoError(t, writer.Register(libraryDescriptors()...))
	makeTables(t, writer, "Ticket")
	open, err := writer.AddDEnumOption(ctx, "ticket_status", "open")
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	store := openAt(t, path)
	require.NoError(t, store.Register(libraryDescriptors()...))

	// Nothing has read the options yet, so only the id shape is checked here
	// and Save catches the unknown option.
	early := newRec(t, store, "Ticket", map[string]string{"subject": "x", "status": "999"})
	err = early.Save(ctx)
	require.ErrorIs(t, err, record.ErrValidationFailed)
	require.ErrorIs(t, err, record.ErrInvalidValue)
	var verr *record.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "status")

	// From then on the store knows the options and Set rejects at once.
	late := newRec(t, store, "Ticket", map[string]string{"subject": "y"})
	require.ErrorIs(t, late.Set("status", "999"), record.ErrInvalidValue)
	require.NoError(t, late.Set("status", strconv.FormatInt(open, 10)))
	require.NoError(t, late.Save(ctx))

	fresh := openAt(t, path)
	require.NoError(t, fresh.Register(libraryDescriptors()...))
	rec := newRec(t, fresh, "Ticket", nil)
	require.NoError(t, rec.LoadDEnumOptions(ctx))
	require.ErrorIs(t, rec.Set("status", "999"), record.ErrInvalidValue)
}

func TestUniqueConstraintViolationNamesFields(t *testing.T) {
	store := openStore(t)
	makeTables(t, store, "Author")
	saved(t, store, "Author", map[string]string{"name": "Banks"})

	err := newRec(t, store, "Author", map[string]string{"name": "Banks"}).Save(context.Background())
	var verr *record.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	require.Contains(t, verr.Fields, "name")

	indexes, err := newRec(t, store, "Author", nil).GetIndexes(context.Background())
	require.NoError(t, err)
	require.Contains(t, indexes, record.UniqueIndexName("Author", "name"))
}

func TestFindersAndCounters(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	makeTables(t, store, "Note")
	for i, title := range []string{"a", "b", "b", "c"} {
		saved(t, store, "Note", map[string]string{"title": title, "rating": strconv.Itoa(i)})
	}
	notes := newRec(t, store, "Note", nil)

	require.NoError(t, notes.LoadByAttribute(ctx, "title", "c", false))
	require.Equal(t, "3", get(t, notes, "rating"))
	require.ErrorIs(t, newRec(t, store, "Note", nil).LoadByAttribute(ctx, "title", "zzz", false), record.ErrNotFound)

	partial := newRec(t, store, "Note", nil)
	require.NoError(t, partial.LoadByAttribute(ctx, "title", "a", false, "title"))
	require.Equal(t, "a", get(t, partial, "title"))
	require.Equal(t, "", get(t, partial, "rating"))

	bs, err := notes.LoadAllByAttribute(ctx, "title", "b", record.Query{OrderBy: "rating", Order: "DESC"})
	require.NoError(t, err)
	require.Equal(t, []string{"2", "1"}, names(t, bs, "rating"))

	one, err := notes.LoadAllByAttributes(ctx, []string{"title", "rating"}, []string{"b", "2"}, record.Query{})
	require.NoError(t, err)
	require.Len(t, one, 1)

	page, err := notes.LoadAll(ctx, record.Query{Start: 1, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"b", "b"}, names(t, page, "title"))

	ratings, err := notes.LoadAllFieldValuesByAttribute(ctx, "title", "b", "rating", record.Query{})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"1", "2"}, ratings)

	n, err := notes.Count(ctx, []string{"title"}, []string{"b"})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	maxID, err := notes.MaxID(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4), maxID)
	ok, err := notes.CheckRecordExists(ctx, 4)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = notes.CheckRecordExists(ctx, 40)
	require.NoError(t, err)
	require.False(t, ok)

	deleted, err := notes.DeleteAllByAttribute(ctx, "title", "b")
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted)
	n, err = notes.CountAll(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = notes.LoadAll(ctx, record.Query{OrderBy: "nope"})
	require.ErrorIs(t, err, record.ErrUnknownField)
	_, err = notes.LoadAllByAttribute(ctx, "draft", "x", record.Query{})
	require.ErrorIs(t, err, record.ErrUnknownField)
}

func TestQueryAcceptsOnlyReadStatements(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	makeTables(t, store, "Note")
	saved(t, store, "Note", map[string]string{"title": "q"})
	notes := newRec(t, store, "Note", nil)

	rows, err := notes.Query(ctx, `SELECT COUNT(*) AS n, MAX("title") AS top FROM "Note"`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "n", rows[0][0].Name)
	v, ok := rows[0].Get("top")
	require.True(t, ok)
	require.Equal(t, "q", v)

	_, err = notes.Query(ctx, `DELETE FROM "Note"`)
	require.ErrorIs(t, err, record.ErrCustomQuery)
	_, err = notes.Query(ctx, `SELECT * FROM "NoSuchTable"`)
	require.ErrorIs(t, err, record.ErrCustomQuery)
}

func TestExplicitTransactions(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	makeTables(t, store, "Note")
	notes := newRec(t, store, "Note", nil)

	require.ErrorIs(t, store.Commit(), record.ErrNoTx)
	require.NoError(t, store.Begin(ctx))
	require.ErrorIs(t, store.Begin(ctx), record.ErrTxActive)
	saved(t, store, "Note", map[string]string{"title": "rolled back"})
	require.NoError(t, store.Rollback())
	n, err := notes.CountAll(ctx, false)
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, store.Begin(ctx))
	saved(t, store, "Note", map[string]string{"title": "kept"})
	require.NoError(t, store.Commit())
	n, err = notes.CountAll(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestRebuildAndDropTable(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	makeTables(t, store, "Note")
	saved(t, store, "Note", map[string]string{"title": "gone"})
	notes := newRec(t, store, "Note", nil)

	require.NoError(t, notes.RebuildTable(ctx))
	n, err := notes.CountAll(ctx, false)
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, notes.DropTable(ctx, ""))
	for _, history := range []bool{false, true} {
		exists, err := notes.CheckTableExists(ctx, history)
		require.NoError(t, err)
		require.False(t, exists)
	}
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]map[string]string
	hits int
}

func (c *mapCache) Get(key string) (map[string]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if ok {
		c.hits++
	}
	return v, ok
}

func (c *mapCache) Set(key string, values map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = values
}

func (c *mapCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

type opRecorder struct {
	mu  sync.Mutex
	ops map[string]int
}

func (o *opRecorder) Observe(_ context.Context, op string, _ bool, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops[op]++
}

func TestCollaboratorsSeeRecordOperations(t *testing.T) {
	ctx := context.Background()
	cache := &mapCache{data: map[string]map[string]string{}}
	obs := &opRecorder{ops: map[string]int{}}
	store := openStore(t,
		record.WithCache(cache),
		record.WithObserver(obs),
		record.WithSession(record.SessionFunc(func() int64 { return 42 })),
	)
	makeTables(t, store, "Note")

	note := saved(t, store, "Note", map[string]string{"title": "cached"})
	require.Equal(t, int64(42), note.CreatedBy())
	require.Equal(t, int64(42), note.UpdatedBy())
	key := record.CacheKey("Note", note.ID())
	require.Contains(t, cache.data, key)

	got := load(t, store, "Note", note.ID())
	require.Equal(t, 1, cache.hits)
	require.Equal(t, "cached", get(t, got, "title"))
	require.Equal(t, int64(42), got.CreatedBy())

	require.NoError(t, got.Delete(ctx))
	require.NotContains(t, cache.data, key)
	require.Equal(t, 1, obs.ops["save"])
	require.Equal(t, 1, obs.ops["load"])
	require.Equal(t, 1, obs.ops["delete"])
}

func TestNewStoreValidatesArguments(t *testing.T) {
	conn, err := sqlite.NewConn(":memory:")
	require.NoError(t, err)
	_, err = record.NewStore("no-such-backend", conn)
	require.ErrorIs(t, err, record.ErrUnknownProvider)
	_, err = record.NewStore(sqlite.ProviderName, nil)
	require.Error(t, err)

	store, err := record.NewStore(sqlite.ProviderName, conn)
	require.NoError(t, err)
	_, err = store.New("Unregistered")
	require.ErrorIs(t, err, record.ErrBadTableName)
	_, ok := store.Registry().Lookup(record.DEnumType)
	require.True(t, ok)
}
