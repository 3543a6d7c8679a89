// Package backup dumps the tables of every registered record type, history
// tables included, to a blob store as JSON lines.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alphadevx/alpha-sub000/internal/blob"
	"github.com/alphadevx/alpha-sub000/pkg/record"
)

const (
	manifestName = "manifest.json"
	rowsType     = "application/x-ndjson"
)

// ErrNoManifest is returned by ReadManifest for an unknown run.
var ErrNoManifest = errors.New("backup manifest not found")

// Row is one dumped row keyed by column. A nil value is a NULL column.
type Row map[string]*string

// Get returns the value of col; ok is false when it is NULL or absent.
func (r Row) Get(col string) (v string, ok bool) {
	if p := r[col]; p != nil {
		return *p, true
	}
	return "", false
}

// Table describes one dumped table.
type Table struct {
	Name    string `json:"name"`
	Key     string `json:"key"`
	Rows    int    `json:"rows"`
	History bool   `json:"history,omitempty"`
}

// Manifest is written last; a run without one is incomplete.
type Manifest struct {
	RunID      string    `json:"run_id"`
	Provider   string    `json:"provider"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Tables     []Table   `json:"tables"`
}

// Runner writes backups of a store.
type Runner struct {
	store  *record.Store
	blobs  blob.Store
	prefix string
	log    zerolog.Logger
	now    func() time.Time
	newID  func() string
}

// New returns a runner writing under prefix in blobs.
func New(store *record.Store, blobs blob.Store, prefix string, log zerolog.Logger) *Runner {
	return &Runner{
		store:  store,
		blobs:  blobs,
		prefix: prefix,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Run dumps every existing table once. Tables that were never created are
// skipped. Types sharing a table produce a single dump, and so does their
// history table when any of them maintains history.
func (b *Runner) Run(ctx context.Context) (*Manifest, error) {
	m := &Manifest{RunID: b.newID(), Provider: b.store.ProviderName(), StartedAt: b.now()}
	seen := make(map[string]bool)

	descs := b.store.Registry().All()
	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })
	for _, d := range descs {
		rec, err := b.store.New(d.Name)
		if err != nil {
			return nil, err
		}
		table, err := rec.Table()
		if err != nil {
			return nil, err
		}
		if !seen[table] {
			seen[table] = true
			dumped, err := b.dump(ctx, m.RunID, rec, table, false)
			if err != nil {
				return nil, err
			}
			if dumped != nil {
				m.Tables = append(m.Tables, *dumped)
			}
		}

		if !d.MaintainHistory {
			continue
		}
		history, err := rec.HistoryTable()
		if err != nil {
			return nil, err
		}
		if seen[history] {
			continue
		}
		seen[history] = true
		dumped, err := b.dump(ctx, m.RunID, rec, history, true)
		if err != nil {
			return nil, err
		}
		if dumped != nil {
			m.Tables = append(m.Tables, *dumped)
		}
	}

	m.FinishedAt = b.now()
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if _, err := b.blobs.Put(ctx, b.key(m.RunID, manifestName), bytes.NewReader(raw), blob.PutOptions{ContentType: "application/json"}); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	b.log.Info().Str("run_id", m.RunID).Int("tables", len(m.Tables)).Msg("backup complete")
	return m, nil
}

func (b *Runner) dump(ctx context.Context, runID string, rec *record.Record, table string, history bool) (*Table, error) {
	exists, err := rec.CheckTableExists(ctx, history)
	if err != nil {
		return nil, err
	}
	if !exists {
		b.log.Debug().Str("table", table).Msg("backup skipped missing table")
		return nil, nil
	}
	rows, err := rec.Query(ctx, `SELECT * FROM "`+table+`" ORDER BY "`+record.ColID+`"`)
	if err != nil {
		return nil, fmt.Errorf("dump %s: %w", table, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		obj := make(Row, len(row))
		for _, nv := range row {
			if nv.Null {
				obj[nv.Name] = nil
				continue
			}
			v := nv.Value
			obj[nv.Name] = &v
		}
		if err := enc.Encode(obj); err != nil {
			return nil, fmt.Errorf("encode %s: %w", table, err)
		}
	}
	key := b.key(runID, table+".jsonl")
	if _, err := b.blobs.Put(ctx, key, &buf, blob.PutOptions{
		ContentType: rowsType,
		Metadata:    map[string]string{"table": table},
	}); err != nil {
		return nil, fmt.Errorf("write %s: %w", key, err)
	}
	return &Table{Name: table, Key: key, Rows: len(rows), History: history}, nil
}

func (b *Runner) key(runID, name string) string {
	return path.Join(b.prefix, runID, name)
}

// Runs lists the identifiers of completed runs under prefix, oldest first.
func Runs(ctx context.Context, blobs blob.Store, prefix string) ([]string, error) {
	infos, err := blobs.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var runs []Manifest
	for _, info := range infos {
		if path.Base(info.Key) != manifestName {
			continue
		}
		m, err := readManifestKey(ctx, blobs, info.Key)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *m)
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })
	out := make([]string, len(runs))
	for i, m := range runs {
		out[i] = m.RunID
	}
	return out, nil
}

// ReadManifest loads the manifest of runID.
func ReadManifest(ctx context.Context, blobs blob.Store, prefix, runID string) (*Manifest, error) {
	return readManifestKey(ctx, blobs, path.Join(prefix, runID, manifestName))
}

func readManifestKey(ctx context.Context, blobs blob.Store, key string) (*Manifest, error) {
	_, rc, err := blobs.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoManifest, key)
	}
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var m Manifest
	if err := json.NewDecoder(rc).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &m, nil
}

// ReadRows decodes a dumped table. NULL columns decode as nil values.
func ReadRows(ctx context.Context, blobs blob.Store, key string) ([]Row, error) {
	_, rc, err := blobs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	dec := json.NewDecoder(rc)
	var out []Row
	for {
		var row Row
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, row)
	}
}
