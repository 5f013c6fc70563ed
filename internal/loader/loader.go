// Package loader runs the warehouse steps of an archive execution: deleting
// prior raw lines, bulk loading the staged file, and deriving aggregate and
// child rows from it. Every method writes through the Querier it was built
// with, normally the execution's transaction.
package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strings"

	arkerrors "github.com/loadtrail/loadtrail/internal/errors"
	"github.com/loadtrail/loadtrail/internal/extract"
	"github.com/loadtrail/loadtrail/internal/observability"
	"github.com/loadtrail/loadtrail/internal/payload"
	"github.com/loadtrail/loadtrail/internal/runlog"
	"github.com/loadtrail/loadtrail/internal/warehouse"
	"github.com/loadtrail/loadtrail/pkg/types"
)

// Loader derives and inserts rows for one layout.
type Loader struct {
	q         warehouse.Querier
	dialect   warehouse.Dialect
	layout    warehouse.Layout
	engine    *extract.Engine
	stats     *observability.ArchiveStats
	batchSize int
	execID    string
}

// Option configures a Loader.
type Option func(*Loader)

// WithBatchSize sets the number of rows buffered per flush.
func WithBatchSize(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

// WithStats records counters into s instead of a private tracker.
func WithStats(s *observability.ArchiveStats) Option {
	return func(l *Loader) {
		if s != nil {
			l.stats = s
		}
	}
}

// WithExecutionID tags log lines with the archive execution they belong to.
func WithExecutionID(id string) Option {
	return func(l *Loader) { l.execID = id }
}

// New creates a loader. The engine's flavor must match the layout's.
func New(q warehouse.Querier, d warehouse.Dialect, layout warehouse.Layout, engine *extract.Engine, opts ...Option) (*Loader, error) {
	if engine.Flavor() != layout.Flavor {
		return nil, fmt.Errorf("engine flavor %q does not match layout flavor %q", engine.Flavor(), layout.Flavor)
	}
	l := &Loader{
		q:         q,
		dialect:   d,
		layout:    layout,
		engine:    engine,
		stats:     observability.NewArchiveStats(),
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Stats returns the tracker the loader records into.
func (l *Loader) Stats() *observability.ArchiveStats {
	return l.stats
}

// DeletePrior removes raw lines that mention any of runIDs, then any raw
// lines previously loaded from sourceFile. It returns the number of rows
// removed.
func (l *Loader) DeletePrior(ctx context.Context, runIDs []string, sourceFile string) (int64, error) {
	raw := l.layout.Raw.Name
	stmt, err := l.q.PrepareContext(ctx, l.dialect.Rebind(
		fmt.Sprintf("DELETE FROM %s WHERE %s", raw, l.dialect.Contains("content"))))
	if err != nil {
		return 0, arkerrors.NewTransactionError(arkerrors.CodeDeleteFailed, "failed to prepare delete", err)
	}
	defer stmt.Close()

	b := NewBatcher(l.batchSize, func(ctx context.Context, rows [][]any) (int64, error) {
		var n int64
		for _, args := range rows {
			res, err := stmt.ExecContext(ctx, args...)
			if err != nil {
				return n, err
			}
			n += rowsAffected(res, 0)
		}
		return n, nil
	})
	for _, id := range runIDs {
		if err := b.Add(ctx, []any{runlog.RunIDMarker(id)}); err != nil {
			return b.Stored(), arkerrors.NewTransactionError(arkerrors.CodeDeleteFailed, "failed to delete prior raw lines", err)
		}
	}
	if err := b.Flush(ctx); err != nil {
		return b.Stored(), arkerrors.NewTransactionError(arkerrors.CodeDeleteFailed, "failed to delete prior raw lines", err)
	}
	deleted := b.Stored()

	res, err := l.q.ExecContext(ctx, l.dialect.Rebind(
		fmt.Sprintf("DELETE FROM %s WHERE source_file = ?", raw)), sourceFile)
	if err != nil {
		return deleted, arkerrors.NewTransactionError(arkerrors.CodeDeleteFailed,
			fmt.Sprintf("failed to delete raw lines of %s", sourceFile), err)
	}
	deleted += rowsAffected(res, 0)

	l.stats.RecordRawDeleted(deleted)
	l.logf("deleted %d prior raw lines for %d run ids from %s", deleted, len(runIDs), raw)
	return deleted, nil
}

// BulkLoadRaw inserts every line of r into the raw table, tagged with
// sourceFile and its 1-based row number. Any failure aborts the whole load.
func (l *Loader) BulkLoadRaw(ctx context.Context, r io.Reader, sourceFile string) (int64, error) {
	raw := l.layout.Raw
	b := NewBatcher(l.batchSize, func(ctx context.Context, rows [][]any) (int64, error) {
		return l.insertRows(ctx, raw, rows, false)
	})

	err := runlog.ReadLines(r, func(line string, n int64) error {
		return b.Add(ctx, rowFor(raw, map[string]any{
			"content":           line,
			"source_file":       sourceFile,
			"source_row_number": n,
		}))
	})
	if err == nil {
		err = b.Flush(ctx)
	}
	if err != nil {
		return 0, arkerrors.NewBulkLoadError(fmt.Sprintf("failed to load %s into %s", sourceFile, raw.Name), err)
	}

	l.stats.RecordRawLoaded(b.Stored())
	l.logf("loaded %d raw lines from %s in %d batches", b.Stored(), sourceFile, b.Flushes())
	return b.Stored(), nil
}

// InsertAggregates derives aggregate rows for each run id from the raw lines
// of sourceFile. Run ids that already have aggregate rows are skipped.
func (l *Loader) InsertAggregates(ctx context.Context, runIDs []string, sourceFile string) error {
	table := l.layout.Aggregates
	for _, id := range runIDs {
		exists, err := l.hasRunID(ctx, table.Name, id)
		if err != nil {
			return l.deriveErr(table.Name, id, err)
		}
		if exists {
			l.stats.RecordSkippedRunID(table.Name, id)
			l.logf("%s already holds run %q, skipping", table.Name, id)
			continue
		}

		b := NewBatcher(l.batchSize, l.flushTo(table))
		err = l.scanRaw(ctx, sourceFile, id, func(line types.RawLogLine) error {
			res := l.extract(line, true)
			if res.Kind != extract.KindAggregate || res.Aggregate.RunID != id {
				return nil
			}
			return b.Add(ctx, aggregateRow(table, res.Aggregate))
		})
		if err == nil {
			err = b.Flush(ctx)
		}
		if err != nil {
			return l.deriveErr(table.Name, id, err)
		}
		l.logf("run %q: %d of %d aggregate rows inserted into %s", id, b.Stored(), b.Attempted(), table.Name)
	}
	return nil
}

// InsertChildren derives the child rows of each run id: detail rows for the
// query flavor, normalized responses for the protocol flavor. Only children
// of aggregates present in the warehouse are inserted.
func (l *Loader) InsertChildren(ctx context.Context, runIDs []string, sourceFile string) error {
	table := l.layout.Children
	for _, id := range runIDs {
		exists, err := l.hasRunID(ctx, table.Name, id)
		if err != nil {
			return l.deriveErr(table.Name, id, err)
		}
		if exists {
			l.stats.RecordSkippedRunID(table.Name, id)
			l.logf("%s already holds run %q, skipping", table.Name, id)
			continue
		}

		switch l.layout.Flavor {
		case types.FlavorProtocol:
			err = l.insertResponses(ctx, id)
		default:
			err = l.insertDetails(ctx, id, sourceFile)
		}
		if err != nil {
			return l.deriveErr(table.Name, id, err)
		}
	}
	return nil
}

func (l *Loader) insertDetails(ctx context.Context, runID, sourceFile string) error {
	table := l.layout.Children
	keys, err := l.aggregateKeys(ctx, runID)
	if err != nil {
		return err
	}

	var orphans int64
	b := NewBatcher(l.batchSize, l.flushTo(table))
	err = l.scanRaw(ctx, sourceFile, runID, func(line types.RawLogLine) error {
		res := l.extract(line, false)
		if res.Kind != extract.KindDetail || res.Detail.RunID != runID {
			return nil
		}
		if _, ok := keys[res.Detail.RunKey]; !ok {
			orphans++
			l.stats.RecordOrphan()
			return nil
		}
		return b.Add(ctx, detailRow(table, res.Detail))
	})
	if err == nil {
		err = b.Flush(ctx)
	}
	if err != nil {
		return err
	}
	l.logf("run %q: %d of %d detail rows inserted into %s, %d without an aggregate",
		runID, b.Stored(), b.Attempted(), table.Name, orphans)
	return nil
}

type aggregatePayload struct {
	runKey      int64
	sessionID   sql.NullInt64
	model       sql.NullString
	contentHash sql.NullString
	payload     sql.NullString
}

func (l *Loader) insertResponses(ctx context.Context, runID string) error {
	table := l.layout.Children
	query := l.dialect.Rebind(fmt.Sprintf(
		"SELECT run_key, session_id, model, content_hash, payload FROM %s WHERE run_id = ? AND run_key >= ? ORDER BY run_key LIMIT %d",
		l.layout.Aggregates.Name, l.batchSize))

	b := NewBatcher(l.batchSize, l.flushTo(table))
	lower := int64(math.MinInt64)
	for {
		page, err := l.payloadPage(ctx, query, runID, lower)
		if err != nil {
			return err
		}
		for _, p := range page {
			if !p.payload.Valid {
				l.stats.RecordNoPayload()
				continue
			}
			rec := responseRecord(runID, p)
			if err := b.Add(ctx, responseRow(table, rec)); err != nil {
				return err
			}
		}
		if len(page) < l.batchSize {
			break
		}
		last := page[len(page)-1].runKey
		if last == math.MaxInt64 {
			break
		}
		lower = last + 1
	}
	if err := b.Flush(ctx); err != nil {
		return err
	}
	l.logf("run %q: %d of %d responses inserted into %s", runID, b.Stored(), b.Attempted(), table.Name)
	return nil
}

func (l *Loader) payloadPage(ctx context.Context, query, runID string, lower int64) ([]aggregatePayload, error) {
	rows, err := l.q.QueryContext(ctx, query, runID, lower)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page []aggregatePayload
	for rows.Next() {
		var p aggregatePayload
		if err := rows.Scan(&p.runKey, &p.sessionID, &p.model, &p.contentHash, &p.payload); err != nil {
			return nil, err
		}
		page = append(page, p)
	}
	return page, rows.Err()
}

func responseRecord(runID string, p aggregatePayload) *types.ResponseRecord {
	n := payload.Normalize(p.payload.String)
	rec := &types.ResponseRecord{
		RunKey:     p.runKey,
		Identity:   types.Identity{RunID: runID},
		SoapHeader: n.Header,
		SoapBody:   n.Body,
		BodyHash:   n.BodyHash,
		Redacted:   n.Redacted,
	}
	if p.sessionID.Valid {
		rec.SessionID = &p.sessionID.Int64
	}
	if p.model.Valid {
		rec.Model = &p.model.String
	}
	if p.contentHash.Valid {
		rec.ContentHash = &p.contentHash.String
	}
	return rec
}

// aggregateKeys returns the run keys of the aggregates stored for runID.
func (l *Loader) aggregateKeys(ctx context.Context, runID string) (map[int64]struct{}, error) {
	rows, err := l.q.QueryContext(ctx, l.dialect.Rebind(
		fmt.Sprintf("SELECT run_key FROM %s WHERE run_id = ?", l.layout.Aggregates.Name)), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[int64]struct{})
	for rows.Next() {
		var k int64
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys[k] = struct{}{}
	}
	return keys, rows.Err()
}

// scanRaw pages through the raw lines of sourceFile that mention runID in
// row order. Each page is read and closed before fn sees its lines, so fn
// may write through the same connection.
func (l *Loader) scanRaw(ctx context.Context, sourceFile, runID string, fn func(types.RawLogLine) error) error {
	query := l.dialect.Rebind(fmt.Sprintf(
		"SELECT source_row_number, content FROM %s WHERE source_file = ? AND %s AND source_row_number > ? ORDER BY source_row_number LIMIT %d",
		l.layout.Raw.Name, l.dialect.Contains("content"), l.batchSize))
	marker := runlog.RunIDMarker(runID)

	var last int64
	for {
		page, err := l.rawPage(ctx, query, sourceFile, marker, last)
		if err != nil {
			return err
		}
		for _, line := range page {
			if err := fn(line); err != nil {
				return err
			}
		}
		if len(page) < l.batchSize {
			return nil
		}
		last = page[len(page)-1].SourceRowNumber
	}
}

func (l *Loader) rawPage(ctx context.Context, query, sourceFile, marker string, after int64) ([]types.RawLogLine, error) {
	rows, err := l.q.QueryContext(ctx, query, sourceFile, marker, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := make([]types.RawLogLine, 0, l.batchSize)
	for rows.Next() {
		line := types.RawLogLine{SourceFile: sourceFile}
		if err := rows.Scan(&line.SourceRowNumber, &line.Content); err != nil {
			return nil, err
		}
		page = append(page, line)
	}
	return page, rows.Err()
}

// extract runs the engine over a line. Line-level counters are recorded
// only when record is set, so a line read by two passes counts once.
func (l *Loader) extract(line types.RawLogLine, record bool) extract.Result {
	res := l.engine.Extract(line)
	if !record {
		return res
	}
	l.stats.RecordScanned()
	for _, g := range res.Gaps {
		l.stats.RecordGap(string(g.Field), g.Code)
	}
	if res.Kind == extract.KindDropped {
		l.stats.RecordDropped(res.Reason)
	}
	return res
}

func (l *Loader) hasRunID(ctx context.Context, table, runID string) (bool, error) {
	var one int
	err := l.q.QueryRowContext(ctx, l.dialect.Rebind(
		fmt.Sprintf("SELECT 1 FROM %s WHERE run_id = ? LIMIT 1", table)), runID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// flushTo returns a flush that inserts into t, ignoring rows whose primary
// key is already present.
func (l *Loader) flushTo(t warehouse.Table) FlushFunc {
	return func(ctx context.Context, rows [][]any) (int64, error) {
		n, err := l.insertRows(ctx, t, rows, true)
		if err != nil {
			return n, err
		}
		l.stats.RecordInsert(t.Name, int64(len(rows)), n)
		if dup := int64(len(rows)) - n; dup > 0 {
			l.logf("%s: %d duplicate rows ignored", t.Name, dup)
		}
		return n, nil
	}
}

// insertRows writes rows with multi-row INSERT statements sized to the
// dialect's placeholder limit.
func (l *Loader) insertRows(ctx context.Context, t warehouse.Table, rows [][]any, ignoreConflicts bool) (int64, error) {
	cols := t.ColumnNames()
	perStmt := l.dialect.MaxParams() / len(cols)
	if perStmt < 1 {
		perStmt = 1
	}

	var total int64
	for start := 0; start < len(rows); start += perStmt {
		chunk := rows[start:min(start+perStmt, len(rows))]
		args := make([]any, 0, len(chunk)*len(cols))
		for _, r := range chunk {
			args = append(args, r...)
		}
		res, err := l.q.ExecContext(ctx, l.dialect.Rebind(insertSQL(t.Name, cols, len(chunk), ignoreConflicts)), args...)
		if err != nil {
			return total, fmt.Errorf("insert into %s: %w", t.Name, err)
		}
		total += rowsAffected(res, int64(len(chunk)))
	}
	return total, nil
}

func insertSQL(table string, cols []string, nrows int, ignoreConflicts bool) string {
	group := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", table, strings.Join(cols, ", "))
	for i := 0; i < nrows; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(group)
	}
	if ignoreConflicts {
		sb.WriteString(" ON CONFLICT DO NOTHING")
	}
	return sb.String()
}

func rowsAffected(res sql.Result, fallback int64) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return fallback
	}
	return n
}

func (l *Loader) deriveErr(table, runID string, err error) error {
	return arkerrors.NewTransactionError(arkerrors.CodeDeriveFailed,
		fmt.Sprintf("failed to derive %s for run %q", table, runID), err)
}

func (l *Loader) logf(format string, args ...any) {
	if l.execID != "" {
		format = "loader[" + l.execID + "]: " + format
	} else {
		format = "loader: " + format
	}
	log.Printf(format, args...)
}
