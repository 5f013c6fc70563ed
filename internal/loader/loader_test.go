package loader

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	arkerrors "github.com/loadtrail/loadtrail/internal/errors"
	"github.com/loadtrail/loadtrail/internal/extract"
	"github.com/loadtrail/loadtrail/internal/observability"
	"github.com/loadtrail/loadtrail/internal/payload"
	"github.com/loadtrail/loadtrail/internal/warehouse"
	"github.com/loadtrail/loadtrail/pkg/types"
)

type fixture struct {
	w      *warehouse.Warehouse
	layout warehouse.Layout
	engine *extract.Engine
	stats  *observability.ArchiveStats
}

func newFixture(t *testing.T, flavor types.Flavor) *fixture {
	t.Helper()
	ctx := context.Background()

	w, err := warehouse.Open(ctx, warehouse.Options{
		Driver: warehouse.DialectSQLite,
		DSN:    warehouse.SQLiteDSN(filepath.Join(t.TempDir(), "warehouse.db")),
	})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	layout, err := warehouse.LayoutFor(flavor)
	require.NoError(t, err)
	conn, err := w.Conn(ctx)
	require.NoError(t, err)
	require.NoError(t, warehouse.NewProvisioner(w.Dialect()).Provision(ctx, conn, layout,
		warehouse.StageDescriptor{Name: layout.Stage, StorageType: "local", Location: t.TempDir()},
		warehouse.FileFormatDescriptor{Name: layout.FileFormat, Codec: "gzip", Extension: "gz", LineDelimiter: "\n"}))
	require.NoError(t, conn.Close())

	engine, err := extract.New(flavor)
	require.NoError(t, err)
	return &fixture{w: w, layout: layout, engine: engine, stats: observability.NewArchiveStats()}
}

// inTx runs fn with a loader bound to a transaction and commits it.
func (f *fixture) inTx(t *testing.T, batchSize int, fn func(l *Loader)) {
	t.Helper()
	tx, err := f.w.DB().BeginTx(context.Background(), nil)
	require.NoError(t, err)
	defer tx.Rollback()

	l, err := New(tx, f.w.Dialect(), f.layout, f.engine,
		WithBatchSize(batchSize), WithStats(f.stats), WithExecutionID("test"))
	require.NoError(t, err)
	require.Same(t, f.stats, l.Stats())
	fn(l)
	require.NoError(t, tx.Commit())
}

func (f *fixture) count(t *testing.T, table, where string, args ...any) int {
	t.Helper()
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	require.NoError(t, f.w.DB().QueryRow(query, args...).Scan(&n))
	return n
}

func (f *fixture) archive(t *testing.T, batchSize int, runIDs []string, sourceFile string, lines ...string) {
	t.Helper()
	ctx := context.Background()
	f.inTx(t, batchSize, func(l *Loader) {
		_, err := l.DeletePrior(ctx, runIDs, sourceFile)
		require.NoError(t, err)
		_, err = l.BulkLoadRaw(ctx, strings.NewReader(strings.Join(lines, "\n")+"\n"), sourceFile)
		require.NoError(t, err)
		require.NoError(t, l.InsertAggregates(ctx, runIDs, sourceFile))
		require.NoError(t, l.InsertChildren(ctx, runIDs, sourceFile))
	})
}

const (
	aggR1    = "2024-03-01 10:00:00.000 INFO QueryLogger: - sqlLog runId='load | 25 users | 2024-03-01' sessionId=7 model='M' queryName='Q1' contentHash='h1' start=0 end=40 duration=40 rows=2"
	detR1a   = "2024-03-01 10:00:00.010 INFO QueryLogger: - sqlRow runId='load | 25 users | 2024-03-01' sessionId=7 model='M' contentHash='h1' rownumber=1 row=Map(a -> 1) rowhash=aa01"
	detR1b   = "2024-03-01 10:00:00.020 INFO QueryLogger: - sqlRow runId='load | 25 users | 2024-03-01' sessionId=7 model='M' contentHash='h1' rownumber=2 row=Map(a -> 2) rowhash=aa02"
	detOrph  = "2024-03-01 10:00:00.030 INFO QueryLogger: - sqlRow runId='load | 25 users | 2024-03-01' sessionId=99 model='M' contentHash='h1' rownumber=1 row=Map(a -> 3) rowhash=aa03"
	aggR2    = "2024-03-01 10:00:01.000 INFO QueryLogger: - sqlLog runId='other' sessionId=1 model='M' queryName='Q2' start=5 end=6 duration=1 rows=0"
	noise    = "2024-03-01 10:00:02.000 DEBUG Pool: connection acquired"
	runR1    = "load | 25 users | 2024-03-01"
	runOther = "other"
)

func TestNew_FlavorMismatch(t *testing.T) {
	engine, err := extract.New(types.FlavorProtocol)
	require.NoError(t, err)
	d, err := warehouse.DialectByName(warehouse.DialectSQLite)
	require.NoError(t, err)
	_, err = New(nil, d, warehouse.QueryLayout, engine)
	assert.Error(t, err)
}

func TestBulkLoadRaw(t *testing.T) {
	f := newFixture(t, types.FlavorQuery)
	ctx := context.Background()

	f.inTx(t, 2, func(l *Loader) {
		n, err := l.BulkLoadRaw(ctx, strings.NewReader("one\r\ntwo\nthree\nfour\nfive"), "a.log.gz")
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
	})

	assert.Equal(t, 5, f.count(t, "query_raw_logs", "source_file = ?", "a.log.gz"))
	var content string
	require.NoError(t, f.w.DB().QueryRow(
		"SELECT content FROM query_raw_logs WHERE source_row_number = 1").Scan(&content))
	assert.Equal(t, "one", content)
	assert.Equal(t, int64(5), f.stats.Snapshot().RawLoaded)
}

func TestBulkLoadRaw_FailureIsBulkLoadError(t *testing.T) {
	f := newFixture(t, types.FlavorQuery)
	ctx := context.Background()

	tx, err := f.w.DB().BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	l, err := New(tx, f.w.Dialect(), f.layout, f.engine)
	require.NoError(t, err)

	_, err = l.BulkLoadRaw(ctx, strings.NewReader("a\nb\n"), "a.log.gz")
	require.NoError(t, err)

	// Same file and row numbers collide on the raw primary key.
	_, err = l.BulkLoadRaw(ctx, strings.NewReader("a\nb\n"), "a.log.gz")
	require.Error(t, err)
	assert.Equal(t, arkerrors.ErrCategoryBulkLoad, arkerrors.GetCategory(err))
}

func TestDeletePrior(t *testing.T) {
	f := newFixture(t, types.FlavorQuery)
	ctx := context.Background()

	f.inTx(t, DefaultBatchSize, func(l *Loader) {
		_, err := l.BulkLoadRaw(ctx, strings.NewReader(strings.Join([]string{aggR1, aggR2, noise}, "\n")), "first.log.gz")
		require.NoError(t, err)
		_, err = l.BulkLoadRaw(ctx, strings.NewReader(noise+"\n"+noise), "second.log.gz")
		require.NoError(t, err)
	})

	f.inTx(t, 1, func(l *Loader) {
		n, err := l.DeletePrior(ctx, []string{runR1}, "second.log.gz")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	assert.Equal(t, 2, f.count(t, "query_raw_logs", ""))
	assert.Equal(t, 0, f.count(t, "query_raw_logs", "source_file = ?", "second.log.gz"))
	assert.Equal(t, int64(3), f.stats.Snapshot().RawDeleted)
}

func TestQueryDerivation(t *testing.T) {
	f := newFixture(t, types.FlavorQuery)
	f.archive(t, DefaultBatchSize, []string{runR1, runOther}, "run.log.gz",
		aggR1, detR1a, detR1b, detOrph, aggR2, noise)

	assert.Equal(t, 2, f.count(t, "query_aggregates", ""))
	assert.Equal(t, 2, f.count(t, "query_details", "run_id = ?", runR1))
	assert.Equal(t, 0, f.count(t, "query_details", "run_id = ?", runOther))
	assert.Equal(t, 3, f.count(t, "v_query_joined", ""))

	var (
		testName string
		users    int64
		runTime  string
		result   int64
	)
	require.NoError(t, f.w.DB().QueryRow(
		`SELECT test_name, concurrent_users, test_run_time, result_count FROM query_aggregates WHERE run_id = ?`,
		runR1).Scan(&testName, &users, &runTime, &result))
	assert.Equal(t, "load", testName)
	assert.Equal(t, int64(25), users)
	assert.Equal(t, "2024-03-01", runTime)
	assert.Equal(t, int64(2), result)

	var rowMap, rowHash string
	require.NoError(t, f.w.DB().QueryRow(
		`SELECT row_map_raw, row_hash FROM v_query_joined WHERE row_number = 2`).Scan(&rowMap, &rowHash))
	assert.Equal(t, "a -> 2", rowMap)
	assert.Equal(t, "aa02", rowHash)

	s := f.stats.Snapshot()
	assert.Equal(t, int64(1), s.Orphans)
	assert.Equal(t, int64(5), s.Scanned)
	assert.Equal(t, int64(0), s.Dropped)
}

func TestQueryDerivation_SkipsArchivedRunIDs(t *testing.T) {
	f := newFixture(t, types.FlavorQuery)
	f.archive(t, DefaultBatchSize, []string{runR1}, "run.log.gz", aggR1, detR1a)
	f.archive(t, DefaultBatchSize, []string{runR1}, "run.log.gz", aggR1, detR1a, detR1b)

	assert.Equal(t, 1, f.count(t, "query_aggregates", ""))
	assert.Equal(t, 1, f.count(t, "query_details", ""))
	assert.Equal(t, 3, f.count(t, "query_raw_logs", ""))
	assert.Equal(t, []string{runR1}, f.stats.SkippedRunIDs("query_aggregates"))
	assert.Equal(t, []string{runR1}, f.stats.SkippedRunIDs("query_details"))
}

func TestQueryDerivation_DuplicateLinesIgnored(t *testing.T) {
	f := newFixture(t, types.FlavorQuery)
	f.archive(t, DefaultBatchSize, []string{runR1}, "run.log.gz", aggR1, aggR1, detR1a, detR1a)

	assert.Equal(t, 1, f.count(t, "query_aggregates", ""))
	assert.Equal(t, 1, f.count(t, "query_details", ""))

	ts := f.stats.Table("query_aggregates")
	assert.Equal(t, int64(2), ts.Attempted)
	assert.Equal(t, int64(1), ts.Inserted)
	assert.Equal(t, int64(1), ts.Duplicates)
}

func TestQueryDerivation_Paging(t *testing.T) {
	f := newFixture(t, types.FlavorQuery)

	var lines []string
	for i := 1; i <= 7; i++ {
		lines = append(lines,
			fmt.Sprintf("runId='paged' sessionId=%d model='M' queryName='Q' contentHash='c' rows=1", i),
			fmt.Sprintf("runId='paged' sessionId=%d model='M' contentHash='c' rownumber=1 row=Map(n -> %d)", i, i),
			noise)
	}
	f.archive(t, 2, []string{"paged"}, "paged.log.gz", lines...)

	assert.Equal(t, 7, f.count(t, "query_aggregates", ""))
	assert.Equal(t, 7, f.count(t, "query_details", ""))
	assert.Equal(t, 21, f.count(t, "query_raw_logs", ""))
}

func envelopeLine(session int, body string) string {
	return fmt.Sprintf("2024-03-01 10:00:00.000 INFO ProtocolLogger: - xmlaCall runId='proto' sessionId=%d model='M' "+
		"cube='Sales' catalog='Cat' queryName='Discover' contentHash='c%d' start=1 end=3 duration=2 responseSize=10 response="+
		`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Header><Session id="1"/></soap:Header>`+
		`<soap:Body>%s<LastDataUpdate>2024-03-0%d</LastDataUpdate></soap:Body></soap:Envelope>`, session, session, body, session)
}

func TestProtocolDerivation(t *testing.T) {
	f := newFixture(t, types.FlavorProtocol)
	f.archive(t, DefaultBatchSize, []string{"proto"}, "proto.log.gz",
		envelopeLine(1, "<rows>1</rows>"),
		envelopeLine(2, "<rows>1</rows>"),
		"runId='proto' sessionId=3 model='M' queryName='Execute' response='REDACTED'",
		"runId='proto' sessionId=4 model='M' queryName='Execute' responseSize=0",
		noise)

	assert.Equal(t, 4, f.count(t, "protocol_aggregates", ""))
	assert.Equal(t, 3, f.count(t, "protocol_responses", ""))
	assert.Equal(t, 1, f.count(t, "protocol_responses", "redacted"))
	assert.Equal(t, 4, f.count(t, "v_protocol_joined", ""))

	// Bodies differing only in the refresh timestamp hash the same.
	var distinct int
	require.NoError(t, f.w.DB().QueryRow(
		`SELECT COUNT(DISTINCT body_hash) FROM protocol_responses WHERE NOT redacted`).Scan(&distinct))
	assert.Equal(t, 1, distinct)

	var header, body sql.NullString
	require.NoError(t, f.w.DB().QueryRow(
		`SELECT soap_header, soap_body FROM protocol_responses WHERE session_id = 1`).Scan(&header, &body))
	assert.Contains(t, header.String, "Session")
	assert.Contains(t, body.String, payload.VolatilePlaceholder)

	var cube string
	require.NoError(t, f.w.DB().QueryRow(
		`SELECT cube FROM v_protocol_joined WHERE session_id = 2`).Scan(&cube))
	assert.Equal(t, "Sales", cube)

	assert.Equal(t, int64(1), f.stats.Snapshot().NoPayload)
}

func TestProtocolDerivation_Paging(t *testing.T) {
	f := newFixture(t, types.FlavorProtocol)

	var lines []string
	for i := 1; i <= 5; i++ {
		lines = append(lines, envelopeLine(i, fmt.Sprintf("<n>%d</n>", i)))
	}
	f.archive(t, 2, []string{"proto"}, "proto.log.gz", lines...)

	assert.Equal(t, 5, f.count(t, "protocol_aggregates", ""))
	assert.Equal(t, 5, f.count(t, "protocol_responses", ""))
}

func TestInsertSQL(t *testing.T) {
	got := insertSQL("t", []string{"a", "b"}, 2, true)
	assert.Equal(t, "INSERT INTO t (a, b) VALUES (?, ?), (?, ?) ON CONFLICT DO NOTHING", got)

	got = insertSQL("t", []string{"a"}, 1, false)
	assert.Equal(t, "INSERT INTO t (a) VALUES (?)", got)
}
