// Package benchmark provides performance benchmarks for the archive pipeline.
package benchmark

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loadtrail/loadtrail/internal/extract"
	"github.com/loadtrail/loadtrail/internal/payload"
	"github.com/loadtrail/loadtrail/internal/pipeline"
	"github.com/loadtrail/loadtrail/internal/runkey"
	"github.com/loadtrail/loadtrail/internal/runlog"
	"github.com/loadtrail/loadtrail/internal/staging"
	"github.com/loadtrail/loadtrail/internal/warehouse"
	"github.com/loadtrail/loadtrail/pkg/types"
)

func newBenchmarkPipeline(b *testing.B, name string, flavor types.Flavor, codec staging.Codec) *pipeline.Pipeline {
	b.Helper()
	store, cleanup := getBenchmarkStorage(b, name)
	b.Cleanup(cleanup)

	wh, err := warehouse.Open(context.Background(), warehouse.Options{
		Driver: warehouse.DialectSQLite,
		DSN:    warehouse.SQLiteDSN(filepath.Join(b.TempDir(), "warehouse.db")),
	})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { wh.Close() })

	transfer := staging.NewTransfer(store, codec, "runs", staging.WithTempDir(b.TempDir()))
	p, err := pipeline.New(wh, transfer, pipeline.Config{
		Flavor:      flavor,
		StorageType: "bench",
		Location:    name,
	})
	if err != nil {
		b.Fatal(err)
	}
	return p
}

// BenchmarkArchiveQuery measures end-to-end archival of query logs. Every
// iteration after the first replaces the previous archive of the run.
func BenchmarkArchiveQuery(b *testing.B) {
	for _, calls := range []int{100, 1000, 5000} {
		b.Run(fmt.Sprintf("calls=%d", calls), func(b *testing.B) {
			content := generateQueryLog("bench | 100 users | 2024-06-01", calls, 5)
			file := writeBenchmarkLog(b, "query_run.log", content)
			p := newBenchmarkPipeline(b, "query", types.FlavorQuery, staging.DefaultCodec)
			lines := strings.Count(content, "\n")
			ctx := context.Background()

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if _, err := p.Archive(ctx, file); err != nil {
					b.Fatal(err)
				}
			}

			b.ReportMetric(float64(lines*b.N)/b.Elapsed().Seconds(), "lines/sec")
		})
	}
}

// BenchmarkArchiveProtocol measures end-to-end archival of protocol logs
// with each staging codec.
func BenchmarkArchiveProtocol(b *testing.B) {
	for _, name := range []string{staging.CodecGzip, staging.CodecSnappy, staging.CodecZstd} {
		b.Run(name, func(b *testing.B) {
			codec, err := staging.CodecByName(name)
			if err != nil {
				b.Fatal(err)
			}
			content := generateProtocolLog("bench-xmla", 1000)
			file := writeBenchmarkLog(b, "xmla_run.log", content)
			p := newBenchmarkPipeline(b, "protocol-"+name, types.FlavorProtocol, codec)
			ctx := context.Background()

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if _, err := p.Archive(ctx, file); err != nil {
					b.Fatal(err)
				}
			}

			b.SetBytes(int64(len(content)))
		})
	}
}

// BenchmarkExtract measures per-line field extraction.
func BenchmarkExtract(b *testing.B) {
	engine, err := extract.New(types.FlavorQuery)
	if err != nil {
		b.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(generateQueryLog("bench", 10, 3)), "\n")

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		engine.Extract(types.RawLogLine{
			Content:         lines[i%len(lines)],
			SourceFile:      "query_run.log.gz",
			SourceRowNumber: int64(i%len(lines) + 1),
		})
	}

	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "lines/sec")
}

// BenchmarkRunKey measures run key computation.
func BenchmarkRunKey(b *testing.B) {
	session := int64(42)
	model := "Sales"
	hash := "9f86d081884c7d65"
	id := types.Identity{RunID: "bench | 100 users | 2024-06-01", SessionID: &session, Model: &model, ContentHash: &hash}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		runkey.Compute(id)
	}
}

// BenchmarkNormalizePayload measures envelope splitting and body hashing.
func BenchmarkNormalizePayload(b *testing.B) {
	content := generateProtocolLog("bench", 1)
	envelope := content[strings.Index(content, "<soap:Envelope"):]

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		payload.Normalize(envelope)
	}

	b.SetBytes(int64(len(envelope)))
}

// BenchmarkExtractRunIDs measures the pre-scan that finds a file's run ids.
func BenchmarkExtractRunIDs(b *testing.B) {
	var sb strings.Builder
	for r := 0; r < 10; r++ {
		sb.WriteString(generateQueryLog(fmt.Sprintf("run-%d", r), 200, 2))
	}
	content := sb.String()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		ids, err := runlog.ExtractRunIDsFrom(strings.NewReader(content))
		if err != nil {
			b.Fatal(err)
		}
		if len(ids) != 10 {
			b.Fatalf("expected 10 run ids, got %d", len(ids))
		}
	}

	b.SetBytes(int64(len(content)))
}
