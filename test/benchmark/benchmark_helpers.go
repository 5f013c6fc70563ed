package benchmark

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joho/godotenv"

	"github.com/loadtrail/loadtrail/internal/storage"
)

// PrefixedStorage wraps an ObjectStorage and prepends a prefix to all object paths.
type PrefixedStorage struct {
	inner  storage.ObjectStorage
	prefix string
}

func (s *PrefixedStorage) Upload(ctx context.Context, localPath, objectPath string) (string, error) {
	return s.inner.Upload(ctx, localPath, s.prefix+"/"+objectPath)
}

func (s *PrefixedStorage) Open(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	return s.inner.Open(ctx, s.prefix+"/"+objectPath)
}

func (s *PrefixedStorage) Delete(ctx context.Context, objectPath string) error {
	return s.inner.Delete(ctx, s.prefix+"/"+objectPath)
}

func (s *PrefixedStorage) Exists(ctx context.Context, objectPath string) (bool, error) {
	return s.inner.Exists(ctx, s.prefix+"/"+objectPath)
}

func (s *PrefixedStorage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	objects, err := s.inner.ListObjects(ctx, s.prefix+"/"+prefix)
	if err != nil {
		return nil, err
	}
	stripped := make([]string, len(objects))
	for i, obj := range objects {
		stripped[i] = strings.TrimPrefix(obj, s.prefix+"/")
	}
	return stripped, nil
}

// getBenchmarkStorage returns the staging storage for a benchmark.
// LOADTRAIL_STAGING_TYPE=s3 (from .env or the environment) selects S3 under
// "bench/<benchName>/<timestamp>"; anything else uses a temp directory.
func getBenchmarkStorage(b *testing.B, benchName string) (storage.ObjectStorage, func()) {
	_ = godotenv.Load("../../.env")

	if os.Getenv("LOADTRAIL_STAGING_TYPE") == "s3" {
		bucket := os.Getenv("LOADTRAIL_STAGING_S3_BUCKET")
		if bucket == "" {
			b.Fatal("LOADTRAIL_STAGING_S3_BUCKET is required for s3 benchmark")
		}

		cfg := storage.DefaultS3Config()
		if v := os.Getenv("LOADTRAIL_STAGING_S3_REGION"); v != "" {
			cfg.Region = v
		}
		cfg.Endpoint = os.Getenv("LOADTRAIL_STAGING_S3_ENDPOINT")

		st, err := storage.NewS3Storage(context.Background(), bucket, cfg)
		if err != nil {
			b.Fatalf("Failed to initialize S3 storage: %v", err)
		}

		prefix := fmt.Sprintf("bench/%s/%d", benchName, time.Now().UnixNano())
		b.Logf("Running benchmark against S3 Bucket: %s Prefix: %s", bucket, prefix)
		// Staged objects are removed by the pipeline itself.
		return &PrefixedStorage{inner: st, prefix: prefix}, func() {}
	}

	dir, err := os.MkdirTemp("", "loadtrail-bench-"+benchName+"-*")
	if err != nil {
		b.Fatal(err)
	}
	st, err := storage.NewLocalStorage(filepath.Join(dir, "storage"))
	if err != nil {
		b.Fatal(err)
	}
	return st, func() { os.RemoveAll(dir) }
}

// generateQueryLog returns a query-flavor log with one run id, calls
// aggregate lines and rowsPerCall detail lines per call.
func generateQueryLog(runID string, calls, rowsPerCall int) string {
	var sb strings.Builder
	for c := 0; c < calls; c++ {
		fmt.Fprintf(&sb, "2024-06-01 12:%02d:%02d.000 INFO QueryLogger: - sqlLog runId='%s' status='OK' sessionId=%d model='Sales' queryName='Q%d' queryId='q%d' contentHash='c%d' start=%d end=%d duration=%d rows=%d\n",
			(c/60)%60, c%60, runID, c%50, c%20, c, c, c*10, c*10+7, 7, rowsPerCall)
		for r := 1; r <= rowsPerCall; r++ {
			fmt.Fprintf(&sb, "2024-06-01 12:%02d:%02d.001 INFO QueryLogger: - sqlRow runId='%s' sessionId=%d model='Sales' contentHash='c%d' rownumber=%d row=Map(region -> EMEA, total -> %d) rowhash=%08x\n",
				(c/60)%60, c%60, runID, c%50, c, r, r*c, r*c)
		}
	}
	return sb.String()
}

// generateProtocolLog returns a protocol-flavor log with one run id and
// calls envelope-carrying lines, every tenth one redacted.
func generateProtocolLog(runID string, calls int) string {
	var sb strings.Builder
	for c := 0; c < calls; c++ {
		fmt.Fprintf(&sb, "2024-06-01 12:%02d:%02d.000 INFO XmlaLogger: - xmlaCall runId='%s' status='OK' sessionId=%d model='Sales' cube='Orders' catalog='DW' queryName='Execute' contentHash='x%d' start=0 end=9 duration=9 responseSize=512 responseHash='h%d' response=",
			(c/60)%60, c%60, runID, c%50, c, c)
		if c%10 == 9 {
			sb.WriteString("'REDACTED'\n")
			continue
		}
		fmt.Fprintf(&sb, `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Header><Session SessionId="%d"/></soap:Header><soap:Body><ExecuteResponse><LastDataUpdate>4530%d.5</LastDataUpdate><Cell>%d</Cell></ExecuteResponse></soap:Body></soap:Envelope>`+"\n",
			c, c%10, c%7)
	}
	return sb.String()
}

func writeBenchmarkLog(b *testing.B, name, content string) string {
	b.Helper()
	path := filepath.Join(b.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		b.Fatal(err)
	}
	return path
}
