// Package pipeline sequences one archive execution: provision the warehouse,
// stage the log file, then delete, load and derive inside one transaction,
// and finally remove the staged artifact whatever the outcome.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	arkerrors "github.com/loadtrail/loadtrail/internal/errors"
	"github.com/loadtrail/loadtrail/internal/extract"
	"github.com/loadtrail/loadtrail/internal/loader"
	"github.com/loadtrail/loadtrail/internal/observability"
	"github.com/loadtrail/loadtrail/internal/runlog"
	"github.com/loadtrail/loadtrail/internal/staging"
	"github.com/loadtrail/loadtrail/internal/warehouse"
	"github.com/loadtrail/loadtrail/pkg/types"
)

// State is a step of the archive state machine.
type State string

const (
	StateProvisionSchema  State = "ProvisionSchema"
	StateUpload           State = "Upload"
	StateDeletePrior      State = "DeletePriorForRunIds"
	StateBulkLoadRaw      State = "BulkLoadRaw"
	StateDeriveAggregates State = "DeriveAndInsertAggregates"
	StateDeriveChildren   State = "DeriveAndInsertDetails"
	StateCommit           State = "Commit"
	StateFail             State = "Fail"
	StateRollback         State = "Rollback"
	StateCleanupStaged    State = "CleanupStagedArtifact"
)

const defaultCleanupTimeout = 30 * time.Second

// StepHook is called before each state is entered. A non-nil error fails the
// execution as if the step itself had failed. Hook errors on the Fail,
// Rollback and CleanupStagedArtifact states are logged and ignored.
type StepHook func(ctx context.Context, state State) error

// Config is the per-flavor configuration injected into a pipeline.
type Config struct {
	Flavor types.Flavor

	// StorageType and Location describe the staging area in the stage
	// descriptor (e.g., "local" and a directory, or "s3" and a bucket URL)
	StorageType string
	Location    string

	BatchSize int
	Hook      StepHook

	// CleanupTimeout bounds artifact removal, which runs on a context
	// detached from the caller's cancellation
	CleanupTimeout time.Duration
}

// Result describes one execution.
type Result struct {
	ExecutionID string
	DataFile    string
	Artifact    staging.Artifact
	RunIDs      []string
	States      []State
	Committed   bool
	Cleaned     bool
	Stats       observability.Summary
}

// Pipeline archives log files of one flavor into a warehouse. Archive may be
// called concurrently; each call uses its own connection and transaction.
type Pipeline struct {
	wh       *warehouse.Warehouse
	transfer *staging.Transfer
	layout   warehouse.Layout
	engine   *extract.Engine
	cfg      Config
}

// New creates a pipeline.
func New(wh *warehouse.Warehouse, transfer *staging.Transfer, cfg Config) (*Pipeline, error) {
	layout, err := warehouse.LayoutFor(cfg.Flavor)
	if err != nil {
		return nil, arkerrors.NewUsageError(arkerrors.CodeInvalidConfig, fmt.Sprintf("flavor %q: %v", cfg.Flavor, err))
	}
	engine, err := extract.New(cfg.Flavor)
	if err != nil {
		return nil, arkerrors.NewUsageError(arkerrors.CodeInvalidConfig, fmt.Sprintf("flavor %q: %v", cfg.Flavor, err))
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = loader.DefaultBatchSize
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = defaultCleanupTimeout
	}
	return &Pipeline{wh: wh, transfer: transfer, layout: layout, engine: engine, cfg: cfg}, nil
}

// Layout returns the destination layout the pipeline writes.
func (p *Pipeline) Layout() warehouse.Layout {
	return p.layout
}

// execution carries the state of one Archive call.
type execution struct {
	p     *Pipeline
	id    string
	res   *Result
	stats *observability.ArchiveStats
}

func (e *execution) logf(format string, args ...any) {
	log.Printf("pipeline["+e.id+"]: "+format, args...)
}

// enter records a state transition and runs the hook for it.
func (e *execution) enter(ctx context.Context, s State) error {
	e.res.States = append(e.res.States, s)
	e.logf("%s", s)
	if e.p.cfg.Hook == nil {
		return nil
	}
	return e.p.cfg.Hook(ctx, s)
}

// enterQuiet is enter for states whose hook failures must not change the
// outcome.
func (e *execution) enterQuiet(ctx context.Context, s State) {
	if err := e.enter(ctx, s); err != nil {
		e.logf("hook for %s failed: %v", s, err)
	}
}

// Archive runs the full state machine for one local log file. The returned
// Result is populated as far as the execution got, also on error.
func (p *Pipeline) Archive(ctx context.Context, dataFile string) (*Result, error) {
	e := &execution{
		p:     p,
		id:    uuid.NewString(),
		res:   &Result{DataFile: dataFile},
		stats: observability.NewArchiveStats(),
	}
	e.res.ExecutionID = e.id
	defer func() { e.res.Stats = e.stats.Snapshot() }()

	runIDs, err := runlog.ExtractRunIDs(dataFile)
	if err != nil {
		return e.res, arkerrors.NewIOError(fmt.Sprintf("failed to read run ids from %s", dataFile), err)
	}
	e.res.RunIDs = runIDs
	if len(runIDs) == 0 {
		e.logf("no run ids in %s, raw lines will be loaded without derived rows", dataFile)
	} else {
		e.logf("archiving %s (%s) with %d run ids", dataFile, p.cfg.Flavor, len(runIDs))
	}

	conn, err := p.wh.Conn(ctx)
	if err != nil {
		return e.res, err
	}
	defer conn.Close()

	format, err := e.provision(ctx, conn)
	if err != nil {
		return e.res, err
	}

	e.res.Artifact = p.transfer.Plan(dataFile)
	defer e.cleanup(ctx)

	if err := e.enter(ctx, StateUpload); err != nil {
		return e.res, arkerrors.NewStagingError(arkerrors.CodeUploadFailed, "upload aborted", err)
	}
	art, err := p.transfer.Upload(ctx, dataFile)
	e.res.Artifact = art
	if err != nil {
		return e.res, err
	}

	if err := e.load(ctx, conn, format); err != nil {
		return e.res, err
	}
	e.logf("archived %s: %s", dataFile, e.stats.Snapshot())
	return e.res, nil
}

func (e *execution) provision(ctx context.Context, conn *sql.Conn) (warehouse.FileFormatDescriptor, error) {
	p := e.p
	if err := e.enter(ctx, StateProvisionSchema); err != nil {
		return warehouse.FileFormatDescriptor{}, arkerrors.NewSchemaError("provisioning aborted", err)
	}

	codec := p.transfer.Codec()
	stage := warehouse.StageDescriptor{
		Name:        p.layout.Stage,
		StorageType: p.cfg.StorageType,
		Location:    p.cfg.Location,
	}
	format := warehouse.FileFormatDescriptor{
		Name:          p.layout.FileFormat,
		Codec:         codec.Name(),
		Extension:     codec.Extension(),
		LineDelimiter: "\n",
	}
	if err := warehouse.NewProvisioner(p.wh.Dialect()).Provision(ctx, conn, p.layout, stage, format); err != nil {
		return warehouse.FileFormatDescriptor{}, err
	}

	stored, err := warehouse.LookupFileFormat(ctx, conn, p.wh.Dialect(), p.layout.FileFormat)
	if err != nil {
		return warehouse.FileFormatDescriptor{}, arkerrors.NewSchemaError("failed to read file format descriptor", err)
	}
	return stored, nil
}

// load runs every DML step inside one transaction.
func (e *execution) load(ctx context.Context, conn *sql.Conn, format warehouse.FileFormatDescriptor) (err error) {
	p := e.p
	runIDs := e.res.RunIDs
	sourceFile := e.res.Artifact.Name

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return arkerrors.NewTransactionError(arkerrors.CodeBeginFailed, "failed to begin load transaction", err)
	}
	commitFailed := false
	defer func() {
		if !e.res.Committed {
			err = e.abort(ctx, tx, commitFailed, err)
		}
	}()

	l, err := loader.New(tx, p.wh.Dialect(), p.layout, p.engine,
		loader.WithBatchSize(p.cfg.BatchSize),
		loader.WithStats(e.stats),
		loader.WithExecutionID(e.id))
	if err != nil {
		return err
	}

	steps := []struct {
		state State
		run   func() error
	}{
		{StateDeletePrior, func() error {
			_, err := l.DeletePrior(ctx, runIDs, sourceFile)
			return err
		}},
		{StateBulkLoadRaw, func() error {
			r, err := p.transfer.Open(ctx, e.res.Artifact.ObjectPath, format.Codec)
			if err != nil {
				return err
			}
			defer r.Close()
			_, err = l.BulkLoadRaw(ctx, r, sourceFile)
			return err
		}},
		{StateDeriveAggregates, func() error { return l.InsertAggregates(ctx, runIDs, sourceFile) }},
		{StateDeriveChildren, func() error { return l.InsertChildren(ctx, runIDs, sourceFile) }},
	}
	for _, step := range steps {
		if err := e.enter(ctx, step.state); err != nil {
			return err
		}
		if err := step.run(); err != nil {
			return err
		}
	}

	if err := e.enter(ctx, StateCommit); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		commitFailed = true
		return arkerrors.NewTransactionError(arkerrors.CodeCommitFailed, "failed to commit load transaction", err)
	}
	e.res.Committed = true
	return nil
}

type rollbacker interface {
	Rollback() error
}

// abort ends a failed load transaction. A failed commit leaves the outcome
// to the driver, so its error is returned unchanged.
func (e *execution) abort(ctx context.Context, tx rollbacker, commitFailed bool, cause error) error {
	e.enterQuiet(ctx, StateFail)
	e.logf("failed: %v", cause)
	if commitFailed {
		return cause
	}
	e.enterQuiet(ctx, StateRollback)
	if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
		e.logf("rollback failed: %v", rbErr)
	}
	return arkerrors.NewTransactionError(arkerrors.CodeRolledBack,
		fmt.Sprintf("archive of %s rolled back", e.res.DataFile), cause)
}

// cleanup removes the staged artifact on a context that survives the
// caller's cancellation.
func (e *execution) cleanup(parent context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), e.p.cfg.CleanupTimeout)
	defer cancel()

	e.enterQuiet(ctx, StateCleanupStaged)
	e.res.Cleaned = e.p.transfer.Cleanup(ctx, e.res.Artifact.ObjectPath)
}
