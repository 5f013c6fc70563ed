package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	arkerrors "github.com/loadtrail/loadtrail/internal/errors"
)

// StageDescriptor records where a flavor's files are staged.
type StageDescriptor struct {
	Name        string
	StorageType string
	Location    string
}

// FileFormatDescriptor records how staged files are encoded.
type FileFormatDescriptor struct {
	Name          string
	Codec         string
	Extension     string
	LineDelimiter string
}

// Provisioner creates destination objects if they do not exist.
type Provisioner struct {
	dialect Dialect
}

// NewProvisioner creates a provisioner for a dialect.
func NewProvisioner(d Dialect) *Provisioner {
	return &Provisioner{dialect: d}
}

// Statements returns the DDL for a layout in execution order.
func (p *Provisioner) Statements(l Layout) []string {
	var stmts []string
	for _, t := range []Table{StagesTable, FileFormatsTable, l.Raw, l.Aggregates, l.Children} {
		stmts = append(stmts, t.CreateSQL(p.dialect))
		stmts = append(stmts, t.IndexSQL()...)
	}
	return append(stmts, l.ViewSQL(p.dialect))
}

// Provision creates every object of the layout and records the stage and
// file format descriptors, in a transaction of its own that is committed
// before returning. Calling it repeatedly is safe.
func (p *Provisioner) Provision(ctx context.Context, conn *sql.Conn, l Layout, stage StageDescriptor, format FileFormatDescriptor) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return arkerrors.NewSchemaError("failed to begin provisioning transaction", err)
	}
	defer tx.Rollback()

	for _, stmt := range p.Statements(l) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return arkerrors.NewSchemaError(fmt.Sprintf("failed to provision %s objects", l.Flavor), err).
				WithDetails(map[string]interface{}{"statement": stmt})
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, p.dialect.Rebind(upsertStageSQL),
		stage.Name, stage.StorageType, stage.Location, now); err != nil {
		return arkerrors.NewSchemaError("failed to record stage descriptor", err)
	}
	if _, err := tx.ExecContext(ctx, p.dialect.Rebind(upsertFileFormatSQL),
		format.Name, format.Codec, format.Extension, format.LineDelimiter, now); err != nil {
		return arkerrors.NewSchemaError("failed to record file format descriptor", err)
	}

	if err := tx.Commit(); err != nil {
		return arkerrors.NewSchemaError("failed to commit provisioning", err)
	}

	log.Printf("warehouse: provisioned %s layout (%s, %s, %s, %s)",
		l.Flavor, l.Raw.Name, l.Aggregates.Name, l.Children.Name, l.View)
	return nil
}

const upsertStageSQL = `
INSERT INTO archive_stages (name, storage_type, location, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (name) DO UPDATE SET
    storage_type = excluded.storage_type,
    location = excluded.location,
    updated_at = excluded.updated_at`

const upsertFileFormatSQL = `
INSERT INTO archive_file_formats (name, codec, extension, line_delimiter, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (name) DO UPDATE SET
    codec = excluded.codec,
    extension = excluded.extension,
    line_delimiter = excluded.line_delimiter,
    updated_at = excluded.updated_at`

// LookupFileFormat reads a file format descriptor.
func LookupFileFormat(ctx context.Context, q Querier, d Dialect, name string) (FileFormatDescriptor, error) {
	f := FileFormatDescriptor{Name: name}
	err := q.QueryRowContext(ctx,
		d.Rebind(`SELECT codec, extension, line_delimiter FROM archive_file_formats WHERE name = ?`), name).
		Scan(&f.Codec, &f.Extension, &f.LineDelimiter)
	if err != nil {
		return f, fmt.Errorf("file format %s: %w", name, err)
	}
	return f, nil
}

// LookupStage reads a stage descriptor.
func LookupStage(ctx context.Context, q Querier, d Dialect, name string) (StageDescriptor, error) {
	s := StageDescriptor{Name: name}
	err := q.QueryRowContext(ctx,
		d.Rebind(`SELECT storage_type, location FROM archive_stages WHERE name = ?`), name).
		Scan(&s.StorageType, &s.Location)
	if err != nil {
		return s, fmt.Errorf("stage %s: %w", name, err)
	}
	return s, nil
}
