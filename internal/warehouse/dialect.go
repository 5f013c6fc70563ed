package warehouse

import (
	"fmt"
	"strconv"
	"strings"
)

// ColumnType is a portable column type.
type ColumnType int

const (
	TypeText ColumnType = iota
	TypeInt
	TypeTime
	TypeBool
)

// Dialect hides the SQL differences between supported warehouses.
type Dialect interface {
	// Name is the configuration name of the dialect.
	Name() string

	// DriverName is the database/sql driver the dialect uses.
	DriverName() string

	// Rebind rewrites '?' placeholders into the driver's placeholder style.
	Rebind(query string) string

	// ColumnType returns the DDL type for a portable column type.
	ColumnType(t ColumnType) string

	// CreateView returns a statement that creates the view if it is absent.
	CreateView(name, selectSQL string) string

	// Contains returns a predicate true when column contains the bound value.
	Contains(column string) string

	// MaxParams bounds the placeholders in one statement.
	MaxParams() int
}

// Supported dialect names.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// DialectByName returns the dialect for a configured driver name.
func DialectByName(name string) (Dialect, error) {
	switch name {
	case "", DialectSQLite, "sqlite3":
		return sqliteDialect{}, nil
	case DialectPostgres, "pgx", "postgresql":
		return postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported warehouse driver %q", name)
	}
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string               { return DialectSQLite }
func (sqliteDialect) DriverName() string         { return "sqlite3" }
func (sqliteDialect) Rebind(query string) string { return query }
func (sqliteDialect) MaxParams() int             { return 30000 }

func (sqliteDialect) ColumnType(t ColumnType) string {
	switch t {
	case TypeInt:
		return "INTEGER"
	case TypeTime:
		return "TIMESTAMP"
	case TypeBool:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func (sqliteDialect) CreateView(name, selectSQL string) string {
	return "CREATE VIEW IF NOT EXISTS " + name + " AS\n" + selectSQL
}

func (sqliteDialect) Contains(column string) string {
	return "instr(" + column + ", ?) > 0"
}

type postgresDialect struct{}

func (postgresDialect) Name() string       { return DialectPostgres }
func (postgresDialect) DriverName() string { return "pgx" }
func (postgresDialect) MaxParams() int     { return 60000 }

func (postgresDialect) Rebind(query string) string {
	return rebindDollar(query)
}

func (postgresDialect) ColumnType(t ColumnType) string {
	switch t {
	case TypeInt:
		return "BIGINT"
	case TypeTime:
		return "TIMESTAMPTZ"
	case TypeBool:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func (postgresDialect) CreateView(name, selectSQL string) string {
	return "CREATE OR REPLACE VIEW " + name + " AS\n" + selectSQL
}

func (postgresDialect) Contains(column string) string {
	return "strpos(" + column + ", ?) > 0"
}

// rebindDollar numbers '?' placeholders as $1, $2, ... outside quoted text.
func rebindDollar(query string) string {
	var sb strings.Builder
	sb.Grow(len(query) + 16)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			sb.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
