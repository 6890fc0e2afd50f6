package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"talk-archive/pkg/domain"
)

const pgUniqueViolation = "23505"

// Dialect hides the SQL differences between the Postgres family and SQLite.
type Dialect interface {
	Name() string
	// Builder returns a squirrel builder using the dialect's placeholders.
	Builder() sq.StatementBuilderType
	// StringArray converts a list for writing into a text-array column.
	StringArray(v []string) any
	// ScanStringArray returns a scan target that fills dst from a text-array column.
	ScanStringArray(dst *[]string) any
	// Vector converts an embedding for writing into the vector column. nil writes NULL.
	Vector(v []float32) any
}

// Postgres is the dialect for Postgres and Supabase.
var Postgres Dialect = postgresDialect{types: pgtype.NewMap()}

// SQLite is the dialect for modernc.org/sqlite.
var SQLite Dialect = sqliteDialect{}

type postgresDialect struct {
	types *pgtype.Map
}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

func (postgresDialect) StringArray(v []string) any {
	if v == nil {
		v = []string{}
	}
	return v
}

func (d postgresDialect) ScanStringArray(dst *[]string) any {
	return d.types.SQLScanner(dst)
}

func (postgresDialect) Vector(v []float32) any {
	if v == nil {
		return nil
	}
	return sq.Expr("CAST(? AS vector)", VectorLiteral(v))
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

func (sqliteDialect) StringArray(v []string) any {
	if v == nil {
		v = []string{}
	}
	raw, _ := json.Marshal(v)
	return string(raw)
}

func (sqliteDialect) ScanStringArray(dst *[]string) any {
	return &jsonStrings{dst: dst}
}

func (sqliteDialect) Vector(v []float32) any {
	if v == nil {
		return nil
	}
	return VectorLiteral(v)
}

// jsonStrings reads a JSON-encoded string list stored in a TEXT column.
type jsonStrings struct {
	dst *[]string
}

func (j *jsonStrings) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*j.dst = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into string list", src)
	}
	if len(raw) == 0 {
		*j.dst = nil
		return nil
	}
	return json.Unmarshal(raw, j.dst)
}

var _ sql.Scanner = (*jsonStrings)(nil)

// VectorLiteral renders v in pgvector text form, e.g. [0.1,0.2].
func VectorLiteral(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// IsUniqueViolation reports whether err is a primary-key or unique constraint
// violation reported by either driver.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}

// Classify tags driver errors with a domain kind. Unique violations become
// KindDuplicateKey; sql.ErrNoRows becomes KindNotFound.
func Classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsUniqueViolation(err):
		return domain.E(domain.KindDuplicateKey, op, err)
	case errors.Is(err, sql.ErrNoRows):
		return domain.E(domain.KindNotFound, op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
