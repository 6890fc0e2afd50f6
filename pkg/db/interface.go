package db

import "database/sql"

// DBProvider is implemented by every SQL client so stores can take any of them.
type DBProvider interface {
	DB() *sql.DB
	Dialect() Dialect
}

// Closer is a DBProvider that owns its connection.
type Closer interface {
	DBProvider
	Close() error
}
