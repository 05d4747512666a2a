package db

import "database/sql"

// DBProvider is implemented by clients that expose a sql.DB handle, so report
// writers do not depend on how the connection was opened.
type DBProvider interface {
	DB() *sql.DB
}
