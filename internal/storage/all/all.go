// Package all registers every storage backend.
package all

import (
	_ "ipeds/internal/storage/mssql"
	_ "ipeds/internal/storage/mysql"
	_ "ipeds/internal/storage/postgres"
	_ "ipeds/internal/storage/sqlite"
)
