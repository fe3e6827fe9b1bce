/*
Copyright (C) 2024  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// CatalogBackend tracks which scripts a deployment has ever SCRIPT LOADed,
// in a SQL table rather than the blob store itself (§4.L), so an operator
// can `SELECT name, sha1, loaded_at FROM redislua_scripts` the way
// storage/mysql_import.go reaches into an existing MySQL schema instead of
// inventing its own catalog format. driver is "mysql" or "postgres",
// matching the two blank-imported sql/driver packages above.
type CatalogBackend struct {
	db *sql.DB
}

func OpenCatalog(driver, dsn string) (*CatalogBackend, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	ddl := `CREATE TABLE IF NOT EXISTS redislua_scripts (
		sha1 VARCHAR(40) PRIMARY KEY,
		name VARCHAR(255),
		loaded_at TIMESTAMP
	)`
	if _, err := db.Exec(ddl); err != nil {
		return nil, err
	}
	return &CatalogBackend{db: db}, nil
}

// Record notes that sha1hex has been loaded under the human-readable name.
// A duplicate SHA1 overwrites the name, matching SCRIPT LOAD's own
// idempotent-on-identical-source semantics (§4.L). The statement is MySQL
// syntax (? placeholders, ON DUPLICATE KEY UPDATE); a postgres catalog
// rejects it.
func (c *CatalogBackend) Record(sha1hex, name string) error {
	_, err := c.db.Exec(
		`INSERT INTO redislua_scripts (sha1, name, loaded_at) VALUES (?, ?, NOW())
		 ON DUPLICATE KEY UPDATE name = VALUES(name), loaded_at = NOW()`,
		sha1hex, name,
	)
	return err
}

// Names returns every (sha1, name) pair the catalog has recorded, as a map
// keyed by sha1; the map carries no order.
func (c *CatalogBackend) Names() (map[string]string, error) {
	rows, err := c.db.Query(`SELECT sha1, name FROM redislua_scripts ORDER BY loaded_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var sha1, name string
		if err := rows.Scan(&sha1, &name); err != nil {
			return nil, err
		}
		out[sha1] = name
	}
	return out, rows.Err()
}

func (c *CatalogBackend) Close() error { return c.db.Close() }

func (c *CatalogBackend) String() string {
	return fmt.Sprintf("CatalogBackend(%p)", c.db)
}
