package db

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/nstree/errors"
)

// SQLiteBusyTimeoutMS is how long a connection waits on a locked container file.
const SQLiteBusyTimeoutMS = 5000

// ErrFileNotFound is returned by OpenExisting when there is no file at the path.
var ErrFileNotFound = errors.New("database file does not exist")

// uriPathEscaper escapes the characters SQLite and the driver treat as URI
// or DSN delimiters inside a file path.
var uriPathEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

// fileURI returns the SQLite URI filename for path with an optional query.
func fileURI(path, query string) string {
	uri := "file:" + uriPathEscaper.Replace(path)
	if query != "" {
		uri += "?" + query
	}
	return uri
}

// Open opens a SQLite database at the specified path with optimized settings,
// creating the file if needed.
// If logger is provided, logs database operations; otherwise operates silently.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	return open(path, fileURI(path, ""), logger)
}

// OpenExisting opens the SQLite database at path for read/write without ever
// creating it. A missing file yields ErrFileNotFound; a file that is not a
// SQLite database fails while configuring the connection.
func OpenExisting(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrFileNotFound, "open %s", path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	if info.IsDir() {
		return nil, errors.Newf("open %s: is a directory", path)
	}
	return open(path, fileURI(path, "mode=rw"), logger)
}

// OpenWithMigrations opens the database at path and applies all pending migrations.
func OpenWithMigrations(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := Open(path, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if err := Migrate(db, logger); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}
	return db, nil
}

func open(path, dsn string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "path", path)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// A container file has exactly one owner.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads during writes
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to enable WAL mode")
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to enable foreign keys")
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", SQLiteBusyTimeoutMS)); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to set busy timeout")
	}

	if logger != nil {
		logger.Infow("Database opened successfully",
			"path", path,
			"wal_mode", true,
			"foreign_keys", true,
		)
	}

	return db, nil
}
