package container

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/nstree/db"
	"github.com/teranos/nstree/errors"
	"github.com/teranos/nstree/version"
)

// SQLiteBackend creates and opens containers stored as SQLite files.
type SQLiteBackend struct {
	logger       *zap.SugaredLogger
	constraint   string
	dataGroup    string
	scratchGroup string
	createdBy    string
}

// BackendOption configures a SQLiteBackend.
type BackendOption func(*SQLiteBackend)

// WithLogger sets the logger used for container lifecycle events.
func WithLogger(logger *zap.SugaredLogger) BackendOption {
	return func(b *SQLiteBackend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithFormatConstraint sets the semver constraint a container's format
// version must satisfy to be opened, e.g. "^1" or ">= 1.0, < 3".
func WithFormatConstraint(constraint string) BackendOption {
	return func(b *SQLiteBackend) {
		if constraint != "" {
			b.constraint = constraint
		}
	}
}

// WithReservedGroups sets the names of the organizational and scratch
// groups created in every new container.
func WithReservedGroups(data, scratch string) BackendOption {
	return func(b *SQLiteBackend) {
		if data != "" {
			b.dataGroup = data
		}
		if scratch != "" {
			b.scratchGroup = scratch
		}
	}
}

// WithCreatedBy overrides the writer stamp recorded at creation.
func WithCreatedBy(stamp string) BackendOption {
	return func(b *SQLiteBackend) {
		b.createdBy = stamp
	}
}

// NewSQLiteBackend returns a backend with the default format constraint and
// reserved group names.
func NewSQLiteBackend(opts ...BackendOption) *SQLiteBackend {
	b := &SQLiteBackend{
		logger:       zap.NewNop().Sugar(),
		constraint:   DefaultFormatConstraint,
		dataGroup:    DefaultDataGroup,
		scratchGroup: DefaultScratchGroup,
		createdBy:    version.Get().Stamp(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Create makes a new container file at path. The file is created
// exclusively: an existing file of any kind is left untouched and
// ErrExists is returned. On any later failure the partial file is removed.
func (b *SQLiteBackend) Create(ctx context.Context, path string) error {
	if path == "" {
		return errors.Wrap(ErrInvalidPath, "create container: empty path")
	}
	if _, err := semver.NewConstraint(b.constraint); err != nil {
		return errors.Wrapf(err, "invalid format constraint %q", b.constraint)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return errors.Wrapf(ErrExists, "create container %s", path)
		}
		return errors.Wrapf(err, "create container %s", path)
	}
	f.Close()

	if err := b.initialize(ctx, path); err != nil {
		if rmErr := removeFiles(path); rmErr != nil {
			b.logger.Warnw("Failed to remove partially created container", "path", path, "error", rmErr)
		}
		return err
	}

	b.logger.Infow("Container created",
		"path", path,
		"format_version", FormatVersion,
		"data_group", b.dataGroup,
		"scratch_group", b.scratchGroup,
	)
	return nil
}

func (b *SQLiteBackend) initialize(ctx context.Context, path string) error {
	conn, err := db.OpenWithMigrations(path, b.logger)
	if err != nil {
		return errors.Wrapf(err, "initialize container %s", path)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "initialize container %s: begin", path)
	}
	defer tx.Rollback()

	now := timestamp()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entries (path, parent, name, kind, seq, created_at) VALUES ('/', NULL, '', 'group', 0, ?)`,
		now,
	); err != nil {
		return errors.Wrap(err, "insert root group")
	}

	for i, name := range []string{b.dataGroup, b.scratchGroup} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entries (path, parent, name, kind, seq, created_at) VALUES (?, '/', ?, 'group', ?, ?)`,
			joinPath("/", name), name, i+1, now,
		); err != nil {
			return errors.Wrapf(err, "insert reserved group %s", name)
		}
	}

	attrs := [][2]string{
		{AttrFormat, FormatName},
		{AttrFormatVersion, FormatVersion},
		{AttrCreatedBy, b.createdBy},
		{AttrCreatedAt, now},
		{AttrStoreID, uuid.New().String()},
		{AttrDataGroup, b.dataGroup},
		{AttrScratchGroup, b.scratchGroup},
	}
	for _, kv := range attrs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO attrs (key, value) VALUES (?, ?)`, kv[0], kv[1]); err != nil {
			return errors.Wrapf(err, "stamp attribute %s", kv[0])
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "initialize container %s: commit", path)
	}
	return nil
}

// Open opens the container at path for read/write.
func (b *SQLiteBackend) Open(ctx context.Context, path string) (Store, error) {
	conn, err := db.OpenExisting(path, b.logger)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrFileNotFound):
			return nil, errors.Wrapf(ErrNotExist, "open container %s", path)
		case db.IsNotADatabase(err):
			return nil, errors.Mark(errors.Wrapf(err, "open container %s", path), ErrNotContainer)
		}
		return nil, errors.Wrapf(err, "open container %s", path)
	}

	if err := b.checkFormat(ctx, conn, path); err != nil {
		conn.Close()
		return nil, err
	}

	if err := db.Migrate(conn, b.logger); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "upgrade container %s", path)
	}

	return newSQLiteStore(conn, path, b.logger), nil
}

func (b *SQLiteBackend) checkFormat(ctx context.Context, conn *sql.DB, path string) error {
	var format, formatVersion string
	err := conn.QueryRowContext(ctx, `SELECT value FROM attrs WHERE key = ?`, AttrFormat).Scan(&format)
	if err == sql.ErrNoRows || (err != nil && strings.Contains(err.Error(), "no such table")) {
		return errors.Wrapf(ErrNotContainer, "open container %s: no format stamp", path)
	}
	if err != nil {
		if db.IsNotADatabase(err) {
			return errors.Mark(errors.Wrapf(err, "open container %s", path), ErrNotContainer)
		}
		return errors.Wrapf(err, "open container %s: read format stamp", path)
	}
	if format != FormatName {
		return errors.Wrapf(ErrNotContainer, "open container %s: format is %q", path, format)
	}

	err = conn.QueryRowContext(ctx, `SELECT value FROM attrs WHERE key = ?`, AttrFormatVersion).Scan(&formatVersion)
	if err != nil {
		return errors.Wrapf(ErrNotContainer, "open container %s: no format version", path)
	}

	got, err := semver.NewVersion(formatVersion)
	if err != nil {
		return errors.Wrapf(ErrIncompatibleFormat, "open container %s: unparseable format version %q", path, formatVersion)
	}
	constraint, err := semver.NewConstraint(b.constraint)
	if err != nil {
		return errors.Wrapf(err, "invalid format constraint %q", b.constraint)
	}
	if !constraint.Check(got) {
		return errors.WithHintf(
			errors.Wrapf(ErrIncompatibleFormat, "open container %s: format %s does not satisfy %s", path, got, b.constraint),
			"the container was written by a newer or older nstree; check its 'created_by' attribute",
		)
	}
	return nil
}

// Remove deletes the container file at path along with SQLite's sidecar
// files. A missing container file is ErrNotExist.
func (b *SQLiteBackend) Remove(ctx context.Context, path string) error {
	if path == "" {
		return errors.Wrap(ErrInvalidPath, "remove container: empty path")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return errors.Wrapf(ErrNotExist, "remove container %s", path)
	}
	if err := removeFiles(path); err != nil {
		return errors.Wrapf(err, "remove container %s", path)
	}
	b.logger.Infow("Container removed", "path", path)
	return nil
}

func removeFiles(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// SQLiteStore is an open SQLite container.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *zap.SugaredLogger
	closed bool
}

func newSQLiteStore(conn *sql.DB, path string, logger *zap.SugaredLogger) *SQLiteStore {
	return &SQLiteStore{db: conn, path: path, logger: logger}
}

// Path returns the container file path.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the underlying database. Closing twice is a no-op.
func (s *SQLiteStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return errors.Wrapf(err, "close container %s", s.path)
	}
	return nil
}

// IsGroup reports whether path is a group. A missing path is not an error.
func (s *SQLiteStore) IsGroup(ctx context.Context, path string) (bool, error) {
	kind, ok, err := s.kind(ctx, path)
	return ok && kind == KindGroup, err
}

// IsLeaf reports whether path is a leaf. A missing path is not an error.
func (s *SQLiteStore) IsLeaf(ctx context.Context, path string) (bool, error) {
	kind, ok, err := s.kind(ctx, path)
	return ok && kind == KindLeaf, err
}

func (s *SQLiteStore) kind(ctx context.Context, path string) (Kind, bool, error) {
	if s.closed {
		return "", false, errors.Wrapf(ErrClosed, "lookup %s", path)
	}
	kind, ok, err := kindOf(ctx, s.db, path)
	if err != nil {
		return "", false, errors.Wrapf(err, "lookup %s", path)
	}
	return kind, ok, nil
}

// CreateGroup creates an empty group named name under parentPath.
func (s *SQLiteStore) CreateGroup(ctx context.Context, parentPath, name string) error {
	return s.withTx(ctx, "create group", func(tx *sql.Tx) error {
		if err := requireGroup(ctx, tx, parentPath); err != nil {
			return err
		}
		return insertEntry(ctx, tx, parentPath, name, KindGroup, nil, "")
	})
}

// CreateLeaf creates a leaf named name under parentPath, recording shape
// and dtype as metadata.
func (s *SQLiteStore) CreateLeaf(ctx context.Context, parentPath, name string, shape []int, dtype string) error {
	return s.withTx(ctx, "create leaf", func(tx *sql.Tx) error {
		if err := requireGroup(ctx, tx, parentPath); err != nil {
			return err
		}
		return insertEntry(ctx, tx, parentPath, name, KindLeaf, shape, dtype)
	})
}

// Delete removes path and its whole subtree.
func (s *SQLiteStore) Delete(ctx context.Context, path string) error {
	return s.withTx(ctx, "delete", func(tx *sql.Tx) error {
		if path == "/" {
			return errors.Wrap(ErrInvalidPath, "cannot delete the root group")
		}
		if _, ok, err := kindOf(ctx, tx, path); err != nil {
			return errors.Wrapf(err, "lookup %s", path)
		} else if !ok {
			return errors.Wrapf(ErrNotExist, "%s", path)
		}

		prefix := path + "/"
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM entries WHERE path = ? OR substr(path, 1, ?) = ?`,
			path, utf8.RuneCountInString(prefix), prefix,
		); err != nil {
			return errors.Wrapf(err, "delete %s", path)
		}
		return nil
	})
}

// Move re-homes srcPath under destParentPath. The moved entry and its
// subtree keep their names and relative layout.
func (s *SQLiteStore) Move(ctx context.Context, srcPath, destParentPath string) error {
	return s.withTx(ctx, "move", func(tx *sql.Tx) error {
		if srcPath == "/" {
			return errors.Wrap(ErrInvalidPath, "cannot move the root group")
		}
		if _, ok, err := kindOf(ctx, tx, srcPath); err != nil {
			return errors.Wrapf(err, "lookup %s", srcPath)
		} else if !ok {
			return errors.Wrapf(ErrNotExist, "%s", srcPath)
		}
		if err := requireGroup(ctx, tx, destParentPath); err != nil {
			return err
		}
		if destParentPath == srcPath || strings.HasPrefix(destParentPath, srcPath+"/") {
			return errors.Wrapf(ErrInvalidPath, "cannot move %s into its own subtree %s", srcPath, destParentPath)
		}

		name := baseName(srcPath)
		newPath := joinPath(destParentPath, name)
		if _, ok, err := kindOf(ctx, tx, newPath); err != nil {
			return errors.Wrapf(err, "lookup %s", newPath)
		} else if ok {
			return errors.Wrapf(ErrExists, "%s", newPath)
		}
		return relocate(ctx, tx, srcPath, newPath, destParentPath, name)
	})
}

// Rename changes the last path segment of path to newName.
func (s *SQLiteStore) Rename(ctx context.Context, path, newName string) error {
	return s.withTx(ctx, "rename", func(tx *sql.Tx) error {
		if path == "/" {
			return errors.Wrap(ErrInvalidPath, "cannot rename the root group")
		}
		if _, ok, err := kindOf(ctx, tx, path); err != nil {
			return errors.Wrapf(err, "lookup %s", path)
		} else if !ok {
			return errors.Wrapf(ErrNotExist, "%s", path)
		}

		parent := parentOf(path)
		newPath := joinPath(parent, newName)
		if newPath == path {
			return nil
		}
		if _, ok, err := kindOf(ctx, tx, newPath); err != nil {
			return errors.Wrapf(err, "lookup %s", newPath)
		} else if ok {
			return errors.Wrapf(ErrExists, "%s", newPath)
		}
		return relocate(ctx, tx, path, newPath, parent, newName)
	})
}

// List returns the direct children of the group at path in insertion order.
func (s *SQLiteStore) List(ctx context.Context, path string) ([]Entry, error) {
	kind, ok, err := s.kind(ctx, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(ErrNotExist, "list %s", path)
	}
	if kind != KindGroup {
		return nil, errors.Wrapf(ErrNotGroup, "list %s", path)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, path, kind, shape, dtype FROM entries WHERE parent = ? ORDER BY seq ASC`,
		path,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", path)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e     Entry
			kind  string
			shape sql.NullString
			dtype sql.NullString
		)
		if err := rows.Scan(&e.Name, &e.Path, &kind, &shape, &dtype); err != nil {
			return nil, errors.Wrapf(err, "list %s: scan", path)
		}
		e.Kind = Kind(kind)
		e.DType = dtype.String
		if shape.Valid && shape.String != "" {
			if err := json.Unmarshal([]byte(shape.String), &e.Shape); err != nil {
				return nil, errors.Wrapf(err, "list %s: decode shape of %s", path, e.Path)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "list %s", path)
	}
	return entries, nil
}

// Attr returns the root attribute key.
func (s *SQLiteStore) Attr(ctx context.Context, key string) (string, error) {
	if s.closed {
		return "", errors.Wrapf(ErrClosed, "read attribute %s", key)
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM attrs WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", errors.Wrapf(ErrNotExist, "attribute %s", key)
	}
	if err != nil {
		return "", errors.Wrapf(err, "read attribute %s", key)
	}
	return value, nil
}

// Attrs returns every root attribute.
func (s *SQLiteStore) Attrs(ctx context.Context) (map[string]string, error) {
	if s.closed {
		return nil, errors.Wrap(ErrClosed, "read attributes")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM attrs`)
	if err != nil {
		return nil, errors.Wrap(err, "read attributes")
	}
	defer rows.Close()

	attrs := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errors.Wrap(err, "read attributes: scan")
		}
		attrs[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "read attributes")
	}
	return attrs, nil
}

// DataVersion returns SQLite's per-connection data_version counter.
func (s *SQLiteStore) DataVersion(ctx context.Context) (int64, error) {
	if s.closed {
		return 0, errors.Wrap(ErrClosed, "read data version")
	}
	var version int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA data_version`).Scan(&version); err != nil {
		return 0, errors.Wrap(err, "read data version")
	}
	return version, nil
}

func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	if s.closed {
		return errors.Wrap(ErrClosed, op)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "%s: begin", op)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "%s: commit", op)
	}
	s.logger.Debugw("Container updated", "operation", op, "path", s.path)
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func kindOf(ctx context.Context, q querier, path string) (Kind, bool, error) {
	var kind string
	err := q.QueryRowContext(ctx, `SELECT kind FROM entries WHERE path = ?`, path).Scan(&kind)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return Kind(kind), true, nil
}

func requireGroup(ctx context.Context, tx *sql.Tx, path string) error {
	kind, ok, err := kindOf(ctx, tx, path)
	if err != nil {
		return errors.Wrapf(err, "lookup %s", path)
	}
	if !ok {
		return errors.Wrapf(ErrNotExist, "%s", path)
	}
	if kind != KindGroup {
		return errors.Wrapf(ErrNotGroup, "%s", path)
	}
	return nil
}

func nextSeq(ctx context.Context, tx *sql.Tx) (int64, error) {
	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM entries`).Scan(&seq); err != nil {
		return 0, errors.Wrap(err, "allocate sequence")
	}
	return seq, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, parent, name string, kind Kind, shape []int, dtype string) error {
	path := joinPath(parent, name)
	if _, ok, err := kindOf(ctx, tx, path); err != nil {
		return errors.Wrapf(err, "lookup %s", path)
	} else if ok {
		return errors.Wrapf(ErrExists, "%s", path)
	}

	seq, err := nextSeq(ctx, tx)
	if err != nil {
		return err
	}

	var shapeJSON, dtypeValue sql.NullString
	if kind == KindLeaf {
		if shape == nil {
			shape = []int{}
		}
		encoded, err := json.Marshal(shape)
		if err != nil {
			return errors.Wrapf(err, "encode shape of %s", path)
		}
		shapeJSON = sql.NullString{String: string(encoded), Valid: true}
		dtypeValue = sql.NullString{String: dtype, Valid: true}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entries (path, parent, name, kind, shape, dtype, seq, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		path, parent, name, string(kind), shapeJSON, dtypeValue, seq, timestamp(),
	); err != nil {
		return errors.Wrapf(err, "insert %s", path)
	}
	return nil
}

// relocate moves the entry at src to newPath (under newParent, named
// newName) and rewrites the path prefix of its whole subtree. The moved
// entry goes to the end of its new parent's listing.
func relocate(ctx context.Context, tx *sql.Tx, src, newPath, newParent, newName string) error {
	seq, err := nextSeq(ctx, tx)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE entries SET path = ?, parent = ?, name = ?, seq = ? WHERE path = ?`,
		newPath, newParent, newName, seq, src,
	); err != nil {
		return errors.Wrapf(err, "relocate %s", src)
	}

	prefix := src + "/"
	n := utf8.RuneCountInString(prefix)
	if _, err := tx.ExecContext(ctx,
		`UPDATE entries
		    SET path = ? || substr(path, ?),
		        parent = ? || substr(parent, ?)
		  WHERE substr(path, 1, ?) = ?`,
		newPath, n, newPath, n, n, prefix,
	); err != nil {
		return errors.Wrapf(err, "relocate subtree of %s", src)
	}
	return nil
}

func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

func parentOf(path string) string {
	i := strings.LastIndex(path, "/")
	if i <= 0 {
		return "/"
	}
	return path[:i]
}

func baseName(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
