package storage

import (
	"database/sql"
	"strings"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/sentra-lang/pcodec/internal/pcode"
)

// SQLStore is the concrete SymbolDatabase/PrototypeDatabase adapter:
// one table for symbols ("symbols": name, space, offset, size, type_id)
// one for prototypes ("prototypes"/"prototype_params") and one for call
// specs ("call_specs"), reached over
// database/sql against whichever of the four wired drivers the DSN
// scheme selects. Grounded on internal/database/database.go's
// dbType-switch DSN construction in Connect, generalized from
// "security-scan a live server" to "read a prebuilt symbol table."
type SQLStore struct {
	db     *sql.DB
	driver string
}

// Open selects a driver by DSN scheme (mysql://, postgres://,
// sqlite3://, sqlserver://) the same way Connect's dbType switch picks
// a driver name, then opens and pings the database.
func Open(scheme, dsn string) (*SQLStore, error) {
	driver, ok := driverForScheme(strings.ToLower(scheme))
	if !ok {
		return nil, errors.Errorf("storage: unsupported database scheme %q", scheme)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "storage: open")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "storage: ping")
	}
	return &SQLStore{db: db, driver: driver}, nil
}

func driverForScheme(scheme string) (string, bool) {
	switch scheme {
	case "mysql":
		return "mysql", true
	case "postgres", "postgresql":
		return "postgres", true
	case "sqlite3", "sqlite":
		return "sqlite3", true
	case "sqlserver", "mssql":
		return "sqlserver", true
	default:
		return "", false
	}
}

func (s *SQLStore) Close() error { return s.db.Close() }

// QueryContainer implements SymbolDatabase: the smallest symbol entry
// covering [addr, addr+size) in space, ordered by size ascending so the
// first row is the tightest container.
func (s *SQLStore) QueryContainer(space string, addr uint64, size int, point pcode.Address) (*SymbolEntry, bool, error) {
	row := s.db.QueryRow(
		`SELECT name, space, offset, size, type_id FROM symbols
		 WHERE space = ? AND offset <= ? AND (offset + size) >= ?
		 ORDER BY size ASC LIMIT 1`,
		space, addr, addr+uint64(size))
	var e SymbolEntry
	if err := row.Scan(&e.Name, &e.Space, &e.Offset, &e.Size, &e.TypeID); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "storage: QueryContainer")
	}
	return &e, true, nil
}

// CallSpec implements PrototypeDatabase.
func (s *SQLStore) CallSpec(name string) (*CallSpec, bool, error) {
	row := s.db.QueryRow(
		`SELECT model, input_locked, output_locked, has_dotdotdot FROM call_specs WHERE name = ?`, name)
	var c CallSpec
	if err := row.Scan(&c.Model, &c.InputLocked, &c.OutputLocked, &c.HasDotDotDot); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "storage: CallSpec")
	}
	return &c, true, nil
}

// Prototype implements PrototypeDatabase.
func (s *SQLStore) Prototype(name string) (*Prototype, bool, error) {
	row := s.db.QueryRow(
		`SELECT output_type, comparable FROM prototypes WHERE name = ?`, name)
	var p Prototype
	if err := row.Scan(&p.OutputType, &p.Comparable); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "storage: Prototype")
	}

	rows, err := s.db.Query(
		`SELECT name, type_id FROM prototype_params WHERE prototype_name = ? ORDER BY position ASC`, name)
	if err != nil {
		return nil, false, errors.Wrap(err, "storage: Prototype params")
	}
	defer rows.Close()
	for rows.Next() {
		var pp PrototypeParam
		if err := rows.Scan(&pp.Name, &pp.TypeID); err != nil {
			return nil, false, errors.Wrap(err, "storage: Prototype params scan")
		}
		p.Params = append(p.Params, pp)
	}
	return &p, true, rows.Err()
}

var _ SymbolDatabase = (*SQLStore)(nil)
var _ PrototypeDatabase = (*SQLStore)(nil)

// DSN is a convenience splitter for "scheme://rest" connection strings,
// mirroring ParseConnectionString's role in the teacher but trimmed to
// just what Open needs.
func DSN(full string) (scheme, rest string, err error) {
	idx := strings.Index(full, "://")
	if idx < 0 {
		return "", "", errors.Errorf("storage: %q is not a scheme://dsn connection string", full)
	}
	return full[:idx], full[idx+3:], nil
}
