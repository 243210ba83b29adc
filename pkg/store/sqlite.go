package store

import (
	"database/sql"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/praetorian-inc/sigscan/pkg/types"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a SQLite-based store.
// Use ":memory:" for in-memory database (useful for testing).
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if err := CreateSchema(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating schema")
	}

	return &SQLiteStore{db: db}, nil
}

// AddImage stores an image record.
func (s *SQLiteStore) AddImage(id types.ImageID, size int64) error {
	_, err := s.db.Exec("INSERT OR IGNORE INTO images (id, size) VALUES (?, ?)", id.Hex(), size)
	if err != nil {
		return errors.Wrap(err, "inserting image")
	}
	return nil
}

// AddTarget associates a target with an image, replacing any previous one.
func (s *SQLiteStore) AddTarget(id types.ImageID, target types.Target) error {
	var (
		path, process, module *string
		pid, size             *int64
	)

	switch t := target.(type) {
	case types.FileTarget:
		path = &t.FilePath
	case types.ProcessTarget:
		p, sz := int64(t.PID), int64(t.Size)
		pid, size = &p, &sz
		process = &t.Process
		module = &t.Module
	case types.MemoryTarget:
		path = &t.Name
	case nil:
		return errors.New("target is nil")
	default:
		return errors.Newf("unknown target type: %T", target)
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO targets (image_id, kind, path, pid, process, module, base, size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id.Hex(),
		target.Kind(),
		path,
		pid,
		process,
		module,
		types.TargetBase(target).String(),
		size,
	)
	if err != nil {
		return errors.Wrap(err, "inserting target")
	}
	return nil
}

// AddRule stores a rule.
func (s *SQLiteStore) AddRule(r *types.Rule) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO rules (id, name, pattern, base_slot, structural_id)
		VALUES (?, ?, ?, ?, ?)
	`, r.ID, r.Name, r.Pattern, r.BaseSlot, r.StructuralID)
	if err != nil {
		return errors.Wrap(err, "inserting rule")
	}
	return nil
}

// AddMatch stores a match record.
func (s *SQLiteStore) AddMatch(m *types.Match) error {
	addrsJSON, err := json.Marshal(m.Addresses)
	if err != nil {
		return errors.Wrap(err, "marshaling addresses")
	}

	_, err = s.db.Exec(`
		INSERT OR IGNORE INTO matches (image_id, rule_id, rule_name, structural_id, anchor, anchor_offset, addresses_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		m.ImageID.Hex(),
		m.RuleID,
		m.RuleName,
		m.StructuralID,
		m.Anchor().String(),
		m.Offset,
		string(addrsJSON),
	)
	if err != nil {
		return errors.Wrap(err, "inserting match")
	}
	return nil
}

const selectMatches = `
	SELECT image_id, rule_id, rule_name, structural_id, anchor_offset, addresses_json
	FROM matches
`

// GetMatches retrieves matches for an image, with their target attached.
func (s *SQLiteStore) GetMatches(id types.ImageID) ([]*types.Match, error) {
	return s.queryMatches(selectMatches+"WHERE image_id = ? ORDER BY id", id.Hex())
}

// GetAllMatches retrieves all matches in insertion order.
func (s *SQLiteStore) GetAllMatches() ([]*types.Match, error) {
	return s.queryMatches(selectMatches + "ORDER BY id")
}

func (s *SQLiteStore) queryMatches(query string, args ...interface{}) ([]*types.Match, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying matches")
	}
	defer rows.Close()

	matches := []*types.Match{}
	for rows.Next() {
		var m types.Match
		var addrsJSON string

		err := rows.Scan(
			&m.ImageID,
			&m.RuleID,
			&m.RuleName,
			&m.StructuralID,
			&m.Offset,
			&addrsJSON,
		)
		if err != nil {
			return nil, errors.Wrap(err, "scanning match")
		}

		if err := json.Unmarshal([]byte(addrsJSON), &m.Addresses); err != nil {
			return nil, errors.Wrap(err, "unmarshaling addresses")
		}
		matches = append(matches, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating matches")
	}
	rows.Close()

	targets := make(map[types.ImageID]types.Target)
	for _, m := range matches {
		t, ok := targets[m.ImageID]
		if !ok {
			t, err = s.GetTarget(m.ImageID)
			if err != nil && !errors.Is(err, ErrTargetNotFound) {
				return nil, err
			}
			targets[m.ImageID] = t
		}
		m.Target = t
	}

	return matches, nil
}

// GetRules retrieves every stored rule ordered by ID.
func (s *SQLiteStore) GetRules() ([]*types.Rule, error) {
	rows, err := s.db.Query(`SELECT id, name, pattern, base_slot, structural_id FROM rules ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "querying rules")
	}
	defer rows.Close()

	rules := []*types.Rule{}
	for rows.Next() {
		var r types.Rule
		if err := rows.Scan(&r.ID, &r.Name, &r.Pattern, &r.BaseSlot, &r.StructuralID); err != nil {
			return nil, errors.Wrap(err, "scanning rule")
		}
		rules = append(rules, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating rules")
	}
	return rules, nil
}

// GetTarget retrieves the target of an image.
func (s *SQLiteStore) GetTarget(id types.ImageID) (types.Target, error) {
	var (
		kind, base            string
		path, process, module sql.NullString
		pid, size             sql.NullInt64
	)

	err := s.db.QueryRow(`
		SELECT kind, path, pid, process, module, base, size
		FROM targets WHERE image_id = ?
	`, id.Hex()).Scan(&kind, &path, &pid, &process, &module, &base, &size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrTargetNotFound, "image %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying target")
	}

	addr, err := types.ParseAddress(base)
	if err != nil {
		return nil, errors.Wrap(err, "parsing target base")
	}

	switch kind {
	case "file":
		return types.FileTarget{FilePath: path.String, Base: addr}, nil
	case "process":
		return types.ProcessTarget{
			PID:     int32(pid.Int64),
			Process: process.String,
			Module:  module.String,
			Base:    addr,
			Size:    uint64(size.Int64),
		}, nil
	case "memory":
		return types.MemoryTarget{Name: path.String, Base: addr}, nil
	default:
		return nil, errors.Newf("unknown target kind %q", kind)
	}
}

// ImageExists checks if an image has already been scanned.
func (s *SQLiteStore) ImageExists(id types.ImageID) (bool, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM images WHERE id = ?", id.Hex()).Scan(&count)
	if err != nil {
		return false, errors.Wrap(err, "checking image existence")
	}
	return count > 0, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
