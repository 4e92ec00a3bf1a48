package storage

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/clearline/go-zrtp/pkg/protocol"
)

// SQLiteCache is the file-backed ZID cache. A single table keyed by
// peer ZID holds the retained-secret records; the local ZID lives in
// a one-row table created on first open.
type SQLiteCache struct {
	mu       sync.Mutex
	db       *sql.DB
	localZID protocol.ZID
}

// NewSQLiteCache returns an unopened cache; call Open before use.
func NewSQLiteCache() *SQLiteCache {
	return &SQLiteCache{}
}

func (c *SQLiteCache) Open(name string) (protocol.ZID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return c.localZID, nil
	}

	db, err := sql.Open("sqlite3", name)
	if err != nil {
		return protocol.ZID{}, fmt.Errorf("failed to open ZID cache: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return protocol.ZID{}, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return protocol.ZID{}, err
	}

	local, err := loadOrCreateLocalZID(db)
	if err != nil {
		db.Close()
		return protocol.ZID{}, err
	}

	c.db = db
	c.localZID = local
	return local, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS zrtp_own (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		zid BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS zrtp_remote (
		zid BLOB PRIMARY KEY,
		flags INTEGER NOT NULL,
		rs1 BLOB,
		rs1_last_use INTEGER NOT NULL DEFAULT 0,
		rs1_ttl INTEGER NOT NULL DEFAULT 0,
		rs2 BLOB,
		rs2_last_use INTEGER NOT NULL DEFAULT 0,
		rs2_ttl INTEGER NOT NULL DEFAULT 0,
		mitm_key BLOB,
		mitm_last_use INTEGER NOT NULL DEFAULT 0,
		secure_since INTEGER NOT NULL DEFAULT 0,
		name TEXT NOT NULL DEFAULT ''
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create ZID cache schema: %w", err)
	}
	return nil
}

func loadOrCreateLocalZID(db *sql.DB) (protocol.ZID, error) {
	var raw []byte
	err := db.QueryRow("SELECT zid FROM zrtp_own WHERE id = 1").Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		zid, err := protocol.GenerateZID()
		if err != nil {
			return protocol.ZID{}, err
		}
		if _, err := db.Exec("INSERT INTO zrtp_own (id, zid) VALUES (1, ?)", zid[:]); err != nil {
			return protocol.ZID{}, fmt.Errorf("failed to store local ZID: %w", err)
		}
		return zid, nil
	case err != nil:
		return protocol.ZID{}, err
	}

	var zid protocol.ZID
	copy(zid[:], raw)
	return zid, nil
}

func (c *SQLiteCache) Record(peer protocol.ZID) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return nil, ErrCacheOpen
	}
	if peer == c.localZID {
		return nil, ErrLocalZID
	}

	rec, err := c.scanRecord(peer)
	if err == nil {
		return rec, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	rec = NewRecord(peer)
	if err := c.upsert(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *SQLiteCache) scanRecord(peer protocol.ZID) (*Record, error) {
	row := c.db.QueryRow(`
		SELECT flags, rs1, rs1_last_use, rs1_ttl, rs2, rs2_last_use, rs2_ttl,
		       mitm_key, mitm_last_use, secure_since, name
		FROM zrtp_remote WHERE zid = ?`, peer[:])

	rec := &Record{ZID: peer}
	var rs1, rs2, mitm []byte
	err := row.Scan(
		&rec.Flags,
		&rs1, &rec.RS1.LastUsed, &rec.RS1.TTL,
		&rs2, &rec.RS2.LastUsed, &rec.RS2.TTL,
		&mitm, &rec.MITMKeyLastUsed,
		&rec.SecureSince,
		&rec.Name,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	copy(rec.RS1.Secret[:], rs1)
	copy(rec.RS2.Secret[:], rs2)
	copy(rec.MITMKey[:], mitm)
	return rec, nil
}

func (c *SQLiteCache) upsert(rec *Record) error {
	_, err := c.db.Exec(`
		INSERT INTO zrtp_remote (
			zid, flags, rs1, rs1_last_use, rs1_ttl,
			rs2, rs2_last_use, rs2_ttl,
			mitm_key, mitm_last_use, secure_since, name
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(zid) DO UPDATE SET
			flags = excluded.flags,
			rs1 = excluded.rs1,
			rs1_last_use = excluded.rs1_last_use,
			rs1_ttl = excluded.rs1_ttl,
			rs2 = excluded.rs2,
			rs2_last_use = excluded.rs2_last_use,
			rs2_ttl = excluded.rs2_ttl,
			mitm_key = excluded.mitm_key,
			mitm_last_use = excluded.mitm_last_use,
			secure_since = excluded.secure_since,
			name = excluded.name
	`,
		rec.ZID[:], rec.Flags,
		rec.RS1.Secret[:], rec.RS1.LastUsed, rec.RS1.TTL,
		rec.RS2.Secret[:], rec.RS2.LastUsed, rec.RS2.TTL,
		rec.MITMKey[:], rec.MITMKeyLastUsed,
		rec.SecureSince, rec.Name,
	)
	return err
}

func (c *SQLiteCache) SaveRecord(rec *Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return ErrCacheOpen
	}
	return c.upsert(rec)
}

func (c *SQLiteCache) PeerName(peer protocol.ZID) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return "", false
	}
	var name string
	err := c.db.QueryRow("SELECT name FROM zrtp_remote WHERE zid = ?", peer[:]).Scan(&name)
	if err != nil || name == "" {
		return "", false
	}
	return name, true
}

func (c *SQLiteCache) PutPeerName(peer protocol.ZID, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return ErrCacheOpen
	}
	res, err := c.db.Exec("UPDATE zrtp_remote SET name = ? WHERE zid = ?", name, peer[:])
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		rec := NewRecord(peer)
		rec.Name = name
		return c.upsert(rec)
	}
	return nil
}

func (c *SQLiteCache) All() ([]*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return nil, ErrCacheOpen
	}
	rows, err := c.db.Query("SELECT zid FROM zrtp_remote ORDER BY secure_since")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var zids []protocol.ZID
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var zid protocol.ZID
		copy(zid[:], raw)
		zids = append(zids, zid)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var records []*Record
	for _, zid := range zids {
		rec, err := c.scanRecord(zid)
		if err != nil {
			return nil, err
		}
		if rec.IsValid() {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (c *SQLiteCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}
