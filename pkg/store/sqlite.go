// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"
	"go.mau.fi/util/exsync"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed upgrades/*.sql
var upgradeFS embed.FS

var upgradeTable dbutil.UpgradeTable

func init() {
	// The embed FS is rooted at the package directory, so the upgrades live
	// under the subdirectory, not at ".".
	upgradeTable.RegisterFSPath(upgradeFS, "upgrades")
}

// SQLite is a Store backed by a single SQLite database. Per-key update
// serialization is done with in-process locks on top of the usual SQLite
// write transaction.
type SQLite struct {
	db    *dbutil.Database
	locks *exsync.Map[string, *sync.Mutex]
	log   zerolog.Logger
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens (and migrates) the database at path.
func NewSQLite(ctx context.Context, path string, log zerolog.Logger) (*SQLite, error) {
	db, err := dbutil.NewWithDialect(path, "sqlite3")
	if err != nil {
		return nil, err
	}
	db.Log = dbutil.ZeroLogger(log.With().Str("component", "store").Logger())
	db.UpgradeTable = upgradeTable
	db.VersionTable = "config_version"
	if err := db.Upgrade(ctx); err != nil {
		return nil, err
	}
	return &SQLite{
		db:    db,
		locks: exsync.NewMap[string, *sync.Mutex](),
		log:   log.With().Str("component", "store").Logger(),
	}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func mapSQLiteErr(err error) error {
	if err == nil {
		return nil
	}
	// go-sqlite3 reports lock contention as "database is locked" /
	// "database table is locked" strings on its error types.
	if strings.Contains(err.Error(), "database is locked") ||
		strings.Contains(err.Error(), "table is locked") {
		return ErrBusy
	}
	return err
}

func (s *SQLite) Get(ctx context.Context, scope Scope, key string) (json.RawMessage, error) {
	var value string
	err := s.db.QueryRow(ctx,
		"SELECT value FROM config WHERE scope_kind=$1 AND scope_id=$2 AND key=$3",
		string(scope.Kind), scope.ID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLiteErr(err)
	}
	return json.RawMessage(value), nil
}

func (s *SQLite) Set(ctx context.Context, scope Scope, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO config (scope_kind, scope_id, key, value) VALUES ($1, $2, $3, $4)
		ON CONFLICT (scope_kind, scope_id, key) DO UPDATE SET value=excluded.value
	`, string(scope.Kind), scope.ID, key, string(raw))
	return mapSQLiteErr(err)
}

func lockKey(scope Scope, key string) string {
	return string(scope.Kind) + "/" + strconv.FormatInt(scope.ID, 10) + "/" + key
}

func (s *SQLite) Update(ctx context.Context, scope Scope, key string, fn func(raw json.RawMessage) (any, error)) error {
	lock, _ := s.locks.GetOrSet(lockKey(scope, key), &sync.Mutex{})
	lock.Lock()
	defer lock.Unlock()

	err := s.db.DoTxn(ctx, nil, func(ctx context.Context) error {
		cur, err := s.Get(ctx, scope, key)
		if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		return s.Set(ctx, scope, key, next)
	})
	return mapSQLiteErr(err)
}

func (s *SQLite) AllChannels(ctx context.Context, key string) (map[int64]json.RawMessage, error) {
	rows, err := s.db.Query(ctx,
		"SELECT scope_id, value FROM config WHERE scope_kind=$1 AND key=$2",
		string(ScopeChannel), key,
	)
	if err != nil {
		return nil, mapSQLiteErr(err)
	}
	defer rows.Close()
	out := make(map[int64]json.RawMessage)
	for rows.Next() {
		var id int64
		var value string
		if err := rows.Scan(&id, &value); err != nil {
			return nil, err
		}
		out[id] = json.RawMessage(value)
	}
	return out, rows.Err()
}
