package discovery

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	xerrors "Plugweave/internal/errors"
	"Plugweave/pkg/plugin"
)

// MySQLStore persists the discovery index in MySQL. The schema comes from the
// embedded migration files and is applied on startup, versioned through
// schema_migrations.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore connects to MySQL and runs any pending schema migrations.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN cannot be empty")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "open MySQL connection")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "ping MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.runMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// SaveDescriptor implements Store.
func (s *MySQLStore) SaveDescriptor(ctx context.Context, desc plugin.Descriptor) error {
	if strings.TrimSpace(desc.Identity) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "descriptor identity cannot be empty")
	}
	tags, err := marshalList(desc.Tags)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode descriptor tags")
	}
	inputs, err := marshalList(desc.InputTypes)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode descriptor input types")
	}
	outputs, err := marshalList(desc.OutputTypes)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode descriptor output types")
	}
	collaborators, err := marshalList(desc.CollaboratesWith)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode descriptor collaborators")
	}

	now := time.Now().Unix()
	const stmt = `INSERT INTO plugin_descriptors
        (identity, name, description, version, author, category, tags, input_types, output_types, collaborates_with, chain_priority, auto_chain, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        name = VALUES(name), description = VALUES(description), version = VALUES(version),
        author = VALUES(author), category = VALUES(category), tags = VALUES(tags),
        input_types = VALUES(input_types), output_types = VALUES(output_types),
        collaborates_with = VALUES(collaborates_with), chain_priority = VALUES(chain_priority),
        auto_chain = VALUES(auto_chain), updated_at = VALUES(updated_at)`

	autoChain := 0
	if desc.AutoChainEligible {
		autoChain = 1
	}
	_, err = s.db.ExecContext(ctx, stmt,
		desc.Identity,
		desc.Name,
		desc.Description,
		desc.Version,
		desc.Author,
		string(desc.Category),
		tags,
		inputs,
		outputs,
		collaborators,
		desc.ChainPriority,
		autoChain,
		now,
		now,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "upsert plugin descriptor")
	}
	return nil
}

// ReplaceFragments implements Store. The delete-and-insert pair runs in one
// transaction so a query never observes a half-replaced fragment set.
func (s *MySQLStore) ReplaceFragments(ctx context.Context, identity string, fragments []Fragment) error {
	if strings.TrimSpace(identity) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "identity cannot be empty")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "begin fragment transaction")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM goal_fragments WHERE identity = ?`, identity); err != nil {
		_ = tx.Rollback()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "clear previous fragments")
	}
	now := time.Now().Unix()
	const insert = `INSERT INTO goal_fragments (identity, fragment, relevance, updated_at) VALUES (?, ?, ?, ?)`
	for _, fragment := range fragments {
		if _, err := tx.ExecContext(ctx, insert, identity, fragment.Text, fragment.Relevance, now); err != nil {
			_ = tx.Rollback()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "insert goal fragment")
		}
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "commit fragment transaction")
	}
	return nil
}

// UpsertStats implements Store.
func (s *MySQLStore) UpsertStats(ctx context.Context, identity string, stats UsageStats) error {
	if strings.TrimSpace(identity) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "identity cannot be empty")
	}
	const stmt = `INSERT INTO plugin_usage_stats (identity, usage_count, success_rate, avg_exec_ms, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        usage_count = VALUES(usage_count), success_rate = VALUES(success_rate),
        avg_exec_ms = VALUES(avg_exec_ms), updated_at = VALUES(updated_at)`
	_, err := s.db.ExecContext(ctx, stmt,
		identity,
		stats.UsageCount,
		stats.SuccessRate,
		stats.AvgExecMillis,
		time.Now().Unix(),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "upsert usage stats")
	}
	return nil
}

// LoadAll implements Store.
func (s *MySQLStore) LoadAll(ctx context.Context) (*Snapshot, error) {
	snapshot := &Snapshot{
		Descriptors: make(map[string]plugin.Descriptor),
		Fragments:   make(map[string][]Fragment),
		Stats:       make(map[string]UsageStats),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT identity, name, description, version, author, category,
        tags, input_types, output_types, collaborates_with, chain_priority, auto_chain FROM plugin_descriptors`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load descriptors")
	}
	defer rows.Close()
	for rows.Next() {
		var desc plugin.Descriptor
		var category string
		var tags, inputs, outputs, collaborators sql.NullString
		var autoChain int
		if err := rows.Scan(
			&desc.Identity,
			&desc.Name,
			&desc.Description,
			&desc.Version,
			&desc.Author,
			&category,
			&tags,
			&inputs,
			&outputs,
			&collaborators,
			&desc.ChainPriority,
			&autoChain,
		); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan descriptor row")
		}
		desc.Category = plugin.Category(category)
		desc.AutoChainEligible = autoChain != 0
		if desc.Tags, err = unmarshalList(tags); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode descriptor tags")
		}
		if desc.InputTypes, err = unmarshalList(inputs); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode descriptor input types")
		}
		if desc.OutputTypes, err = unmarshalList(outputs); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode descriptor output types")
		}
		if desc.CollaboratesWith, err = unmarshalList(collaborators); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode descriptor collaborators")
		}
		snapshot.Descriptors[desc.Identity] = desc
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate descriptor rows")
	}

	fragmentRows, err := s.db.QueryContext(ctx, `SELECT identity, fragment, relevance FROM goal_fragments`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load goal fragments")
	}
	defer fragmentRows.Close()
	for fragmentRows.Next() {
		var identity string
		var fragment Fragment
		if err := fragmentRows.Scan(&identity, &fragment.Text, &fragment.Relevance); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan fragment row")
		}
		snapshot.Fragments[identity] = append(snapshot.Fragments[identity], fragment)
	}
	if err := fragmentRows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate fragment rows")
	}

	statsRows, err := s.db.QueryContext(ctx, `SELECT identity, usage_count, success_rate, avg_exec_ms FROM plugin_usage_stats`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load usage stats")
	}
	defer statsRows.Close()
	for statsRows.Next() {
		var identity string
		var stats UsageStats
		if err := statsRows.Scan(&identity, &stats.UsageCount, &stats.SuccessRate, &stats.AvgExecMillis); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan stats row")
		}
		snapshot.Stats[identity] = stats
	}
	if err := statsRows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate stats rows")
	}

	return snapshot, nil
}

// Close releases the connection pool.
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func marshalList(values []string) (sql.NullString, error) {
	if len(values) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func unmarshalList(raw sql.NullString) ([]string, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw.String), &values); err != nil {
		return nil, err
	}
	return values, nil
}

var _ Store = (*MySQLStore)(nil)
