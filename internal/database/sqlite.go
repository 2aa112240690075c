package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"chanrelay/internal/migrations"
	"chanrelay/internal/models"
	"chanrelay/internal/security"
	"chanrelay/pkg/constants"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the default watermark store backend.
type SQLiteStore struct {
	db  *sql.DB
	enc *encryptor
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	// Validate database path to prevent directory traversal
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, constants.DefaultDirectoryPermissions); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, constants.DefaultFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to read schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	enc, err := newEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &SQLiteStore{db: db, enc: enc}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetWatermark(ctx context.Context, channelID string) (*models.Watermark, error) {
	hash := s.enc.HashForLookup(channelID)
	wm := models.NewWatermark(channelID)

	var existing string
	err := s.db.QueryRowContext(ctx, SelectChannelQuery, hash).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		wm.Initialized = false
	case err != nil:
		return nil, fmt.Errorf("failed to query channel state: %w", err)
	default:
		wm.Initialized = true
	}

	rows, err := s.db.QueryContext(ctx, SelectForwardedQuery, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to query forwarded messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan forwarded message: %w", err)
		}
		wm.Add(id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate forwarded messages: %w", err)
	}

	return wm, nil
}

func (s *SQLiteStore) CommitForwarded(ctx context.Context, channelID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	hash := s.enc.HashForLookup(channelID)

	return retryableDBOperation(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, InsertForwardedQuery, hash, id); err != nil {
				return fmt.Errorf("failed to insert forwarded id: %w", err)
			}
		}

		return tx.Commit()
	}, "commit forwarded")
}

func (s *SQLiteStore) MarkChannelInitialized(ctx context.Context, channelID string, baselineIDs []string) error {
	hash := s.enc.HashForLookup(channelID)
	encryptedID, err := s.enc.EncryptIfEnabled(channelID)
	if err != nil {
		return fmt.Errorf("failed to encrypt channel id: %w", err)
	}

	return retryableDBOperation(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, InsertChannelQuery, encryptedID, hash); err != nil {
			return fmt.Errorf("failed to insert channel: %w", err)
		}

		for _, id := range baselineIDs {
			if _, err := tx.ExecContext(ctx, InsertForwardedQuery, hash, id); err != nil {
				return fmt.Errorf("failed to insert baseline id: %w", err)
			}
		}

		return tx.Commit()
	}, "mark channel initialized")
}

func (s *SQLiteStore) ResetChannel(ctx context.Context, channelID string) error {
	hash := s.enc.HashForLookup(channelID)

	return retryableDBOperation(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, DeleteForwardedByChannelQuery, hash); err != nil {
			return fmt.Errorf("failed to delete forwarded messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, DeleteChannelQuery, hash); err != nil {
			return fmt.Errorf("failed to delete channel: %w", err)
		}

		return tx.Commit()
	}, "reset channel")
}

func (s *SQLiteStore) CompactWatermarks(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}

	rows, err := s.db.QueryContext(ctx, SelectChannelHashesQuery)
	if err != nil {
		return fmt.Errorf("failed to query channels: %w", err)
	}

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan channel hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to iterate channels: %w", err)
	}
	rows.Close()

	for _, hash := range hashes {
		maxID, err := s.maxForwardedID(ctx, hash)
		if err != nil {
			return err
		}
		if maxID == "" {
			continue
		}
		// The maximum id is always retained so the watermark floor survives
		// compaction.
		if _, err := s.db.ExecContext(ctx, DeleteOldForwardedQuery, hash, maxID, retentionDays); err != nil {
			return fmt.Errorf("failed to compact watermark: %w", err)
		}
	}

	return nil
}

func (s *SQLiteStore) maxForwardedID(ctx context.Context, channelHash string) (string, error) {
	rows, err := s.db.QueryContext(ctx, SelectForwardedQuery, channelHash)
	if err != nil {
		return "", fmt.Errorf("failed to query forwarded messages: %w", err)
	}
	defer rows.Close()

	var maxID string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("failed to scan forwarded message: %w", err)
		}
		if maxID == "" || models.CompareMessageIDs(id, maxID) > 0 {
			maxID = id
		}
	}
	return maxID, rows.Err()
}
