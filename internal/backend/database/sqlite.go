package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// fixed-width so that lexical order of the stored text equals chronological order
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS characters (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		source_work TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL CHECK (status IN ('PENDING', 'APPROVED', 'REJECTED')),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_characters_status_created ON characters (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS colors (
		id TEXT PRIMARY KEY,
		character_id TEXT NOT NULL REFERENCES characters (id) ON DELETE CASCADE,
		name TEXT,
		hex TEXT NOT NULL,
		rgb TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_colors_character ON colors (character_id)`,
	`CREATE TABLE IF NOT EXISTS images (
		id TEXT PRIMARY KEY,
		character_id TEXT NOT NULL REFERENCES characters (id) ON DELETE CASCADE,
		filename TEXT NOT NULL,
		original_name TEXT NOT NULL,
		file_path TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		mime_type TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_images_character ON images (character_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_images_file_path ON images (file_path)`,
	`CREATE TABLE IF NOT EXISTS blob_deletions (
		id TEXT PRIMARY KEY,
		character_id TEXT NOT NULL,
		file_path TEXT NOT NULL,
		requested_at TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type SQLiteDatabase struct {
	db               *sql.DB
	connectionString string
}

func NewSQLiteDatabase(connectionString string) (DatabaseService, error) {
	db, err := sql.Open("sqlite", connectionString)
	if err != nil {
		return nil, err
	}

	// One connection: in-memory databases are per connection, and SQLite allows a
	// single writer anyway.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	return &SQLiteDatabase{
		db:               db,
		connectionString: connectionString,
	}, nil
}

func (s *SQLiteDatabase) CreateDatabase(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range sqliteSchema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteDatabase) DoesDatabaseExist(ctx context.Context) bool {
	// In SQLite, the database file is created when you connect to it.
	// So we can assume it exists if we can successfully ping the database.
	err := s.db.PingContext(ctx)
	return err == nil
}

func (s *SQLiteDatabase) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) InsertCharacter(ctx context.Context, character *Character) (*Character, error) {
	if err := assignIDs(character); err != nil {
		return nil, fmt.Errorf("generate ids: %w", err)
	}

	var stored *Character
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO characters (id, name, source_work, description, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			character.ID, character.Name, character.SourceWork, nullString(character.Description),
			string(character.Status), formatTime(character.CreatedAt), formatTime(character.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert character: %w", err)
		}
		if err := insertColors(ctx, tx, character.Colors); err != nil {
			return err
		}
		if err := claimFilePaths(ctx, tx, character.Images); err != nil {
			return err
		}
		if err := insertImages(ctx, tx, character.Images); err != nil {
			return err
		}
		stored, err = loadCharacter(ctx, tx, character.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *SQLiteDatabase) GetCharacterByID(ctx context.Context, id string) (*Character, error) {
	return loadCharacter(ctx, s.db, id)
}

func (s *SQLiteDatabase) GetCharacters(ctx context.Context, status *Status) ([]*Character, error) {
	query := `SELECT id, name, source_work, description, status, created_at, updated_at FROM characters`
	childFilter := ""
	var args []any
	if status != nil {
		query += ` WHERE status = ?`
		childFilter = `character_id IN (SELECT id FROM characters WHERE status = ?)`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	characters, err := scanCharacters(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}
	if err := hydrate(ctx, s.db, characters, childFilter, args...); err != nil {
		return nil, err
	}
	return characters, nil
}

func (s *SQLiteDatabase) UpdateStatus(ctx context.Context, id string, status Status, updatedAt time.Time) (*Character, error) {
	var updated *Character
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE characters SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), formatTime(updatedAt), id)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		if err := requireAffected(res); err != nil {
			return err
		}
		updated, err = loadCharacter(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *SQLiteDatabase) ReplaceContent(ctx context.Context, id string, update ContentUpdate) (*Character, error) {
	var updated *Character
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE characters SET name = ?, source_work = ?, description = ?, status = ?, updated_at = ? WHERE id = ?`,
			update.Name, update.SourceWork, nullString(update.Description), string(update.Status), formatTime(update.UpdatedAt), id)
		if err != nil {
			return fmt.Errorf("update character: %w", err)
		}
		if err := requireAffected(res); err != nil {
			return err
		}

		if update.ReplaceColors {
			if _, err := tx.ExecContext(ctx, `DELETE FROM colors WHERE character_id = ?`, id); err != nil {
				return fmt.Errorf("delete colors: %w", err)
			}
			if err := prepareColors(id, update.Colors); err != nil {
				return fmt.Errorf("generate color ids: %w", err)
			}
			if err := insertColors(ctx, tx, update.Colors); err != nil {
				return err
			}
		}
		if update.ReplaceImages {
			previous, err := scanImages(ctx, tx, `SELECT id, character_id, filename, original_name, file_path, file_size, mime_type, position
				FROM images WHERE character_id = ?`, id)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM images WHERE character_id = ?`, id); err != nil {
				return fmt.Errorf("delete images: %w", err)
			}
			if err := prepareImages(id, update.Images); err != nil {
				return fmt.Errorf("generate image ids: %w", err)
			}
			if err := claimFilePaths(ctx, tx, update.Images); err != nil {
				return err
			}
			if err := insertImages(ctx, tx, update.Images); err != nil {
				return err
			}
			if update.QueueBlobs {
				if err := queueBlobDeletions(ctx, tx, id, imagePaths(previous)); err != nil {
					return err
				}
			}
		}

		updated, err = loadCharacter(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *SQLiteDatabase) DeleteCharacter(ctx context.Context, id string, queueBlobs bool) ([]Image, error) {
	var images []Image
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		images, err = scanImages(ctx, tx, `SELECT id, character_id, filename, original_name, file_path, file_size, mime_type, position
			FROM images WHERE character_id = ? ORDER BY position`, id)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM characters WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete character: %w", err)
		}
		if err := requireAffected(res); err != nil {
			return err
		}

		if !queueBlobs {
			return nil
		}
		return queueBlobDeletions(ctx, tx, id, imagePaths(images))
	})
	if err != nil {
		return nil, err
	}
	return images, nil
}

func (s *SQLiteDatabase) IsFilePathReferenced(ctx context.Context, filePath string) (bool, error) {
	return filePathReferenced(ctx, s.db, filePath)
}

func (s *SQLiteDatabase) GetPendingBlobDeletions(ctx context.Context, limit int) ([]BlobDeletion, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, character_id, file_path, requested_at, attempts, last_error
		 FROM blob_deletions ORDER BY attempts, requested_at, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query blob deletions: %w", err)
	}
	defer func() {
		_ = rows.Close() // Explicitly ignore error as we're already returning an error from the function
	}()

	var deletions []BlobDeletion
	for rows.Next() {
		var d BlobDeletion
		var requestedAt string
		if err := rows.Scan(&d.ID, &d.CharacterID, &d.FilePath, &requestedAt, &d.Attempts, &d.LastError); err != nil {
			return nil, fmt.Errorf("scan blob deletion: %w", err)
		}
		if d.RequestedAt, err = parseTime(requestedAt); err != nil {
			return nil, err
		}
		deletions = append(deletions, d)
	}
	return deletions, rows.Err()
}

func (s *SQLiteDatabase) CompleteBlobDeletion(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blob_deletions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("complete blob deletion: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) FailBlobDeletion(ctx context.Context, id string, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE blob_deletions SET attempts = attempts + 1, last_error = ? WHERE id = ?`, reason, id)
	if err != nil {
		return fmt.Errorf("record blob deletion failure: %w", err)
	}
	return nil
}

func insertColors(ctx context.Context, q queryer, colors []Color) error {
	for _, c := range colors {
		_, err := q.ExecContext(ctx,
			`INSERT INTO colors (id, character_id, name, hex, rgb, position) VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.CharacterID, nullString(c.Name), c.Hex, c.RGB, c.Position)
		if err != nil {
			return fmt.Errorf("insert color: %w", err)
		}
	}
	return nil
}

// claimFilePaths fails when an image path repeats within the set or is already used by a
// stored image. Call it after the character's own previous images are removed.
func claimFilePaths(ctx context.Context, q queryer, images []Image) error {
	if err := checkDuplicatePaths(images); err != nil {
		return err
	}
	for i, img := range images {
		used, err := filePathReferenced(ctx, q, img.FilePath)
		if err != nil {
			return err
		}
		if used {
			return &FilePathInUseError{Index: i, FilePath: img.FilePath}
		}
	}
	return nil
}

func filePathReferenced(ctx context.Context, q queryer, filePath string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM images WHERE file_path = ?)`, filePath).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check image file path: %w", err)
	}
	return exists, nil
}

// queueBlobDeletions records a deletion for every path that no image references any more.
func queueBlobDeletions(ctx context.Context, q queryer, characterID string, paths []string) error {
	now := formatTime(time.Now())
	for _, path := range paths {
		deletionID, err := generateID()
		if err != nil {
			return fmt.Errorf("generate blob deletion id: %w", err)
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO blob_deletions (id, character_id, file_path, requested_at)
			 SELECT ?, ?, ?, ? WHERE NOT EXISTS (SELECT 1 FROM images WHERE file_path = ?)`,
			deletionID, characterID, path, now, path); err != nil {
			return fmt.Errorf("queue blob deletion: %w", err)
		}
	}
	return nil
}

func insertImages(ctx context.Context, q queryer, images []Image) error {
	for _, img := range images {
		_, err := q.ExecContext(ctx,
			`INSERT INTO images (id, character_id, filename, original_name, file_path, file_size, mime_type, position)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			img.ID, img.CharacterID, img.Filename, img.OriginalName, img.FilePath, img.FileSize, img.MimeType, img.Position)
		if err != nil {
			return fmt.Errorf("insert image: %w", err)
		}
	}
	return nil
}

func loadCharacter(ctx context.Context, q queryer, id string) (*Character, error) {
	characters, err := scanCharacters(ctx, q,
		`SELECT id, name, source_work, description, status, created_at, updated_at FROM characters WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(characters) == 0 {
		return nil, ErrNotFound
	}
	if err := hydrate(ctx, q, characters, `character_id = ?`, id); err != nil {
		return nil, err
	}
	return characters[0], nil
}

// scanCharacters reads every row before returning; the single pooled connection must be
// free again before children are queried.
func scanCharacters(ctx context.Context, q queryer, query string, args ...any) ([]*Character, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query characters: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var characters []*Character
	for rows.Next() {
		var c Character
		var status, createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.Name, &c.SourceWork, &c.Description, &status, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan character: %w", err)
		}
		c.Status = Status(status)
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		c.Colors = []Color{}
		c.Images = []Image{}
		characters = append(characters, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate characters: %w", err)
	}
	return characters, nil
}

// hydrate attaches colors and images to the given characters. filter restricts the
// child rows that are read; an empty filter reads all of them.
func hydrate(ctx context.Context, q queryer, characters []*Character, filter string, args ...any) error {
	if len(characters) == 0 {
		return nil
	}
	byID := make(map[string]*Character, len(characters))
	for _, c := range characters {
		byID[c.ID] = c
	}
	where := ""
	if filter != "" {
		where = " WHERE " + filter
	}

	colors, err := scanColors(ctx, q,
		`SELECT id, character_id, name, hex, rgb, position FROM colors`+where+` ORDER BY character_id, position`, args...)
	if err != nil {
		return err
	}
	for _, c := range colors {
		if owner, ok := byID[c.CharacterID]; ok {
			owner.Colors = append(owner.Colors, c)
		}
	}

	images, err := scanImages(ctx, q,
		`SELECT id, character_id, filename, original_name, file_path, file_size, mime_type, position FROM images`+where+` ORDER BY character_id, position`, args...)
	if err != nil {
		return err
	}
	for _, img := range images {
		if owner, ok := byID[img.CharacterID]; ok {
			owner.Images = append(owner.Images, img)
		}
	}
	return nil
}

func scanColors(ctx context.Context, q queryer, query string, args ...any) ([]Color, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query colors: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var colors []Color
	for rows.Next() {
		var c Color
		if err := rows.Scan(&c.ID, &c.CharacterID, &c.Name, &c.Hex, &c.RGB, &c.Position); err != nil {
			return nil, fmt.Errorf("scan color: %w", err)
		}
		colors = append(colors, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate colors: %w", err)
	}
	return colors, nil
}

func scanImages(ctx context.Context, q queryer, query string, args ...any) ([]Image, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var images []Image
	for rows.Next() {
		var img Image
		if err := rows.Scan(&img.ID, &img.CharacterID, &img.Filename, &img.OriginalName, &img.FilePath, &img.FileSize, &img.MimeType, &img.Position); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate images: %w", err)
	}
	return images, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return t, nil
}

// nullString hands optional text to the driver as NULL or a plain string.
func nullString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
