package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PostgresDatabase stores characters in PostgreSQL through GORM.
type PostgresDatabase struct {
	db *gorm.DB
}

func NewPostgresDatabase(dsn string) (DatabaseService, error) {
	if dsn == "" {
		return nil, errors.New("database DSN is not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	return &PostgresDatabase{db: db}, nil
}

func (p *PostgresDatabase) CreateDatabase(ctx context.Context) error {
	if err := p.db.WithContext(ctx).AutoMigrate(&Character{}, &Color{}, &Image{}, &BlobDeletion{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func (p *PostgresDatabase) DoesDatabaseExist(ctx context.Context) bool {
	sqlDB, err := p.db.DB()
	if err != nil {
		return false
	}
	return sqlDB.PingContext(ctx) == nil
}

func (p *PostgresDatabase) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *PostgresDatabase) InsertCharacter(ctx context.Context, character *Character) (*Character, error) {
	if err := assignIDs(character); err != nil {
		return nil, fmt.Errorf("generate ids: %w", err)
	}

	var stored *Character
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := claimFilePathsGorm(tx, character.Images); err != nil {
			return err
		}
		// associations are created by GORM in the same transaction
		if err := tx.Create(character).Error; err != nil {
			return translateWriteError("insert character", err)
		}
		var err error
		stored, err = preloadCharacter(tx, character.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (p *PostgresDatabase) GetCharacterByID(ctx context.Context, id string) (*Character, error) {
	return preloadCharacter(p.db.WithContext(ctx), id)
}

func (p *PostgresDatabase) GetCharacters(ctx context.Context, status *Status) ([]*Character, error) {
	query := withChildren(p.db.WithContext(ctx)).Order("created_at DESC").Order("seq DESC")
	if status != nil {
		query = query.Where("status = ?", *status)
	}

	var characters []*Character
	if err := query.Find(&characters).Error; err != nil {
		return nil, fmt.Errorf("query characters: %w", err)
	}
	for _, c := range characters {
		normalizeChildren(c)
	}
	return characters, nil
}

func (p *PostgresDatabase) UpdateStatus(ctx context.Context, id string, status Status, updatedAt time.Time) (*Character, error) {
	var updated *Character
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Character{}).Where("id = ?", id).Updates(map[string]any{
			"status":     status,
			"updated_at": updatedAt.UTC(),
		})
		if res.Error != nil {
			return fmt.Errorf("update status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		var err error
		updated, err = preloadCharacter(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (p *PostgresDatabase) ReplaceContent(ctx context.Context, id string, update ContentUpdate) (*Character, error) {
	var updated *Character
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Character{}).Where("id = ?", id).Updates(map[string]any{
			"name":        update.Name,
			"source_work": update.SourceWork,
			"description": update.Description,
			"status":      update.Status,
			"updated_at":  update.UpdatedAt.UTC(),
		})
		if res.Error != nil {
			return fmt.Errorf("update character: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		if update.ReplaceColors {
			if err := tx.Where("character_id = ?", id).Delete(&Color{}).Error; err != nil {
				return fmt.Errorf("delete colors: %w", err)
			}
			if err := prepareColors(id, update.Colors); err != nil {
				return fmt.Errorf("generate color ids: %w", err)
			}
			if len(update.Colors) > 0 {
				if err := tx.Create(&update.Colors).Error; err != nil {
					return fmt.Errorf("insert colors: %w", err)
				}
			}
		}
		if update.ReplaceImages {
			var previous []Image
			if err := tx.Where("character_id = ?", id).Find(&previous).Error; err != nil {
				return fmt.Errorf("query images: %w", err)
			}
			if err := tx.Where("character_id = ?", id).Delete(&Image{}).Error; err != nil {
				return fmt.Errorf("delete images: %w", err)
			}
			if err := prepareImages(id, update.Images); err != nil {
				return fmt.Errorf("generate image ids: %w", err)
			}
			if err := claimFilePathsGorm(tx, update.Images); err != nil {
				return err
			}
			if len(update.Images) > 0 {
				if err := tx.Create(&update.Images).Error; err != nil {
					return translateWriteError("insert images", err)
				}
			}
			if update.QueueBlobs {
				if err := queueBlobDeletionsGorm(tx, id, imagePaths(previous)); err != nil {
					return err
				}
			}
		}

		var err error
		updated, err = preloadCharacter(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (p *PostgresDatabase) DeleteCharacter(ctx context.Context, id string, queueBlobs bool) ([]Image, error) {
	var images []Image
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("character_id = ?", id).Order("position").Find(&images).Error; err != nil {
			return fmt.Errorf("query images: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&Character{})
		if res.Error != nil {
			return fmt.Errorf("delete character: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		if !queueBlobs {
			return nil
		}
		return queueBlobDeletionsGorm(tx, id, imagePaths(images))
	})
	if err != nil {
		return nil, err
	}
	return images, nil
}

func (p *PostgresDatabase) IsFilePathReferenced(ctx context.Context, filePath string) (bool, error) {
	return filePathReferencedGorm(p.db.WithContext(ctx), filePath)
}

func (p *PostgresDatabase) GetPendingBlobDeletions(ctx context.Context, limit int) ([]BlobDeletion, error) {
	if limit <= 0 {
		limit = 100
	}
	var deletions []BlobDeletion
	err := p.db.WithContext(ctx).Order("attempts").Order("requested_at").Order("id").Limit(limit).Find(&deletions).Error
	if err != nil {
		return nil, fmt.Errorf("query blob deletions: %w", err)
	}
	return deletions, nil
}

func (p *PostgresDatabase) CompleteBlobDeletion(ctx context.Context, id string) error {
	if err := p.db.WithContext(ctx).Where("id = ?", id).Delete(&BlobDeletion{}).Error; err != nil {
		return fmt.Errorf("complete blob deletion: %w", err)
	}
	return nil
}

func (p *PostgresDatabase) FailBlobDeletion(ctx context.Context, id string, reason string) error {
	err := p.db.WithContext(ctx).Model(&BlobDeletion{}).Where("id = ?", id).Updates(map[string]any{
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": reason,
	}).Error
	if err != nil {
		return fmt.Errorf("record blob deletion failure: %w", err)
	}
	return nil
}

func claimFilePathsGorm(tx *gorm.DB, images []Image) error {
	if err := checkDuplicatePaths(images); err != nil {
		return err
	}
	for i, img := range images {
		used, err := filePathReferencedGorm(tx, img.FilePath)
		if err != nil {
			return err
		}
		if used {
			return &FilePathInUseError{Index: i, FilePath: img.FilePath}
		}
	}
	return nil
}

func filePathReferencedGorm(db *gorm.DB, filePath string) (bool, error) {
	var count int64
	if err := db.Model(&Image{}).Where("file_path = ?", filePath).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check image file path: %w", err)
	}
	return count > 0, nil
}

func queueBlobDeletionsGorm(tx *gorm.DB, characterID string, paths []string) error {
	now := time.Now().UTC()
	for _, path := range paths {
		deletionID, err := generateID()
		if err != nil {
			return fmt.Errorf("generate blob deletion id: %w", err)
		}
		err = tx.Exec(`INSERT INTO blob_deletions (id, character_id, file_path, requested_at, attempts)
			SELECT ?, ?, ?, ?, 0 WHERE NOT EXISTS (SELECT 1 FROM images WHERE file_path = ?)`,
			deletionID, characterID, path, now, path).Error
		if err != nil {
			return fmt.Errorf("queue blob deletion: %w", err)
		}
	}
	return nil
}

// translateWriteError turns a unique violation, which only images.file_path can raise
// for generated ids, into FilePathInUseError.
func translateWriteError(op string, err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &FilePathInUseError{Index: -1}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func withChildren(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Colors", func(tx *gorm.DB) *gorm.DB { return tx.Order("position") }).
		Preload("Images", func(tx *gorm.DB) *gorm.DB { return tx.Order("position") })
}

func preloadCharacter(db *gorm.DB, id string) (*Character, error) {
	var character Character
	if err := withChildren(db).First(&character, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query character: %w", err)
	}
	normalizeChildren(&character)
	return &character, nil
}

func normalizeChildren(c *Character) {
	if c.Colors == nil {
		c.Colors = []Color{}
	}
	if c.Images == nil {
		c.Images = []Image{}
	}
}
