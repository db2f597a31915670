package database

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when an operation targets a character id that does not exist.
var ErrNotFound = errors.New("character not found")

// FilePathInUseError reports an image whose file path is already referenced by another
// image. Index is the position in the submitted set, or -1 when it cannot be told.
type FilePathInUseError struct {
	Index    int
	FilePath string
}

func (e *FilePathInUseError) Error() string {
	if e.FilePath == "" {
		return "image file path is already in use"
	}
	return fmt.Sprintf("image file path %q is already in use", e.FilePath)
}

type DatabaseService interface {
	CreateDatabase(ctx context.Context) error
	DoesDatabaseExist(ctx context.Context) bool
	Close() error

	// InsertCharacter stores the character together with its colors and images in a single
	// transaction. Missing ids are generated and written back into the argument.
	InsertCharacter(ctx context.Context, character *Character) (*Character, error)
	GetCharacterByID(ctx context.Context, id string) (*Character, error)
	// GetCharacters returns hydrated characters ordered by creation time, newest first.
	// A nil status returns every character.
	GetCharacters(ctx context.Context, status *Status) ([]*Character, error)
	UpdateStatus(ctx context.Context, id string, status Status, updatedAt time.Time) (*Character, error)
	// ReplaceContent applies a full-content edit. Colors and images are replaced as whole
	// sets inside the same transaction as the scalar update. With update.QueueBlobs set,
	// the file paths dropped from the image set are queued for deletion.
	ReplaceContent(ctx context.Context, id string, update ContentUpdate) (*Character, error)
	// DeleteCharacter removes the character; colors and images cascade. When queueBlobs is
	// set, a BlobDeletion is recorded in the same transaction for every image path that no
	// remaining image references.
	DeleteCharacter(ctx context.Context, id string, queueBlobs bool) ([]Image, error)

	// IsFilePathReferenced reports whether any image still points at filePath.
	IsFilePathReferenced(ctx context.Context, filePath string) (bool, error)
	GetPendingBlobDeletions(ctx context.Context, limit int) ([]BlobDeletion, error)
	CompleteBlobDeletion(ctx context.Context, id string) error
	FailBlobDeletion(ctx context.Context, id string, reason string) error
}

// checkDuplicatePaths reports the first image that repeats a path used earlier in the same set.
func checkDuplicatePaths(images []Image) error {
	seen := make(map[string]struct{}, len(images))
	for i, img := range images {
		if _, ok := seen[img.FilePath]; ok {
			return &FilePathInUseError{Index: i, FilePath: img.FilePath}
		}
		seen[img.FilePath] = struct{}{}
	}
	return nil
}

func imagePaths(images []Image) []string {
	paths := make([]string, 0, len(images))
	for _, img := range images {
		if img.FilePath != "" {
			paths = append(paths, img.FilePath)
		}
	}
	return paths
}
