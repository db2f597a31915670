package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jo-hoe/palettebox/internal/backend/database"
)

// Engine is the only component that mutates characters. Every operation maps to a
// single store transaction; concurrent full edits of one character are last-writer-wins.
type Engine struct {
	store            database.DatabaseService
	validator        *requestValidator
	limits           Limits
	queueBlobCleanup bool
	now              func() time.Time
}

type Option func(*Engine)

func WithLimits(limits Limits) Option {
	return func(e *Engine) { e.limits = limits }
}

// WithBlobCleanup controls whether deletes queue the character's blobs for the sweeper.
// Without it, deleted characters leave their files behind in the blob store.
func WithBlobCleanup(enabled bool) Option {
	return func(e *Engine) { e.queueBlobCleanup = enabled }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store database.DatabaseService, opts ...Option) *Engine {
	e := &Engine{
		store:            store,
		limits:           DefaultLimits(),
		queueBlobCleanup: true,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.validator = newRequestValidator(e.limits)
	return e
}

func (e *Engine) Limits() Limits {
	return e.limits
}

// CreateCharacter records a new submission in PENDING. Images must already be uploaded.
func (e *Engine) CreateCharacter(ctx context.Context, req CreateRequest) (*database.Character, error) {
	if err := e.validator.create(&req); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	character := &database.Character{
		Name:        strings.TrimSpace(req.Name),
		SourceWork:  strings.TrimSpace(req.SourceWork),
		Description: normalizeDescription(req.Description),
		Status:      database.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		Colors:      toColors(req.Colors),
		Images:      toImages(req.Images),
	}

	stored, err := e.store.InsertCharacter(ctx, character)
	if err != nil {
		if verr := filePathConflict(err); verr != nil {
			return nil, verr
		}
		slog.Error("CreateCharacter: failed to persist character", "error", err)
		return nil, &StorageError{Op: "create character", Err: err}
	}
	slog.Info("character submitted",
		"character_id", stored.ID, "colors", len(stored.Colors), "images", len(stored.Images))
	return stored, nil
}

// UpdateStatus approves or rejects a character. It cannot move a character back to
// PENDING; only a full replace does that.
func (e *Engine) UpdateStatus(ctx context.Context, id string, status database.Status) (*database.Character, error) {
	if status != database.StatusApproved && status != database.StatusRejected {
		return nil, &ValidationError{Field: "status", Reason: "must be APPROVED or REJECTED"}
	}

	updated, err := e.store.UpdateStatus(ctx, id, status, e.now().UTC())
	if err != nil {
		return nil, e.mapStoreError("update status", id, err)
	}
	slog.Info("character status changed", "character_id", id, "status", status)
	return updated, nil
}

func (e *Engine) Approve(ctx context.Context, id string) (*database.Character, error) {
	return e.UpdateStatus(ctx, id, database.StatusApproved)
}

func (e *Engine) Reject(ctx context.Context, id string) (*database.Character, error) {
	return e.UpdateStatus(ctx, id, database.StatusRejected)
}

// ReplaceCharacterContent applies either variant of Update.
func (e *Engine) ReplaceCharacterContent(ctx context.Context, id string, update Update) (*database.Character, error) {
	switch u := update.(type) {
	case StatusOnlyUpdate:
		return e.UpdateStatus(ctx, id, u.Status)
	case *StatusOnlyUpdate:
		if u == nil {
			break
		}
		return e.UpdateStatus(ctx, id, u.Status)
	case FullReplace:
		return e.fullReplace(ctx, id, u)
	case *FullReplace:
		if u == nil {
			break
		}
		return e.fullReplace(ctx, id, *u)
	}
	return nil, &ValidationError{Reason: "unsupported update"}
}

func (e *Engine) fullReplace(ctx context.Context, id string, req FullReplace) (*database.Character, error) {
	if err := e.validator.fullReplace(&req); err != nil {
		return nil, err
	}

	status := database.StatusPending
	if req.Status != nil {
		status = *req.Status
	}
	update := database.ContentUpdate{
		Name:          strings.TrimSpace(req.Name),
		SourceWork:    strings.TrimSpace(req.SourceWork),
		Description:   normalizeDescription(req.Description),
		Status:        status,
		ReplaceColors: req.Colors != nil,
		Colors:        toColors(req.Colors),
		ReplaceImages: req.Images != nil,
		Images:        toImages(req.Images),
		QueueBlobs:    e.queueBlobCleanup,
		UpdatedAt:     e.now().UTC(),
	}

	updated, err := e.store.ReplaceContent(ctx, id, update)
	if err != nil {
		return nil, e.mapStoreError("replace character content", id, err)
	}
	slog.Info("character content replaced",
		"character_id", id,
		"status", updated.Status,
		"colors_replaced", update.ReplaceColors,
		"images_replaced", update.ReplaceImages)
	return updated, nil
}

// DeleteCharacter removes a character with its colors and images. With blob cleanup
// enabled the files are queued for the sweeper in the same transaction.
func (e *Engine) DeleteCharacter(ctx context.Context, id string) error {
	images, err := e.store.DeleteCharacter(ctx, id, e.queueBlobCleanup)
	if err != nil {
		return e.mapStoreError("delete character", id, err)
	}
	if len(images) > 0 && !e.queueBlobCleanup {
		slog.Warn("DeleteCharacter: blob cleanup disabled, stored files are now orphaned",
			"character_id", id, "orphaned_files", len(images))
	}
	slog.Info("character deleted", "character_id", id, "images", len(images), "blobs_queued", e.queueBlobCleanup)
	return nil
}

func (e *Engine) GetCharacter(ctx context.Context, id string) (*database.Character, error) {
	character, err := e.store.GetCharacterByID(ctx, id)
	if err != nil {
		return nil, e.mapStoreError("get character", id, err)
	}
	return character, nil
}

// ListByStatus returns hydrated characters with the given status, newest first.
func (e *Engine) ListByStatus(ctx context.Context, status database.Status) ([]*database.Character, error) {
	if !status.IsValid() {
		return nil, &ValidationError{Field: "status", Reason: "must be PENDING, APPROVED or REJECTED"}
	}
	characters, err := e.store.GetCharacters(ctx, &status)
	if err != nil {
		return nil, &StorageError{Op: "list characters", Err: err}
	}
	return characters, nil
}

// ListAll returns every character regardless of status, newest first.
func (e *Engine) ListAll(ctx context.Context) ([]*database.Character, error) {
	characters, err := e.store.GetCharacters(ctx, nil)
	if err != nil {
		return nil, &StorageError{Op: "list characters", Err: err}
	}
	return characters, nil
}

func (e *Engine) mapStoreError(op, id string, err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return &NotFoundError{ID: id}
	}
	if verr := filePathConflict(err); verr != nil {
		return verr
	}
	slog.Error("lifecycle: store operation failed", "op", op, "character_id", id, "error", err)
	return &StorageError{Op: op, Err: err}
}

// filePathConflict converts a store-level path collision into a ValidationError; an
// image belongs to exactly one character.
func filePathConflict(err error) error {
	var inUse *database.FilePathInUseError
	if !errors.As(err, &inUse) {
		return nil
	}
	field := "images"
	if inUse.Index >= 0 {
		field = fmt.Sprintf("images[%d].filePath", inUse.Index)
	}
	return &ValidationError{Field: field, Reason: "is already used by another image"}
}

func normalizeDescription(description *string) *string {
	if description == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*description)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// toColors keeps nil as nil so that callers can tell "absent" from "empty".
func toColors(inputs []ColorInput) []database.Color {
	if inputs == nil {
		return nil
	}
	colors := make([]database.Color, 0, len(inputs))
	for _, in := range inputs {
		var name *string
		if in.Name != nil {
			if trimmed := strings.TrimSpace(*in.Name); trimmed != "" {
				name = &trimmed
			}
		}
		colors = append(colors, database.Color{
			Name: name,
			Hex:  in.Hex,
			RGB:  in.RGB,
		})
	}
	return colors
}

func toImages(inputs []ImageInput) []database.Image {
	if inputs == nil {
		return nil
	}
	images := make([]database.Image, 0, len(inputs))
	for _, in := range inputs {
		images = append(images, database.Image{
			Filename:     in.Filename,
			OriginalName: in.OriginalName,
			FilePath:     in.FilePath,
			FileSize:     in.FileSize,
			MimeType:     NormalizeMimeType(in.MimeType),
		})
	}
	return images
}
