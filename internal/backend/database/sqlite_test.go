package database

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestDB(t *testing.T) DatabaseService {
	t.Helper()

	ds, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteDatabase error: %v", err)
	}
	if err := ds.CreateDatabase(context.Background()); err != nil {
		t.Fatalf("CreateDatabase error: %v", err)
	}
	t.Cleanup(func() { _ = ds.Close() })
	return ds
}

func strPtr(s string) *string { return &s }

func newCharacter(name string, createdAt time.Time) *Character {
	return &Character{
		Name:        name,
		SourceWork:  "Evangelion",
		Description: strPtr("pilot"),
		Status:      StatusPending,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
		Colors: []Color{
			{Name: strPtr("red"), Hex: "#FF0000", RGB: "rgb(255, 0, 0)"},
			{Hex: "#0000FF", RGB: "rgb(0, 0, 255)"},
		},
		Images: []Image{
			{Filename: name + ".png", OriginalName: "a.png", FilePath: "/uploads/" + name + ".png", FileSize: 10, MimeType: "image/png"},
		},
	}
}

func TestSQLite_DoesDatabaseExist(t *testing.T) {
	ds := newTestDB(t)
	if !ds.DoesDatabaseExist(context.Background()) {
		t.Fatalf("expected DoesDatabaseExist to return true")
	}
}

func TestSQLite_CreateDatabase_Idempotent(t *testing.T) {
	ds := newTestDB(t)
	if err := ds.CreateDatabase(context.Background()); err != nil {
		t.Fatalf("second CreateDatabase error: %v", err)
	}
}

func TestSQLite_InsertCharacter_Hydrated(t *testing.T) {
	ds := newTestDB(t)
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 12, 0, 0, 123, time.UTC)

	stored, err := ds.InsertCharacter(ctx, newCharacter("Asuka", created))
	if err != nil {
		t.Fatalf("InsertCharacter error: %v", err)
	}
	if stored.ID == "" {
		t.Fatalf("expected generated id")
	}
	if !stored.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", stored.CreatedAt, created)
	}
	if stored.Description == nil || *stored.Description != "pilot" {
		t.Errorf("Description = %v, want pilot", stored.Description)
	}
	if len(stored.Colors) != 2 {
		t.Fatalf("expected 2 colors, got %d", len(stored.Colors))
	}
	if stored.Colors[0].Hex != "#FF0000" || stored.Colors[1].Hex != "#0000FF" {
		t.Errorf("colors out of order: %+v", stored.Colors)
	}
	if stored.Colors[0].Name == nil || *stored.Colors[0].Name != "red" {
		t.Errorf("first color name = %v, want red", stored.Colors[0].Name)
	}
	if stored.Colors[1].Name != nil {
		t.Errorf("second color name = %v, want nil", *stored.Colors[1].Name)
	}
	if len(stored.Images) != 1 || stored.Images[0].FileSize != 10 {
		t.Errorf("unexpected images: %+v", stored.Images)
	}
}

func TestSQLite_GetCharacterByID_NotFound(t *testing.T) {
	ds := newTestDB(t)
	_, err := ds.GetCharacterByID(context.Background(), "non-existent-id")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLite_GetCharacters_OrderAndFilter(t *testing.T) {
	ds := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	older, err := ds.InsertCharacter(ctx, newCharacter("older", base))
	if err != nil {
		t.Fatalf("InsertCharacter #1 error: %v", err)
	}
	newer, err := ds.InsertCharacter(ctx, newCharacter("newer", base.Add(time.Second)))
	if err != nil {
		t.Fatalf("InsertCharacter #2 error: %v", err)
	}
	if _, err := ds.UpdateStatus(ctx, older.ID, StatusApproved, base.Add(time.Minute)); err != nil {
		t.Fatalf("UpdateStatus error: %v", err)
	}

	all, err := ds.GetCharacters(ctx, nil)
	if err != nil {
		t.Fatalf("GetCharacters(nil) error: %v", err)
	}
	if len(all) != 2 || all[0].ID != newer.ID || all[1].ID != older.ID {
		t.Fatalf("expected newest first, got %v", ids(all))
	}
	for i, c := range all {
		if len(c.Colors) != 2 || len(c.Images) != 1 {
			t.Errorf("character[%d] not hydrated: %d colors, %d images", i, len(c.Colors), len(c.Images))
		}
	}

	approved := StatusApproved
	onlyApproved, err := ds.GetCharacters(ctx, &approved)
	if err != nil {
		t.Fatalf("GetCharacters(APPROVED) error: %v", err)
	}
	if len(onlyApproved) != 1 || onlyApproved[0].ID != older.ID {
		t.Fatalf("expected only %s, got %v", older.ID, ids(onlyApproved))
	}
	if len(onlyApproved[0].Colors) != 2 {
		t.Errorf("filtered character not hydrated")
	}
}

func TestSQLite_ReplaceContent_ReplacesOnlyFlaggedSets(t *testing.T) {
	ds := newTestDB(t)
	ctx := context.Background()
	stored, err := ds.InsertCharacter(ctx, newCharacter("Asuka", time.Now()))
	if err != nil {
		t.Fatalf("InsertCharacter error: %v", err)
	}
	oldImageID := stored.Images[0].ID

	updated, err := ds.ReplaceContent(ctx, stored.ID, ContentUpdate{
		Name:          "Asuka Langley",
		SourceWork:    "Evangelion",
		Status:        StatusPending,
		ReplaceColors: true,
		Colors:        []Color{{Hex: "#00FF00", RGB: "rgb(0, 255, 0)"}},
		UpdatedAt:     time.Now(),
	})
	if err != nil {
		t.Fatalf("ReplaceContent error: %v", err)
	}
	if updated.Name != "Asuka Langley" {
		t.Errorf("Name = %q", updated.Name)
	}
	if updated.Description != nil {
		t.Errorf("Description should be cleared, got %q", *updated.Description)
	}
	if len(updated.Colors) != 1 || updated.Colors[0].Hex != "#00FF00" {
		t.Fatalf("colors not replaced: %+v", updated.Colors)
	}
	for _, old := range stored.Colors {
		if updated.Colors[0].ID == old.ID {
			t.Errorf("old color id %s still present", old.ID)
		}
	}
	if len(updated.Images) != 1 || updated.Images[0].ID != oldImageID {
		t.Errorf("images should be untouched: %+v", updated.Images)
	}
}

func TestSQLite_ReplaceContent_NotFoundRollsBack(t *testing.T) {
	ds := newTestDB(t)
	_, err := ds.ReplaceContent(context.Background(), "missing", ContentUpdate{
		Name: "x", SourceWork: "y", Status: StatusPending, ReplaceColors: true,
		Colors: []Color{{Hex: "#000000", RGB: "rgb(0, 0, 0)"}},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLite_UpdateStatus_NotFound(t *testing.T) {
	ds := newTestDB(t)
	_, err := ds.UpdateStatus(context.Background(), "missing", StatusApproved, time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLite_DeleteCharacter_CascadesAndQueuesBlobs(t *testing.T) {
	ds := newTestDB(t)
	ctx := context.Background()
	stored, err := ds.InsertCharacter(ctx, newCharacter("Rei", time.Now()))
	if err != nil {
		t.Fatalf("InsertCharacter error: %v", err)
	}
	keep, err := ds.InsertCharacter(ctx, newCharacter("Shinji", time.Now()))
	if err != nil {
		t.Fatalf("InsertCharacter error: %v", err)
	}

	images, err := ds.DeleteCharacter(ctx, stored.ID, true)
	if err != nil {
		t.Fatalf("DeleteCharacter error: %v", err)
	}
	if len(images) != 1 {
		t.Fatalf("expected deleted images to be returned, got %d", len(images))
	}

	if _, err := ds.GetCharacterByID(ctx, stored.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted character to be gone, got %v", err)
	}
	remaining, err := ds.GetCharacterByID(ctx, keep.ID)
	if err != nil {
		t.Fatalf("GetCharacterByID(keep) error: %v", err)
	}
	if len(remaining.Colors) != 2 {
		t.Errorf("unrelated character lost colors")
	}

	sqlite := ds.(*SQLiteDatabase)
	var orphanColors int
	if err := sqlite.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM colors WHERE character_id = ?`, stored.ID).Scan(&orphanColors); err != nil {
		t.Fatalf("count colors error: %v", err)
	}
	if orphanColors != 0 {
		t.Errorf("expected colors to cascade, found %d", orphanColors)
	}

	pending, err := ds.GetPendingBlobDeletions(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingBlobDeletions error: %v", err)
	}
	if len(pending) != 1 || pending[0].FilePath != "/uploads/Rei.png" {
		t.Fatalf("unexpected pending deletions: %+v", pending)
	}

	if err := ds.FailBlobDeletion(ctx, pending[0].ID, "disk busy"); err != nil {
		t.Fatalf("FailBlobDeletion error: %v", err)
	}
	pending, _ = ds.GetPendingBlobDeletions(ctx, 10)
	if pending[0].Attempts != 1 || pending[0].LastError == nil || *pending[0].LastError != "disk busy" {
		t.Errorf("failure not recorded: %+v", pending[0])
	}

	if err := ds.CompleteBlobDeletion(ctx, pending[0].ID); err != nil {
		t.Fatalf("CompleteBlobDeletion error: %v", err)
	}
	pending, _ = ds.GetPendingBlobDeletions(ctx, 10)
	if len(pending) != 0 {
		t.Errorf("expected empty queue, got %d", len(pending))
	}
}

func TestSQLite_DeleteCharacter_WithoutQueue(t *testing.T) {
	ds := newTestDB(t)
	ctx := context.Background()
	stored, err := ds.InsertCharacter(ctx, newCharacter("Misato", time.Now()))
	if err != nil {
		t.Fatalf("InsertCharacter error: %v", err)
	}
	if _, err := ds.DeleteCharacter(ctx, stored.ID, false); err != nil {
		t.Fatalf("DeleteCharacter error: %v", err)
	}
	pending, err := ds.GetPendingBlobDeletions(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingBlobDeletions error: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected nothing queued, got %d", len(pending))
	}
}

func TestSQLite_DeleteCharacter_NotFound(t *testing.T) {
	ds := newTestDB(t)
	_, err := ds.DeleteCharacter(context.Background(), "missing", true)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLite_InsertCharacter_RejectsSharedFilePath(t *testing.T) {
	ds := newTestDB(t)
	ctx := context.Background()
	if _, err := ds.InsertCharacter(ctx, newCharacter("Asuka", time.Now())); err != nil {
		t.Fatalf("InsertCharacter error: %v", err)
	}

	spam := newCharacter("Spam", time.Now())
	spam.Images[0].FilePath = "/uploads/Asuka.png"
	_, err := ds.InsertCharacter(ctx, spam)
	var inUse *FilePathInUseError
	if !errors.As(err, &inUse) || inUse.Index != 0 || inUse.FilePath != "/uploads/Asuka.png" {
		t.Fatalf("expected FilePathInUseError for index 0, got %v", err)
	}

	twice := newCharacter("Twice", time.Now())
	twice.Images = append(twice.Images, twice.Images[0])
	if _, err := ds.InsertCharacter(ctx, twice); !errors.As(err, &inUse) || inUse.Index != 1 {
		t.Fatalf("expected FilePathInUseError for index 1, got %v", err)
	}

	all, err := ds.GetCharacters(ctx, nil)
	if err != nil {
		t.Fatalf("GetCharacters error: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("rejected inserts must roll back, found %d characters", len(all))
	}
}

func TestSQLite_ReplaceContent_QueuesDroppedImages(t *testing.T) {
	ds := newTestDB(t)
	ctx := context.Background()
	stored, err := ds.InsertCharacter(ctx, newCharacter("Asuka", time.Now()))
	if err != nil {
		t.Fatalf("InsertCharacter error: %v", err)
	}
	kept := Image{Filename: "Asuka.png", OriginalName: "a.png", FilePath: "/uploads/Asuka.png", FileSize: 10, MimeType: "image/png"}
	added := Image{Filename: "2-b.png", OriginalName: "b.png", FilePath: "/uploads/2-b.png", FileSize: 10, MimeType: "image/png"}

	// keeping a path in the new set must not queue it
	if _, err := ds.ReplaceContent(ctx, stored.ID, ContentUpdate{
		Name: "Asuka", SourceWork: "Evangelion", Status: StatusPending,
		ReplaceImages: true, Images: []Image{kept, added}, QueueBlobs: true, UpdatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("ReplaceContent error: %v", err)
	}
	pending, err := ds.GetPendingBlobDeletions(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingBlobDeletions error: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("no image was dropped, got %+v", pending)
	}

	updated, err := ds.ReplaceContent(ctx, stored.ID, ContentUpdate{
		Name: "Asuka", SourceWork: "Evangelion", Status: StatusPending,
		ReplaceImages: true, Images: []Image{added}, QueueBlobs: true, UpdatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("ReplaceContent error: %v", err)
	}
	if len(updated.Images) != 1 || updated.Images[0].FilePath != "/uploads/2-b.png" {
		t.Fatalf("unexpected images %+v", updated.Images)
	}
	pending, _ = ds.GetPendingBlobDeletions(ctx, 10)
	if len(pending) != 1 || pending[0].FilePath != "/uploads/Asuka.png" {
		t.Fatalf("expected dropped image queued, got %+v", pending)
	}

	referenced, err := ds.IsFilePathReferenced(ctx, "/uploads/Asuka.png")
	if err != nil || referenced {
		t.Errorf("dropped path should be unreferenced, got %v, %v", referenced, err)
	}
	referenced, err = ds.IsFilePathReferenced(ctx, "/uploads/2-b.png")
	if err != nil || !referenced {
		t.Errorf("current path should be referenced, got %v, %v", referenced, err)
	}
}

func TestSQLite_ReplaceContent_WithoutQueueLeavesDroppedImages(t *testing.T) {
	ds := newTestDB(t)
	ctx := context.Background()
	stored, err := ds.InsertCharacter(ctx, newCharacter("Rei", time.Now()))
	if err != nil {
		t.Fatalf("InsertCharacter error: %v", err)
	}
	if _, err := ds.ReplaceContent(ctx, stored.ID, ContentUpdate{
		Name: "Rei", SourceWork: "Evangelion", Status: StatusPending,
		ReplaceImages: true, Images: []Image{}, UpdatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("ReplaceContent error: %v", err)
	}
	pending, _ := ds.GetPendingBlobDeletions(ctx, 10)
	if len(pending) != 0 {
		t.Errorf("expected nothing queued, got %+v", pending)
	}
}

func TestSQLite_ReplaceContent_RejectsForeignFilePath(t *testing.T) {
	ds := newTestDB(t)
	ctx := context.Background()
	if _, err := ds.InsertCharacter(ctx, newCharacter("Asuka", time.Now())); err != nil {
		t.Fatalf("InsertCharacter error: %v", err)
	}
	rei, err := ds.InsertCharacter(ctx, newCharacter("Rei", time.Now()))
	if err != nil {
		t.Fatalf("InsertCharacter error: %v", err)
	}

	_, err = ds.ReplaceContent(ctx, rei.ID, ContentUpdate{
		Name: "Rei", SourceWork: "Evangelion", Status: StatusPending, ReplaceImages: true,
		Images:     []Image{{Filename: "x.png", OriginalName: "x.png", FilePath: "/uploads/Asuka.png", FileSize: 1, MimeType: "image/png"}},
		QueueBlobs: true, UpdatedAt: time.Now(),
	})
	var inUse *FilePathInUseError
	if !errors.As(err, &inUse) {
		t.Fatalf("expected FilePathInUseError, got %v", err)
	}
	stored, err := ds.GetCharacterByID(ctx, rei.ID)
	if err != nil {
		t.Fatalf("GetCharacterByID error: %v", err)
	}
	if len(stored.Images) != 1 || stored.Images[0].FilePath != "/uploads/Rei.png" {
		t.Errorf("failed replace must roll back, got %+v", stored.Images)
	}
	pending, _ := ds.GetPendingBlobDeletions(ctx, 10)
	if len(pending) != 0 {
		t.Errorf("failed replace must not queue deletions, got %+v", pending)
	}
}

func ids(characters []*Character) []string {
	out := make([]string, 0, len(characters))
	for _, c := range characters {
		out = append(out, c.ID)
	}
	return out
}
