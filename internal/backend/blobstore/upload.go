package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jo-hoe/palettebox/internal/lifecycle"
)

// UploadedFile describes a stored upload. The fields line up with the image
// references accepted when a character is submitted.
type UploadedFile struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName"`
	FilePath     string `json:"filePath"`
	FileSize     int64  `json:"fileSize"`
	MimeType     string `json:"mimeType"`
}

// RejectionError is returned when an upload fails a content rule.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return e.Reason
}

type Uploader struct {
	store  BlobStore
	limits lifecycle.Limits
	now    func() time.Time
}

func NewUploader(store BlobStore, limits lifecycle.Limits) *Uploader {
	return &Uploader{store: store, limits: limits, now: time.Now}
}

// Accept checks a multipart file against the limits and stores it.
func (u *Uploader) Accept(ctx context.Context, header *multipart.FileHeader) (*UploadedFile, error) {
	declared := lifecycle.NormalizeMimeType(header.Header.Get("Content-Type"))
	if !u.limits.IsAllowedMimeType(declared) {
		return nil, &RejectionError{Reason: fmt.Sprintf("Invalid file type: %s. Only PNG and JPEG are allowed.", header.Header.Get("Content-Type"))}
	}
	if header.Size > u.limits.MaxFileSize {
		return nil, u.tooLarge(header.Filename)
	}

	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload %s: %w", header.Filename, err)
	}
	defer f.Close()

	return u.ingest(ctx, header.Filename, declared, f)
}

// AcceptReader is Accept for content that did not arrive as a multipart part.
func (u *Uploader) AcceptReader(ctx context.Context, originalName, mimeType string, r io.Reader) (*UploadedFile, error) {
	declared := lifecycle.NormalizeMimeType(mimeType)
	if !u.limits.IsAllowedMimeType(declared) {
		return nil, &RejectionError{Reason: fmt.Sprintf("Invalid file type: %s. Only PNG and JPEG are allowed.", mimeType)}
	}
	return u.ingest(ctx, originalName, declared, r)
}

func (u *Uploader) ingest(ctx context.Context, originalName, declared string, r io.Reader) (*UploadedFile, error) {
	content, err := io.ReadAll(io.LimitReader(r, u.limits.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload %s: %w", originalName, err)
	}
	if int64(len(content)) > u.limits.MaxFileSize {
		return nil, u.tooLarge(originalName)
	}
	if len(content) == 0 {
		return nil, &RejectionError{Reason: fmt.Sprintf("File %s is empty", originalName)}
	}

	sniffed := lifecycle.NormalizeMimeType(strings.SplitN(http.DetectContentType(content), ";", 2)[0])
	if sniffed != declared {
		return nil, &RejectionError{Reason: fmt.Sprintf("File %s content does not match declared type %s", originalName, declared)}
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(content))
	if err != nil {
		return nil, &RejectionError{Reason: fmt.Sprintf("File %s is not a readable image", originalName)}
	}
	if u.limits.MaxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > u.limits.MaxPixels {
		return nil, &RejectionError{Reason: fmt.Sprintf("File %s is too large. Maximum resolution is %d pixels (got %dx%d)",
			originalName, u.limits.MaxPixels, cfg.Width, cfg.Height)}
	}

	filename := u.storedName(declared)
	ref, err := u.store.Put(ctx, filename, bytes.NewReader(content))
	if err != nil {
		slog.Error("Accept: failed to store upload", "filename", filename, "error", err)
		return nil, err
	}

	return &UploadedFile{
		Filename:     filename,
		OriginalName: originalName,
		FilePath:     ref,
		FileSize:     int64(len(content)),
		MimeType:     declared,
	}, nil
}

func (u *Uploader) tooLarge(name string) error {
	return &RejectionError{Reason: fmt.Sprintf("File %s is too large. Maximum size is %d MB", name, u.limits.MaxFileSize/(1024*1024))}
}

// storedName yields <unix-ms>-<random>.<ext>; the original name never reaches the filesystem.
func (u *Uploader) storedName(mimeType string) string {
	ext := ".png"
	if mimeType == lifecycle.MimeJPEG {
		ext = ".jpg"
	}
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%d-%s%s", u.now().UnixMilli(), random, ext)
}
