package blobstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"mime/multipart"
	"net/textproto"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/jo-hoe/palettebox/internal/lifecycle"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func newTestUploader(t *testing.T) (*Uploader, *LocalStore) {
	t.Helper()
	store := newTestStore(t)
	u := NewUploader(store, lifecycle.DefaultLimits())
	u.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return u, store
}

func multipartFile(t *testing.T, filename, contentType string, content []byte) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="files"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	part.Write(content)
	w.Close()

	form, err := multipart.NewReader(&body, w.Boundary()).ReadForm(10 << 20)
	if err != nil {
		t.Fatalf("read form: %v", err)
	}
	t.Cleanup(func() { form.RemoveAll() })
	return form.File["files"][0]
}

func requireRejection(t *testing.T, err error) {
	t.Helper()
	var rejection *RejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("expected RejectionError, got %v", err)
	}
}

func TestUploader_AcceptPNG(t *testing.T) {
	u, store := newTestUploader(t)
	content := pngBytes(t)

	file, err := u.Accept(context.Background(), multipartFile(t, "asuka.png", "image/png", content))
	if err != nil {
		t.Fatalf("Accept error: %v", err)
	}
	if !regexp.MustCompile(`^1700000000000-[0-9a-f]{12}\.png$`).MatchString(file.Filename) {
		t.Errorf("unexpected stored name %q", file.Filename)
	}
	if file.FilePath != "/uploads/"+file.Filename {
		t.Errorf("unexpected path %q", file.FilePath)
	}
	if file.OriginalName != "asuka.png" || file.MimeType != "image/png" || file.FileSize != int64(len(content)) {
		t.Errorf("unexpected metadata %+v", file)
	}

	rc, err := store.Open(context.Background(), file.FilePath)
	if err != nil {
		t.Fatalf("stored file not readable: %v", err)
	}
	rc.Close()
}

func TestUploader_NormalizesJPGAlias(t *testing.T) {
	u, _ := newTestUploader(t)

	file, err := u.Accept(context.Background(), multipartFile(t, "rei.jpg", "image/jpg", jpegBytes(t)))
	if err != nil {
		t.Fatalf("Accept error: %v", err)
	}
	if file.MimeType != lifecycle.MimeJPEG {
		t.Errorf("expected %s, got %s", lifecycle.MimeJPEG, file.MimeType)
	}
}

func TestUploader_Rejections(t *testing.T) {
	u, _ := newTestUploader(t)
	u.limits.MaxFileSize = 1024

	big := bytes.Repeat([]byte{0}, 2048)
	tests := []struct {
		name        string
		contentType string
		content     []byte
	}{
		{"gif not allowed", "image/gif", []byte("GIF89a")},
		{"too large", "image/png", big},
		{"content mismatch", "image/png", jpegBytes(t)},
		{"not an image", "image/png", []byte("\x89PNG\r\n\x1a\nnot really")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := u.Accept(context.Background(), multipartFile(t, "f", tt.contentType, tt.content))
			requireRejection(t, err)
		})
	}
}

func TestUploader_AcceptReaderEnforcesSizeWithoutHeader(t *testing.T) {
	u, _ := newTestUploader(t)
	u.limits.MaxFileSize = 16

	_, err := u.AcceptReader(context.Background(), "x.png", "image/png", bytes.NewReader(pngBytes(t)))
	requireRejection(t, err)

	_, err = u.AcceptReader(context.Background(), "x.png", "image/png", bytes.NewReader(nil))
	requireRejection(t, err)
}

// pngHeader returns a PNG signature and IHDR chunk claiming the given dimensions.
// It carries no pixel data; DecodeConfig only needs the header.
func pngHeader(width, height uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], width)
	binary.BigEndian.PutUint32(ihdr[4:8], height)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // RGBA

	var buf bytes.Buffer
	buf.Write([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'})
	binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestUploader_RejectsOversizedDimensions(t *testing.T) {
	u, store := newTestUploader(t)

	_, err := u.Accept(context.Background(), multipartFile(t, "bomb.png", "image/png", pngHeader(20000, 20000)))
	requireRejection(t, err)

	entries, err := os.ReadDir(store.Root())
	if err != nil {
		t.Fatalf("read store dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("rejected upload must not be stored, found %d entries", len(entries))
	}
}

func TestUploader_PixelCapIsConfigurable(t *testing.T) {
	u, _ := newTestUploader(t)
	u.limits.MaxPixels = 15

	_, err := u.Accept(context.Background(), multipartFile(t, "small.png", "image/png", pngBytes(t)))
	requireRejection(t, err)

	u.limits.MaxPixels = 16
	if _, err := u.Accept(context.Background(), multipartFile(t, "small.png", "image/png", pngBytes(t))); err != nil {
		t.Fatalf("4x4 image within a 16 pixel cap should be accepted: %v", err)
	}
}
