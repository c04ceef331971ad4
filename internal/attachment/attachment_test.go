package attachment

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"testing"

	"threadboard/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func upload(name, contentType string, data []byte) *Upload {
	return &Upload{
		Filename:    name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Reader:      bytes.NewReader(data),
	}
}

func assertValidation(t *testing.T, err error, message string) {
	t.Helper()
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.CodeValidation, appErr.Code)
	assert.Equal(t, message, appErr.Message)
}

func TestValidate_NilUploadIsAccepted(t *testing.T) {
	assert.NoError(t, Validate(nil))

	meta, err := ExtractMetadata(nil)
	require.NoError(t, err)
	assert.True(t, meta.IsZero())
	assert.Equal(t, models.Attachment{}, meta)
}

func TestValidate_Limits(t *testing.T) {
	tests := []struct {
		name    string
		upload  *Upload
		message string
	}{
		{
			name:    "image over 5 MiB",
			upload:  upload("big.png", "image/png", make([]byte, 6<<20)),
			message: "image must not exceed 5 MiB",
		},
		{
			name:    "text over 100 KiB",
			upload:  upload("notes.txt", "text/plain", bytes.Repeat([]byte("a"), 200<<10)),
			message: "text file must not exceed 100 KiB",
		},
		{
			name:    "unsupported type",
			upload:  upload("doc.pdf", "application/pdf", []byte("%PDF-1.4")),
			message: "unsupported attachment type",
		},
		{
			name:    "octet stream without known extension",
			upload:  upload("blob.bin", "application/octet-stream", []byte{1, 2, 3}),
			message: "unsupported attachment type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertValidation(t, Validate(tt.upload), tt.message)
		})
	}
}

func TestValidate_AcceptsAtLimit(t *testing.T) {
	assert.NoError(t, Validate(upload("edge.png", "image/png", make([]byte, MaxImageSize))))
	assert.NoError(t, Validate(upload("edge.txt", "text/plain", make([]byte, MaxTextSize))))
}

func TestEffectiveContentType(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		contentType string
		want        string
	}{
		{"declared wins", "photo.txt", "image/png", "image/png"},
		{"parameters stripped", "notes", "text/plain; charset=utf-8", "text/plain"},
		{"case folded", "x", "IMAGE/JPEG", "image/jpeg"},
		{"octet stream falls back to extension", "photo.jpg", "application/octet-stream", "image/jpeg"},
		{"empty falls back to extension", "notes.TXT", "", "text/plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &Upload{Filename: tt.filename, ContentType: tt.contentType}
			assert.Equal(t, tt.want, u.EffectiveContentType())
		})
	}
}

func TestExtractMetadata_ImageDimensions(t *testing.T) {
	data := pngBytes(t, 64, 32)
	u := upload("../../etc/pic.png", "image/png", data)

	require.NoError(t, Validate(u))
	meta, err := ExtractMetadata(u)
	require.NoError(t, err)

	assert.Equal(t, models.AttachmentTypeImage, meta.Type)
	assert.Equal(t, 64, meta.Width)
	assert.Equal(t, 32, meta.Height)
	assert.Equal(t, int64(len(data)), meta.Size)
	assert.Equal(t, "pic.png", meta.Name)
	assert.Empty(t, meta.TextPreview)

	pos, err := u.Reader.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Zero(t, pos)
}

func TestExtractMetadata_UnprocessableImage(t *testing.T) {
	u := upload("fake.png", "image/png", []byte("definitely not a png"))

	require.NoError(t, Validate(u))
	_, err := ExtractMetadata(u)
	assertValidation(t, err, "unprocessable image")
}

func TestExtractMetadata_TextPreview(t *testing.T) {
	data := []byte(strings.Repeat("abcdefghij", 5*1024))
	require.Len(t, data, 50*1024)
	u := upload("notes.txt", "text/plain", data)

	require.NoError(t, Validate(u))
	meta, err := ExtractMetadata(u)
	require.NoError(t, err)

	assert.Equal(t, models.AttachmentTypeText, meta.Type)
	assert.Equal(t, string(data[:400]), meta.TextPreview)
	assert.Zero(t, meta.Width)
	assert.Zero(t, meta.Height)

	pos, err := u.Reader.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Zero(t, pos)
}

func TestExtractMetadata_TextPreviewCountsRunes(t *testing.T) {
	data := []byte(strings.Repeat("ж", 1000))
	meta, err := ExtractMetadata(upload("ru.txt", "text/plain", data))
	require.NoError(t, err)
	assert.Equal(t, 400, len([]rune(meta.TextPreview)))
	assert.Equal(t, strings.Repeat("ж", 400), meta.TextPreview)
}

func TestExtractMetadata_TextPreviewDropsInvalidBytes(t *testing.T) {
	data := append([]byte("ok"), 0xff, 0xfe)
	data = append(data, []byte("fine")...)
	meta, err := ExtractMetadata(upload("bad.txt", "text/plain", data))
	require.NoError(t, err)
	assert.Equal(t, "okfine", meta.TextPreview)
}

func TestExtractMetadata_MeasuresUnknownSize(t *testing.T) {
	data := []byte("hello")
	u := &Upload{Filename: "a.txt", ContentType: "text/plain", Reader: bytes.NewReader(data)}
	meta, err := ExtractMetadata(u)
	require.NoError(t, err)
	assert.Equal(t, int64(5), meta.Size)
	assert.Equal(t, "hello", meta.TextPreview)
}
