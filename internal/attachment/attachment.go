// Package attachment validates uploaded comment attachments and extracts the
// metadata stored alongside them.
package attachment

import (
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"threadboard/internal/models"
)

// Limits applied to uploads.
const (
	MaxImageSize = 5 << 20
	MaxTextSize  = 100 << 10

	textPreviewReadBytes = 4096
	textPreviewRunes     = 400
)

const textPlain = "text/plain"

var imageTypes = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/gif":  {},
}

// Upload is a file received with a comment.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Reader      io.ReadSeeker
}

// EffectiveContentType returns the effective MIME type of the upload: the declared type
// without parameters, or the type implied by the file extension when nothing
// useful was declared.
func (u *Upload) EffectiveContentType() string {
	declared := normalizeMediaType(u.ContentType)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if byExt := normalizeMediaType(mime.TypeByExtension(strings.ToLower(filepath.Ext(u.Filename)))); byExt != "" {
		return byExt
	}
	return declared
}

// Kind classifies the upload as an image or text attachment, or "" when its
// type is not accepted.
func (u *Upload) Kind() string {
	ct := u.EffectiveContentType()
	if _, ok := imageTypes[ct]; ok {
		return models.AttachmentTypeImage
	}
	if ct == textPlain {
		return models.AttachmentTypeText
	}
	return ""
}

func normalizeMediaType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		if i := strings.IndexByte(value, ';'); i >= 0 {
			value = value[:i]
		}
		return strings.ToLower(strings.TrimSpace(value))
	}
	return strings.ToLower(mediaType)
}

func (u *Upload) size() (int64, error) {
	if u.Size > 0 {
		return u.Size, nil
	}
	end, err := u.Reader.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("measure upload: %w", err)
	}
	if _, err := u.Reader.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind upload: %w", err)
	}
	u.Size = end
	return end, nil
}

// Validate checks the type and size limits of u. A nil upload is valid.
func Validate(u *Upload) error {
	if u == nil {
		return nil
	}
	if u.Reader == nil {
		return models.NewValidationError("attachment is empty")
	}

	size, err := u.size()
	if err != nil {
		return models.NewValidationError("attachment could not be read")
	}

	switch u.Kind() {
	case models.AttachmentTypeImage:
		if size > MaxImageSize {
			return models.NewValidationError("image must not exceed 5 MiB")
		}
	case models.AttachmentTypeText:
		if size > MaxTextSize {
			return models.NewValidationError("text file must not exceed 100 KiB")
		}
	default:
		return models.NewValidationError("unsupported attachment type")
	}
	return nil
}

// ExtractMetadata inspects u and returns its attachment record without a
// storage key. The reader is positioned back at the start afterwards. A nil
// upload yields the zero Attachment.
func ExtractMetadata(u *Upload) (models.Attachment, error) {
	if u == nil {
		return models.Attachment{}, nil
	}
	if u.Reader == nil {
		return models.Attachment{}, models.NewValidationError("attachment is empty")
	}

	size, err := u.size()
	if err != nil {
		return models.Attachment{}, models.NewValidationError("attachment could not be read")
	}

	meta := models.Attachment{
		Name: filepath.Base(filepath.Clean("/" + strings.ReplaceAll(u.Filename, "\\", "/"))),
		Size: size,
	}
	if meta.Name == "/" || meta.Name == "." {
		meta.Name = "attachment"
	}

	defer func() {
		_, _ = u.Reader.Seek(0, io.SeekStart)
	}()
	if _, err := u.Reader.Seek(0, io.SeekStart); err != nil {
		return models.Attachment{}, models.NewValidationError("attachment could not be read")
	}

	switch u.Kind() {
	case models.AttachmentTypeImage:
		cfg, _, err := image.DecodeConfig(u.Reader)
		if err != nil {
			return models.Attachment{}, models.NewValidationError("unprocessable image")
		}
		meta.Type = models.AttachmentTypeImage
		meta.Width = cfg.Width
		meta.Height = cfg.Height
	case models.AttachmentTypeText:
		preview, err := textPreview(u.Reader)
		if err != nil {
			return models.Attachment{}, models.NewValidationError("attachment could not be read")
		}
		meta.Type = models.AttachmentTypeText
		meta.TextPreview = preview
	default:
		return models.Attachment{}, models.NewValidationError("unsupported attachment type")
	}

	return meta, nil
}

// textPreview reads the head of r, drops invalid UTF-8 and keeps the leading runes.
func textPreview(r io.Reader) (string, error) {
	buf := make([]byte, textPreviewReadBytes)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", err
	}
	text := strings.ToValidUTF8(string(buf[:n]), "")
	if utf8.RuneCountInString(text) <= textPreviewRunes {
		return text, nil
	}
	runes := []rune(text)
	return string(runes[:textPreviewRunes]), nil
}
