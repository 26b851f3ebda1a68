package storage

import (
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zizouhuweidi/ilm/internal/domain"
)

// MaxImageSize is the largest accepted upload
const MaxImageSize = 5 * 1024 * 1024

var (
	ErrImageTooLarge   = domain.NewError(domain.KindInvalidInput, "image_too_large", "file too large: maximum size is 5MB")
	ErrInvalidImage    = domain.NewError(domain.KindInvalidInput, "invalid_image", "invalid file type: only jpg, jpeg, png and gif are allowed")
	ErrImageNotFound   = domain.NewError(domain.KindNotFound, "image_not_found", "image not found")
	ErrInvalidFilename = domain.NewError(domain.KindInvalidInput, "invalid_filename", "invalid image filename")
)

// allowed extensions and the content type each must sniff as
var allowedTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
}

// ImageStorage keeps uploaded course images on the local filesystem
type ImageStorage struct {
	basePath string
}

// NewImageStorage creates the base directory if needed
func NewImageStorage(basePath string) (*ImageStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create base directory")
	}
	return &ImageStorage{basePath: basePath}, nil
}

// ValidateImage checks size and extension of an upload
func (s *ImageStorage) ValidateImage(file *multipart.FileHeader) error {
	if file.Size > MaxImageSize {
		return ErrImageTooLarge
	}
	if _, ok := allowedTypes[strings.ToLower(filepath.Ext(file.Filename))]; !ok {
		return ErrInvalidImage
	}
	return nil
}

// SaveImage validates and stores an upload under a fresh name, returning that name
func (s *ImageStorage) SaveImage(file *multipart.FileHeader) (string, error) {
	if err := s.ValidateImage(file); err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))

	src, err := file.Open()
	if err != nil {
		return "", errors.Wrap(err, "failed to open uploaded file")
	}
	defer src.Close()

	// the extension has to agree with the content
	head := make([]byte, 512)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", errors.Wrap(err, "failed to read uploaded file")
	}
	if !mimetype.Detect(head[:n]).Is(allowedTypes[ext]) {
		return "", ErrInvalidImage
	}

	filename := uuid.NewString() + ext
	dst, err := os.OpenFile(filepath.Join(s.basePath, filename), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", errors.Wrap(err, "failed to create destination file")
	}
	defer dst.Close()

	if _, err := dst.Write(head[:n]); err != nil {
		return "", errors.Wrap(err, "failed to write image")
	}
	if _, err := io.Copy(dst, io.LimitReader(src, MaxImageSize)); err != nil {
		return "", errors.Wrap(err, "failed to copy file contents")
	}
	return filename, nil
}

// GetImagePath resolves a stored name to its path; names that would escape the
// base directory are rejected.
func (s *ImageStorage) GetImagePath(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return "", ErrInvalidFilename
	}
	path := filepath.Join(s.basePath, filename)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrImageNotFound
		}
		return "", errors.Wrap(err, "stat image")
	}
	if info.IsDir() {
		return "", ErrImageNotFound
	}
	return path, nil
}

// DeleteImage removes a stored image
func (s *ImageStorage) DeleteImage(filename string) error {
	path, err := s.GetImagePath(filename)
	if err != nil {
		return err
	}
	return errors.Wrap(os.Remove(path), "failed to delete image")
}
