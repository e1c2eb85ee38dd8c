package storage

import (
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"strings"
)

// ErrNotExist is returned when a blob key has no stored object.
var ErrNotExist = errors.New("storage: object does not exist")

// Store persists image blobs under slash separated keys such as "faces/<id>.jpg".
type Store interface {
	Save(ctx context.Context, key string, reader io.Reader, contentType string) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// CleanKey normalises a key and rejects anything that escapes the store root.
func CleanKey(key string) (string, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", errors.New("storage: empty key")
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

// ContentType guesses the MIME type of a key from its extension.
func ContentType(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
