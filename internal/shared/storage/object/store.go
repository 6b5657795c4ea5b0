package object

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"
)

// ErrNotFound is returned when a storage key does not resolve to an object.
var ErrNotFound = errors.New("object not found")

// Blob describes a stored object.
type Blob struct {
	Key      string
	Size     int64
	MimeType string
}

// ObjectStore saves and retrieves document bytes by a stable locator.
type ObjectStore interface {
	Save(ctx context.Context, ownerID, fileName string, r io.Reader) (Blob, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

const sniffLen = 3072

// Sniff reads the head of r to detect its content type and returns a reader that replays the full stream.
func Sniff(r io.Reader) (string, io.Reader, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", nil, fmt.Errorf("read sniff: %w", err)
	}
	head = head[:n]
	return mimetype.Detect(head).String(), io.MultiReader(bytes.NewReader(head), r), nil
}

// ReadAll loads an object fully, refusing objects larger than limit bytes when limit is positive.
func ReadAll(ctx context.Context, store ObjectStore, key string, limit int64) ([]byte, error) {
	rc, err := store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var src io.Reader = rc
	if limit > 0 {
		src = io.LimitReader(rc, limit+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("object %s exceeds %d bytes", key, limit)
	}
	return data, nil
}
