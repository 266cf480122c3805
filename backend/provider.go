package backend

import (
	"context"
	"errors"
)

// ErrNotFound is returned by ReadBytes when the requested key does not
// exist. The S3 and Drive providers' Download reads through ReadBytes and
// returns it too; WebDAV's Download reports a 404 as an ordinary error.
// Its Error() string is exactly "NotFound"
// so that a host which only reads the string sees the same sentinel the
// original design returns.
var ErrNotFound = errors.New("NotFound")

// Provider is the uniform capability set every remote storage backend
// implements. All operations take a context for cancellation and return a
// human-readable error on failure.
type Provider interface {
	TestConnection(ctx context.Context) (bool, error)
	ListFiles(ctx context.Context, prefix string) ([]RemoteFile, error)
	Upload(ctx context.Context, localPath, key string) error
	Download(ctx context.Context, key, localPath string) error
	Delete(ctx context.Context, key string) error
	ReadBytes(ctx context.Context, key string) ([]byte, error)
	WriteBytes(ctx context.Context, key string, data []byte) error
}

// ReadJSON is a convenience wrapper used by the sidecar and progress
// commands: it loads a key and returns it as a string, propagating
// ErrNotFound unchanged.
func ReadJSON(ctx context.Context, p Provider, key string) (string, error) {
	b, err := p.ReadBytes(ctx, key)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteJSON is the write-side counterpart of ReadJSON.
func WriteJSON(ctx context.Context, p Provider, key, data string) error {
	return p.WriteBytes(ctx, key, []byte(data))
}
