package backend

import (
	"context"
	"os"
	"testing"
)

// memProvider is a trivial in-memory Provider used by the sidecar and
// engine tests, which don't need real wire behavior.
type memProvider struct {
	objects map[string][]byte
}

func newMemProvider() *memProvider { return &memProvider{objects: map[string][]byte{}} }

func (m *memProvider) TestConnection(ctx context.Context) (bool, error) { return true, nil }

// ListFiles mirrors the real providers: it lists every object in the
// store, sidecar included, so callers (the engine) are responsible for
// filtering it out.
func (m *memProvider) ListFiles(ctx context.Context, prefix string) ([]RemoteFile, error) {
	var out []RemoteFile
	for k, v := range m.objects {
		out = append(out, RemoteFile{Key: k, Size: int64(len(v))})
	}
	return out, nil
}

func (m *memProvider) Upload(ctx context.Context, localPath, key string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	return m.WriteBytes(ctx, key, data)
}

func (m *memProvider) Download(ctx context.Context, key, localPath string) error {
	data, err := m.ReadBytes(ctx, key)
	if err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0o644)
}

func (m *memProvider) Delete(ctx context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memProvider) ReadBytes(ctx context.Context, key string) ([]byte, error) {
	b, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

func (m *memProvider) WriteBytes(ctx context.Context, key string, data []byte) error {
	m.objects[key] = data
	return nil
}

func TestLoadSidecarDefaultsWhenMissing(t *testing.T) {
	p := newMemProvider()
	sc, err := LoadSidecar(context.Background(), p)
	if err != nil {
		t.Fatalf("LoadSidecar: %v", err)
	}
	if sc.Books == nil || len(sc.Books) != 0 {
		t.Fatalf("expected an empty default sidecar, got %+v", sc)
	}
}

func TestSidecarSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := newMemProvider()

	sc := NewRemoteSidecar()
	sc.Books["book.epub"] = BookSyncMeta{
		Filename:  "book.epub",
		Size:      42,
		Progress:  &BookProgress{Chapter: 2, Page: 10, Percent: 0.3},
		Notes:     []any{},
		Bookmarks: []any{},
	}
	if err := SaveSidecar(ctx, p, sc); err != nil {
		t.Fatalf("SaveSidecar: %v", err)
	}

	loaded, err := LoadSidecar(ctx, p)
	if err != nil {
		t.Fatalf("LoadSidecar: %v", err)
	}
	meta, ok := loaded.Books["book.epub"]
	if !ok {
		t.Fatalf("expected book.epub entry after round trip")
	}
	if meta.Progress == nil || meta.Progress.Chapter != 2 {
		t.Fatalf("progress not preserved: %+v", meta.Progress)
	}
}

func TestLoadSidecarFallsBackOnCorruptJSON(t *testing.T) {
	ctx := context.Background()
	p := newMemProvider()
	p.objects[sidecarKey] = []byte("not json")

	sc, err := LoadSidecar(ctx, p)
	if err != nil {
		t.Fatalf("LoadSidecar should not error on corrupt json, got %v", err)
	}
	if len(sc.Books) != 0 {
		t.Fatalf("expected default empty sidecar, got %+v", sc)
	}
}
