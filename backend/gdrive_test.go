package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"testing"
)

var driveQueryName = regexp.MustCompile(`name='((?:[^'\\]|\\.)*)'`)

func TestEscapeDriveQuoted(t *testing.T) {
	got := escapeDriveQuoted("O'Brien's Book")
	want := `O\'Brien\'s Book`
	if got != want {
		t.Fatalf("escapeDriveQuoted = %q, want %q", got, want)
	}
}

// fakeDrive is a minimal in-memory stand-in for the Drive v3 REST surface
// the provider exercises: folder lookup/create, file lookup, media
// upload/download, and delete.
func fakeDrive(t *testing.T) *httptest.Server {
	t.Helper()
	files := map[string]driveFileMeta{}
	contents := map[string][]byte{}
	nextID := 1

	mux := http.NewServeMux()
	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			q := r.URL.Query().Get("q")
			wantFolder := strings.Contains(q, "mimeType='application/vnd.google-apps.folder'")
			var wantName string
			if m := driveQueryName.FindStringSubmatch(q); m != nil {
				wantName = strings.ReplaceAll(m[1], `\'`, "'")
			}
			var matches []driveFileMeta
			for _, f := range files {
				isFolder := f.MimeType == "application/vnd.google-apps.folder"
				if wantFolder != isFolder {
					continue
				}
				if wantName != "" && f.Name != wantName {
					continue
				}
				matches = append(matches, f)
			}
			_ = json.NewEncoder(w).Encode(driveFileList{Files: matches})
		case http.MethodPost:
			var meta driveFileMeta
			ct := r.Header.Get("Content-Type")
			if strings.HasPrefix(ct, "application/json") {
				_ = json.NewDecoder(r.Body).Decode(&meta)
				meta.MimeType = "application/vnd.google-apps.folder"
			} else {
				mt, params, err := mime.ParseMediaType(ct)
				if err != nil || !strings.HasPrefix(mt, "multipart/") {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				mr := multipart.NewReader(r.Body, params["boundary"])
				part, _ := mr.NextPart()
				_ = json.NewDecoder(part).Decode(&meta)
				dataPart, _ := mr.NextPart()
				data, _ := io.ReadAll(dataPart)
				meta.ID = strconv.Itoa(nextID)
				nextID++
				files[meta.ID] = meta
				contents[meta.ID] = data
				_ = json.NewEncoder(w).Encode(meta)
				return
			}
			meta.ID = strconv.Itoa(nextID)
			nextID++
			files[meta.ID] = meta
			_ = json.NewEncoder(w).Encode(meta)
		}
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/files/")
		switch r.Method {
		case http.MethodGet:
			b, ok := contents[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write(b)
		case http.MethodPatch:
			b, _ := io.ReadAll(r.Body)
			contents[id] = b
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			delete(files, id)
			delete(contents, id)
			w.WriteHeader(http.StatusNoContent)
		}
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestGDriveProviderRoundTrip(t *testing.T) {
	ts := fakeDrive(t)

	origAPI, origUpload := driveAPI, driveUploadAPI
	driveAPI, driveUploadAPI = ts.URL, ts.URL
	t.Cleanup(func() { driveAPI, driveUploadAPI = origAPI, origUpload })

	p := NewGDriveProvider(GDriveConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		AccessToken:  "token",
		RefreshToken: "refresh",
	})

	ctx := context.Background()
	if _, err := p.ensureFolder(ctx); err != nil {
		t.Fatalf("ensureFolder: %v", err)
	}

	want := []byte("drive payload")
	if err := p.WriteBytes(ctx, "a.epub", want); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	got, err := p.ReadBytes(ctx, "a.epub")
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("round trip mismatch: got %q want %q", got, want)
	}

	if _, err := p.ReadBytes(ctx, "missing.epub"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
