package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/browser"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	driveFileScope    = "https://www.googleapis.com/auth/drive.file"
	multipartBoundary = "klio_boundary_12345"
	scopingFolderName = "KlioReader"
)

// driveAPI and driveUploadAPI are vars, not consts, so tests can point
// the provider at an httptest.Server instead of the real Drive API.
var (
	driveAPI       = "https://www.googleapis.com/drive/v3"
	driveUploadAPI = "https://www.googleapis.com/upload/drive/v3"
)

// GDriveConfig parameterizes the Google Drive provider.
type GDriveConfig struct {
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string
	FolderID     string
}

// GDriveProvider talks to the Drive v3 REST API directly (not the official
// google.golang.org/api/drive/v3 client) since the provider contract
// requires literal control over the multipart boundary and the
// create-vs-update upload dispatch.
type GDriveProvider struct {
	oauthCfg oauth2.Config

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	folderID     string

	client *http.Client
}

func NewGDriveProvider(cfg GDriveConfig) *GDriveProvider {
	return &GDriveProvider{
		oauthCfg: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{driveFileScope},
		},
		accessToken:  cfg.AccessToken,
		refreshToken: cfg.RefreshToken,
		folderID:     cfg.FolderID,
		client:       &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *GDriveProvider) getAccessToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accessToken
}

func (p *GDriveProvider) refreshAccessToken(ctx context.Context) error {
	p.mu.Lock()
	refreshToken := p.refreshToken
	p.mu.Unlock()
	if refreshToken == "" {
		return fmt.Errorf("drive: no refresh token available")
	}
	src := p.oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return fmt.Errorf("drive: refresh token exchange failed: %w", err)
	}
	p.mu.Lock()
	p.accessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		p.refreshToken = tok.RefreshToken
	}
	p.mu.Unlock()
	return nil
}

// doAuthed executes a request built fresh by makeReq, retrying exactly once
// after a token refresh if the first attempt comes back 401.
func (p *GDriveProvider) doAuthed(ctx context.Context, makeReq func() (*http.Request, error)) (*http.Response, error) {
	req, err := makeReq()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.getAccessToken())
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	if err := p.refreshAccessToken(ctx); err != nil {
		return nil, err
	}
	req2, err := makeReq()
	if err != nil {
		return nil, err
	}
	req2.Header.Set("Authorization", "Bearer "+p.getAccessToken())
	return p.client.Do(req2)
}

func escapeDriveQuoted(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}

type driveFileMeta struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Size         string `json:"size"`
	ModifiedTime string `json:"modifiedTime"`
	MimeType     string `json:"mimeType"`
}

type driveFileList struct {
	Files         []driveFileMeta `json:"files"`
	NextPageToken string          `json:"nextPageToken"`
}

func (p *GDriveProvider) ensureFolder(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.folderID != "" {
		id := p.folderID
		p.mu.Unlock()
		return id, nil
	}
	p.mu.Unlock()

	q := fmt.Sprintf("name='%s' and mimeType='application/vnd.google-apps.folder' and trashed=false", scopingFolderName)
	resp, err := p.doAuthed(ctx, func() (*http.Request, error) {
		u := driveAPI + "/files?q=" + url.QueryEscape(q) + "&fields=" + url.QueryEscape("files(id,name)")
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	})
	if err != nil {
		return "", fmt.Errorf("drive: folder lookup failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("drive: folder lookup failed (%d): %s", resp.StatusCode, string(body))
	}
	var list driveFileList
	if err := json.Unmarshal(body, &list); err != nil {
		return "", fmt.Errorf("drive: parse folder lookup: %w", err)
	}
	if len(list.Files) > 0 {
		p.mu.Lock()
		p.folderID = list.Files[0].ID
		p.mu.Unlock()
		return list.Files[0].ID, nil
	}

	createBody, _ := json.Marshal(map[string]any{
		"name":     scopingFolderName,
		"mimeType": "application/vnd.google-apps.folder",
	})
	resp2, err := p.doAuthed(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, driveAPI+"/files", bytes.NewReader(createBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("drive: folder create failed: %w", err)
	}
	defer resp2.Body.Close()
	body2, _ := io.ReadAll(resp2.Body)
	if resp2.StatusCode != http.StatusOK && resp2.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("drive: folder create failed (%d): %s", resp2.StatusCode, string(body2))
	}
	var created driveFileMeta
	if err := json.Unmarshal(body2, &created); err != nil {
		return "", fmt.Errorf("drive: parse folder create: %w", err)
	}
	p.mu.Lock()
	p.folderID = created.ID
	p.mu.Unlock()
	return created.ID, nil
}

func (p *GDriveProvider) findFile(ctx context.Context, name string) (*driveFileMeta, error) {
	folderID, err := p.ensureFolder(ctx)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("name='%s' and '%s' in parents and trashed=false", escapeDriveQuoted(name), folderID)
	resp, err := p.doAuthed(ctx, func() (*http.Request, error) {
		u := driveAPI + "/files?q=" + url.QueryEscape(q) + "&fields=" + url.QueryEscape("files(id,name,size,modifiedTime,mimeType)")
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("drive: find file failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("drive: find file failed (%d): %s", resp.StatusCode, string(body))
	}
	var list driveFileList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("drive: parse find file: %w", err)
	}
	if len(list.Files) == 0 {
		return nil, nil
	}
	return &list.Files[0], nil
}

func (p *GDriveProvider) TestConnection(ctx context.Context) (bool, error) {
	if _, err := p.ensureFolder(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (p *GDriveProvider) ListFiles(ctx context.Context, prefix string) ([]RemoteFile, error) {
	folderID, err := p.ensureFolder(ctx)
	if err != nil {
		return nil, err
	}
	var out []RemoteFile
	pageToken := ""
	q := fmt.Sprintf("'%s' in parents and trashed=false", folderID)
	for {
		resp, err := p.doAuthed(ctx, func() (*http.Request, error) {
			v := url.Values{}
			v.Set("q", q)
			v.Set("pageSize", "1000")
			v.Set("fields", "nextPageToken, files(id,name,size,modifiedTime,mimeType)")
			if pageToken != "" {
				v.Set("pageToken", pageToken)
			}
			return http.NewRequestWithContext(ctx, http.MethodGet, driveAPI+"/files?"+v.Encode(), nil)
		})
		if err != nil {
			return nil, fmt.Errorf("drive: list failed: %w", err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("drive: list failed (%d): %s", resp.StatusCode, string(body))
		}
		var list driveFileList
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("drive: parse list: %w", err)
		}
		for _, f := range list.Files {
			if f.MimeType == "application/vnd.google-apps.folder" {
				continue
			}
			if prefix != "" && !strings.HasPrefix(f.Name, prefix) {
				continue
			}
			size, _ := strconv.ParseInt(f.Size, 10, 64)
			id := f.ID
			out = append(out, RemoteFile{
				Key:          f.Name,
				Size:         size,
				LastModified: f.ModifiedTime,
				ETag:         &id,
			})
		}
		if list.NextPageToken == "" {
			break
		}
		pageToken = list.NextPageToken
	}
	return out, nil
}

func (p *GDriveProvider) WriteBytes(ctx context.Context, key string, data []byte) error {
	existing, err := p.findFile(ctx, key)
	if err != nil {
		return err
	}
	if existing != nil {
		resp, err := p.doAuthed(ctx, func() (*http.Request, error) {
			u := fmt.Sprintf("%s/files/%s?uploadType=media", driveUploadAPI, existing.ID)
			req, err := http.NewRequestWithContext(ctx, http.MethodPatch, u, bytes.NewReader(data))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/octet-stream")
			return req, nil
		})
		if err != nil {
			return fmt.Errorf("drive: update failed: %w", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("drive: update failed (%d): %s", resp.StatusCode, string(body))
		}
		return nil
	}

	folderID, err := p.ensureFolder(ctx)
	if err != nil {
		return err
	}
	metaJSON, _ := json.Marshal(map[string]any{
		"name":    key,
		"parents": []string{folderID},
	})

	var bodyBuf bytes.Buffer
	mw := multipart.NewWriter(&bodyBuf)
	_ = mw.SetBoundary(multipartBoundary)
	part1, _ := mw.CreatePart(map[string][]string{"Content-Type": {"application/json; charset=UTF-8"}})
	_, _ = part1.Write(metaJSON)
	part2, _ := mw.CreatePart(map[string][]string{"Content-Type": {"application/octet-stream"}})
	_, _ = part2.Write(data)
	_ = mw.Close()

	resp, err := p.doAuthed(ctx, func() (*http.Request, error) {
		u := driveUploadAPI + "/files?uploadType=multipart"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(bodyBuf.Bytes()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "multipart/related; boundary="+multipartBoundary)
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("drive: create failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("drive: create failed (%d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (p *GDriveProvider) ReadBytes(ctx context.Context, key string) ([]byte, error) {
	f, err := p.findFile(ctx, key)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, ErrNotFound
	}
	resp, err := p.doAuthed(ctx, func() (*http.Request, error) {
		u := fmt.Sprintf("%s/files/%s?alt=media", driveAPI, f.ID)
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("drive: read failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("drive: read failed (%d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func (p *GDriveProvider) Upload(ctx context.Context, localPath, key string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	return p.WriteBytes(ctx, key, data)
}

func (p *GDriveProvider) Download(ctx context.Context, key, localPath string) error {
	data, err := p.ReadBytes(ctx, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0o644)
}

func (p *GDriveProvider) Delete(ctx context.Context, key string) error {
	f, err := p.findFile(ctx, key)
	if err != nil {
		return err
	}
	if f == nil {
		return nil
	}
	resp, err := p.doAuthed(ctx, func() (*http.Request, error) {
		u := fmt.Sprintf("%s/files/%s", driveAPI, f.ID)
		return http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	})
	if err != nil {
		return fmt.Errorf("drive: delete failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("drive: delete failed (%d): %s", resp.StatusCode, string(body))
	}
	return nil
}

// GDriveAuthResult is returned by the interactive auth flow.
type GDriveAuthResult struct {
	AccessToken  string
	RefreshToken string
}

const authSuccessPage = `<html><body><h3>KlioReader authorized.</h3><script>window.close()</script></body></html>`

// StartGDriveInteractiveAuth binds an ephemeral local port, opens the
// system browser to the Google consent screen, waits up to 120s for the
// redirect carrying the authorization code, then exchanges it for tokens.
// Mirrors commands.rs's gdrive_start_auth exactly.
func StartGDriveInteractiveAuth(ctx context.Context, clientID, clientSecret string) (*GDriveAuthResult, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("drive auth: bind local port: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	redirectURI := fmt.Sprintf("http://localhost:%d", port)

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  redirectURI,
		Scopes:       []string{driveFileScope},
	}
	authURL := conf.AuthCodeURL("state",
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))

	codeCh := make(chan string, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(authSuccessPage))
		codeCh <- code
	})
	srv := &http.Server{Handler: mux}
	go func() { _ = srv.Serve(listener) }()
	defer srv.Close()

	if err := browser.OpenURL(authURL); err != nil {
		return nil, fmt.Errorf("drive auth: open browser: %w", err)
	}

	var code string
	select {
	case code = <-codeCh:
	case <-time.After(120 * time.Second):
		return nil, fmt.Errorf("drive auth: timed out waiting for redirect")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if code == "" {
		return nil, fmt.Errorf("drive auth: no authorization code received")
	}

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("drive auth: code exchange failed: %w", err)
	}
	return &GDriveAuthResult{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}, nil
}
