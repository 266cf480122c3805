package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// WebDavConfig parameterizes the WebDAV provider.
type WebDavConfig struct {
	URL        string
	Username   string
	Password   string
	PathPrefix string
}

// WebDavProvider authenticates with HTTP Basic and maps provider
// operations directly onto WebDAV methods. No WebDAV client library is
// used: see DESIGN.md for why net/http is the right vehicle here.
type WebDavProvider struct {
	baseURL    string
	username   string
	password   string
	pathPrefix string
	client     *http.Client
}

func NewWebDavProvider(cfg WebDavConfig) *WebDavProvider {
	prefix := cfg.PathPrefix
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &WebDavProvider{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		pathPrefix: prefix,
		client:     &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *WebDavProvider) authHeader() string {
	creds := p.username + ":" + p.password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
}

func (p *WebDavProvider) fullURL(key string) string {
	return p.baseURL + p.pathPrefix + key
}

func (p *WebDavProvider) ensureDirectory(ctx context.Context, path string) {
	url := p.baseURL + path
	req, err := http.NewRequestWithContext(ctx, "MKCOL", url, nil)
	if err != nil {
		return
	}
	req.Header.Set("Authorization", p.authHeader())
	resp, err := p.client.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
	// MKCOL on an existing collection fails; that failure is success here.
}

func (p *WebDavProvider) TestConnection(ctx context.Context) (bool, error) {
	p.ensureDirectory(ctx, p.pathPrefix)

	url := p.baseURL + p.pathPrefix
	req, err := http.NewRequestWithContext(ctx, "PROPFIND", url, strings.NewReader(
		`<?xml version="1.0" encoding="utf-8"?><d:propfind xmlns:d="DAV:"><d:prop><d:resourcetype/></d:prop></d:propfind>`))
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", p.authHeader())
	req.Header.Set("Depth", "0")
	req.Header.Set("Content-Type", "application/xml")

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("WebDAV connection failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusMultiStatus, http.StatusOK:
		return true, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return false, fmt.Errorf("Autenticación fallida. Verifica usuario y contraseña.")
	default:
		return false, fmt.Errorf("WebDAV error: HTTP %d", resp.StatusCode)
	}
}

func (p *WebDavProvider) ListFiles(ctx context.Context, prefix string) ([]RemoteFile, error) {
	var url string
	if prefix == "" {
		url = p.baseURL + p.pathPrefix
	} else {
		url = p.baseURL + p.pathPrefix + prefix
	}

	req, err := http.NewRequestWithContext(ctx, "PROPFIND", url, strings.NewReader(
		`<?xml version="1.0" encoding="utf-8"?><d:propfind xmlns:d="DAV:"><d:prop><d:getcontentlength/><d:getlastmodified/><d:getetag/><d:resourcetype/></d:prop></d:propfind>`))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", p.authHeader())
	req.Header.Set("Depth", "1")
	req.Header.Set("Content-Type", "application/xml")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("WebDAV PROPFIND failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("WebDAV list failed (%d): %s", resp.StatusCode, string(body))
	}

	var files []RemoteFile
	text := string(body)
	for _, block := range strings.Split(text, "<d:response>")[1:] {
		if strings.Contains(block, "<d:collection") {
			continue
		}

		href := davValue(block, "d:href")
		if href == "" {
			href = davValue(block, "D:href")
		}
		if href == "" {
			href = davValue(block, "href")
		}

		sizeStr := davValue(block, "d:getcontentlength")
		size, _ := strconv.ParseInt(sizeStr, 10, 64)
		lastModified := davValue(block, "d:getlastmodified")
		etagVal := davValue(block, "d:getetag")

		decodedHref := urlDecode(href)
		var key string
		if idx := strings.Index(decodedHref, p.pathPrefix); idx >= 0 {
			key = decodedHref[idx+len(p.pathPrefix):]
		} else {
			parts := strings.Split(decodedHref, "/")
			key = parts[len(parts)-1]
		}

		if key == "" || strings.HasSuffix(key, "/") {
			continue
		}

		var etag *string
		if etagVal != "" {
			etag = &etagVal
		}
		files = append(files, RemoteFile{
			Key:          key,
			Size:         size,
			LastModified: lastModified,
			ETag:         etag,
		})
	}

	return files, nil
}

func (p *WebDavProvider) Upload(ctx context.Context, localPath, key string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("Read file: %w", err)
	}

	if idx := strings.LastIndex(key, "/"); idx >= 0 {
		p.ensureDirectory(ctx, p.pathPrefix+key[:idx])
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, p.fullURL(key), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", p.authHeader())
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = int64(len(data))

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("WebDAV upload failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("WebDAV upload failed (%d): %s", resp.StatusCode, string(body))
	}
	return nil
}

func (p *WebDavProvider) Download(ctx context.Context, key, localPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.fullURL(key), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", p.authHeader())

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("WebDAV download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("WebDAV download failed (%d): %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0o644)
}

func (p *WebDavProvider) Delete(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.fullURL(key), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", p.authHeader())

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("WebDAV delete failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("WebDAV delete failed (%d): %s", resp.StatusCode, string(body))
	}
	return nil
}

func (p *WebDavProvider) ReadBytes(ctx context.Context, key string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.fullURL(key), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", p.authHeader())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("WebDAV read failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("WebDAV read failed (%d): %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}

func (p *WebDavProvider) WriteBytes(ctx context.Context, key string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, p.fullURL(key), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", p.authHeader())
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = int64(len(data))

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("WebDAV write failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("WebDAV write failed (%d): %s", resp.StatusCode, string(body))
	}
	return nil
}

// davValue extracts the text content of a WebDAV property tag from one
// <d:response> block, tolerating self-closing (empty) tags. A tag given
// without a namespace prefix is looked up as "d:"+tag, then "D:"+tag,
// then bare.
func davValue(block, tag string) string {
	if !strings.Contains(tag, ":") {
		for _, prefixed := range []string{"d:" + tag, "D:" + tag} {
			if v := davValue(block, prefixed); v != "" {
				return v
			}
		}
	}
	open := "<" + tag + ">"
	close := "</" + tag + ">"
	openSelf := "<" + tag + "/>"

	if strings.Contains(block, openSelf) {
		return ""
	}
	start := strings.Index(block, open)
	if start < 0 {
		return ""
	}
	start += len(open)
	end := strings.Index(block[start:], close)
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(block[start : start+end])
}

func urlDecode(s string) string {
	var b strings.Builder
	bs := []byte(s)
	for i := 0; i < len(bs); i++ {
		if bs[i] == '%' && i+2 < len(bs) {
			if v, err := strconv.ParseUint(string(bs[i+1:i+3]), 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 2
				continue
			}
		}
		b.WriteByte(bs[i])
	}
	return b.String()
}
