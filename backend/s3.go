package backend

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

// S3Config parameterizes the S3-compatible provider. Region defaults to
// us-east-1, PathPrefix defaults to "klioreader/" if left empty by the
// caller (the factory applies these defaults; NewS3Provider does not).
type S3Config struct {
	Endpoint   string
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	PathPrefix string
}

// S3Provider signs every request with AWS SigV4 and talks to an
// S3-compatible REST API directly, rather than through the managed
// aws-sdk-go-v2 S3 client — the provider contract requires raw control
// over endpoint construction and list-response parsing that the managed
// client does not expose.
type S3Provider struct {
	cfg    S3Config
	signer *v4.Signer
	client *http.Client
}

func NewS3Provider(cfg S3Config) *S3Provider {
	return &S3Provider{
		cfg:    cfg,
		signer: v4.NewSigner(),
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *S3Provider) host() string {
	if p.cfg.Endpoint == "" {
		return fmt.Sprintf("%s.s3.%s.amazonaws.com", p.cfg.Bucket, p.cfg.Region)
	}
	u, err := url.Parse(p.cfg.Endpoint)
	if err != nil {
		return p.cfg.Endpoint
	}
	return u.Host
}

func (p *S3Provider) baseURL() string {
	if p.cfg.Endpoint == "" {
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", p.cfg.Bucket, p.cfg.Region)
	}
	return strings.TrimRight(p.cfg.Endpoint, "/") + "/" + p.cfg.Bucket
}

func (p *S3Provider) fullKey(key string) string {
	return p.cfg.PathPrefix + key
}

// uriEncodePath percent-encodes one path segment using the SigV4 unreserved
// set (A-Z a-z 0-9 - _ . ~); "/" separators are preserved.
func uriEncodePath(path string) string {
	segs := strings.Split(path, "/")
	for i, s := range segs {
		segs[i] = percentEncode(s)
	}
	return strings.Join(segs, "/")
}

func percentEncode(s string) string {
	var b strings.Builder
	for _, c := range []byte(s) {
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '_' || c == '.' || c == '~' {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// signAndDo signs req with SigV4 and executes it.
func (p *S3Provider) signAndDo(ctx context.Context, req *http.Request, payload []byte) (*http.Response, error) {
	sum := sha256.Sum256(payload)
	payloadHash := hex.EncodeToString(sum[:])

	now := time.Now().UTC()
	req.Header.Set("X-Amz-Date", now.Format("20060102T150405Z"))
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)
	req.Host = p.host()

	creds := aws.Credentials{AccessKeyID: p.cfg.AccessKey, SecretAccessKey: p.cfg.SecretKey}
	if err := p.signer.SignHTTP(ctx, creds, req, payloadHash, "s3", p.cfg.Region, now); err != nil {
		return nil, fmt.Errorf("sign s3 request: %w", err)
	}
	return p.client.Do(req)
}

func (p *S3Provider) newRequest(ctx context.Context, method, rawPath, rawQuery string, body []byte) (*http.Request, error) {
	u := p.baseURL() + uriEncodePath(rawPath)
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, fmt.Errorf("build s3 request: %w", err)
	}
	return req, nil
}

func (p *S3Provider) TestConnection(ctx context.Context) (bool, error) {
	_, err := p.ListFiles(ctx, "")
	if err != nil {
		return false, err
	}
	return true, nil
}

type s3Contents struct {
	Key          string `xml:"Key"`
	Size         int64  `xml:"Size"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
}

type s3ListBucketResult struct {
	XMLName               xml.Name      `xml:"ListBucketResult"`
	Contents              []s3Contents  `xml:"Contents"`
	IsTruncated           bool          `xml:"IsTruncated"`
	NextContinuationToken string        `xml:"NextContinuationToken"`
}

func (p *S3Provider) ListFiles(ctx context.Context, prefix string) ([]RemoteFile, error) {
	fullPrefix := p.fullKey(prefix)
	var out []RemoteFile
	continuation := ""
	for {
		q := url.Values{}
		q.Set("list-type", "2")
		q.Set("prefix", fullPrefix)
		if continuation != "" {
			q.Set("continuation-token", continuation)
		}
		req, err := p.newRequest(ctx, http.MethodGet, "/", q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		resp, err := p.signAndDo(ctx, req, nil)
		if err != nil {
			return nil, fmt.Errorf("s3 list failed: %w", err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("s3 list failed (%d): %s", resp.StatusCode, string(body))
		}

		var result s3ListBucketResult
		if err := xml.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("s3 list: parse response: %w", err)
		}
		for _, c := range result.Contents {
			if strings.HasSuffix(c.Key, "/") {
				continue
			}
			key := strings.TrimPrefix(c.Key, p.cfg.PathPrefix)
			etag := c.ETag
			out = append(out, RemoteFile{
				Key:          key,
				Size:         c.Size,
				LastModified: c.LastModified,
				ETag:         &etag,
			})
		}
		if !result.IsTruncated || result.NextContinuationToken == "" {
			break
		}
		continuation = result.NextContinuationToken
	}
	return out, nil
}

func (p *S3Provider) ReadBytes(ctx context.Context, key string) ([]byte, error) {
	req, err := p.newRequest(ctx, http.MethodGet, "/"+p.fullKey(key), "", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.signAndDo(ctx, req, nil)
	if err != nil {
		return nil, fmt.Errorf("s3 read failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("s3 read failed (%d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func (p *S3Provider) WriteBytes(ctx context.Context, key string, data []byte) error {
	req, err := p.newRequest(ctx, http.MethodPut, "/"+p.fullKey(key), "", data)
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := p.signAndDo(ctx, req, data)
	if err != nil {
		return fmt.Errorf("s3 write failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("s3 write failed (%d): %s", resp.StatusCode, string(body))
	}
	return nil
}

func (p *S3Provider) Upload(ctx context.Context, localPath, key string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	return p.WriteBytes(ctx, key, data)
}

func (p *S3Provider) Download(ctx context.Context, key, localPath string) error {
	data, err := p.ReadBytes(ctx, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("ensure parent dir: %w", err)
	}
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

func (p *S3Provider) Delete(ctx context.Context, key string) error {
	req, err := p.newRequest(ctx, http.MethodDelete, "/"+p.fullKey(key), "", nil)
	if err != nil {
		return err
	}
	resp, err := p.signAndDo(ctx, req, nil)
	if err != nil {
		return fmt.Errorf("s3 delete failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("s3 delete failed (%d): %s", resp.StatusCode, string(body))
	}
	return nil
}
