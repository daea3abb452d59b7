package backfill

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/factline/factline/internal/upload"
)

const (
	checkTimeout  = 30 * time.Second
	uploadTimeout = 5 * time.Minute
)

// Client talks to a running factline server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: uploadTimeout},
	}
}

type checkLinksResponse struct {
	Missing []string `json:"missing"`
	OK      bool     `json:"ok"`
}

// CheckLinks reports which file names have no mapping on the server.
func (c *Client) CheckLinks(ctx context.Context, linkType string, fileNames []string) ([]string, error) {
	payload, err := json.Marshal(map[string]any{
		"link_type": linkType,
		"link_ids":  fileNames,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/links/check", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		if classifyTransient(resp.StatusCode, body) {
			return nil, &transientError{status: resp.StatusCode, body: truncate(body)}
		}
		return nil, fmt.Errorf("links check failed: status %d: %s", resp.StatusCode, truncate(body))
	}

	var parsed checkLinksResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("links check: malformed response: %w", err)
	}
	return parsed.Missing, nil
}

// UploadOutcome is one terminal upload status. Skipped carries the
// server's replace decision, it is not a failure.
type UploadOutcome struct {
	StatusCode int
	Result     *upload.Result
}

// UploadFile streams one NDJSON file as a multipart upload.
func (c *Client) UploadFile(ctx context.Context, sourceID, path string, overwrite bool) (*UploadOutcome, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("data_source_id", sourceID); err != nil {
		return nil, err
	}
	if err := writer.WriteField("overwrite", strconv.FormatBool(overwrite)); err != nil {
		return nil, err
	}
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/uploads", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusConflict:
		var result upload.Result
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("upload: malformed response: %w", err)
		}
		return &UploadOutcome{StatusCode: resp.StatusCode, Result: &result}, nil
	default:
		if classifyTransient(resp.StatusCode, body) {
			return nil, &transientError{status: resp.StatusCode, body: truncate(body)}
		}
		return nil, fmt.Errorf("upload failed: status %d: %s", resp.StatusCode, truncate(body))
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

type transientError struct {
	status int
	body   string
}

func (e *transientError) Error() string {
	return fmt.Sprintf("transient upstream failure: status %d: %s", e.status, e.body)
}

// classifyTransient spots proxy and load-balancer hiccups: the listed
// statuses with an HTML body come from infrastructure in front of the
// API, not from the API itself, and usually clear on retry.
func classifyTransient(status int, body []byte) bool {
	switch status {
	case http.StatusNotFound,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable:
	default:
		return false
	}
	return looksLikeHTML(body)
}

func looksLikeHTML(body []byte) bool {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return false
	}
	lower := strings.ToLower(trimmed)
	return strings.HasPrefix(lower, "<!doctype html") ||
		strings.HasPrefix(lower, "<html") ||
		strings.Contains(lower, "<title>")
}

func truncate(body []byte) string {
	const max = 512
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
