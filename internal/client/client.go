package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"sitebox/internal/store"
)

// FilePayload is one file within an upload batch, content base64
// encoded for transport.
type FilePayload struct {
	Path        string `json:"path"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
}

// APIError is a non-2xx response from the deployment API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

// Client talks to the deployment API on behalf of the CLI.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates an API client. A non-empty token is sent as a bearer
// credential on every request.
func New(baseURL, token string) *Client {
	httpClient := &http.Client{Timeout: 5 * time.Minute}
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), ts)
		httpClient.Timeout = 5 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpClient,
	}
}

// SiteURL returns the public serving URL for a site slug.
func (c *Client) SiteURL(slug string) string {
	return fmt.Sprintf("%s/sites/%s/", c.baseURL, slug)
}

// CreateSite provisions a new site.
func (c *Client) CreateSite(ctx context.Context, slug, owner, accessMode string) (*store.Site, error) {
	var site store.Site
	err := c.do(ctx, "POST", "/api/sites", map[string]string{
		"slug": slug, "owner": owner, "access_mode": accessMode,
	}, &site)
	if err != nil {
		return nil, err
	}
	return &site, nil
}

// GetSite fetches a site by id or slug.
func (c *Client) GetSite(ctx context.Context, idOrSlug string) (*store.Site, error) {
	var site store.Site
	if err := c.do(ctx, "GET", "/api/sites/"+idOrSlug, nil, &site); err != nil {
		return nil, err
	}
	return &site, nil
}

// CreateDeployment allocates a pending deployment for a site.
func (c *Client) CreateDeployment(ctx context.Context, siteID, message string) (*store.Deployment, error) {
	payload := map[string]string{}
	if message != "" {
		payload["message"] = message
	}
	var dep store.Deployment
	if err := c.do(ctx, "POST", "/api/sites/"+siteID+"/deployments", payload, &dep); err != nil {
		return nil, err
	}
	return &dep, nil
}

// MarkProcessing transitions a deployment to processing.
func (c *Client) MarkProcessing(ctx context.Context, deploymentID string) error {
	return c.do(ctx, "POST", "/api/deployments/"+deploymentID+"/processing", nil, nil)
}

// UploadFiles submits one batch of files.
func (c *Client) UploadFiles(ctx context.Context, deploymentID string, files []FilePayload) error {
	return c.do(ctx, "POST", "/api/deployments/"+deploymentID+"/files",
		map[string]interface{}{"files": files}, nil)
}

// Finalize completes a deployment with the client-side accounting.
func (c *Client) Finalize(ctx context.Context, deploymentID string, fileCount int, totalSize int64) (*store.Deployment, error) {
	var dep store.Deployment
	err := c.do(ctx, "POST", "/api/deployments/"+deploymentID+"/finalize", map[string]interface{}{
		"file_count": fileCount,
		"total_size": totalSize,
	}, &dep)
	if err != nil {
		return nil, err
	}
	return &dep, nil
}

// MarkFailed explicitly fails a deployment.
func (c *Client) MarkFailed(ctx context.Context, deploymentID string) error {
	return c.do(ctx, "POST", "/api/deployments/"+deploymentID+"/failed", nil, nil)
}

// do performs one API round trip, decoding a JSON error body into a
// typed APIError on non-2xx responses.
func (c *Client) do(ctx context.Context, method, path string, payload, result interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
