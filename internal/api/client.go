package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/breezedrive/breezedrive/internal/logging"
	"github.com/breezedrive/breezedrive/pkg/models"
	"github.com/breezedrive/breezedrive/pkg/retry"
)

// Client talks to the storage backend with retry and bearer auth.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config

	mu        sync.RWMutex
	online    bool
	authToken string
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	AuthToken   string
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		online:      true,
		authToken:   cfg.AuthToken,
	}
}

// SetAuthToken sets the bearer token for requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// IsOnline returns true if the server was reachable on the last request.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online != online {
		if online {
			logging.Info("server is back online")
		} else {
			logging.Warn("server is offline")
		}
	}
	c.online = online
}

// do issues a JSON request, decoding the response into out when non-nil.
// 5xx and transport errors are marked retryable; other failures decode the
// backend error body into an *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	return retry.Do(ctx, c.retryConfig, func() error {
		var reqBody io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return err
			}
			reqBody = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			return retry.Retryable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			c.setOnline(false)
			return retry.Retryable(fmt.Errorf("server error: %d", resp.StatusCode))
		}
		c.setOnline(true)

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := &APIError{Status: resp.StatusCode}
			var errResp ErrorResponse
			if json.NewDecoder(resp.Body).Decode(&errResp) == nil {
				apiErr.Message = errResp.Error
			}
			return apiErr
		}

		if out != nil {
			return json.NewDecoder(resp.Body).Decode(out)
		}
		return nil
	})
}

// ListDisks returns all disks visible to the user.
func (c *Client) ListDisks(ctx context.Context) ([]*models.Disk, error) {
	var resp DiskListResponse
	if err := c.do(ctx, "GET", "/api/v1/disks", nil, &resp); err != nil {
		return nil, fmt.Errorf("list disks: %w", err)
	}
	return resp.Disks, nil
}

// ListFiles returns the direct children of a folder. An empty parentID
// lists the disk root.
func (c *Client) ListFiles(ctx context.Context, diskID, parentID string) ([]*models.FileItem, error) {
	path := "/api/v1/disks/" + url.PathEscape(diskID) + "/files"
	if parentID != "" {
		path += "?parent_id=" + url.QueryEscape(parentID)
	}
	var resp FileListResponse
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return resp.Files, nil
}

// ListAllFiles returns the full flat item list of a disk.
func (c *Client) ListAllFiles(ctx context.Context, diskID string) ([]*models.FileItem, error) {
	var resp FileListResponse
	if err := c.do(ctx, "GET", "/api/v1/disks/"+url.PathEscape(diskID)+"/files/all", nil, &resp); err != nil {
		return nil, fmt.Errorf("list all files: %w", err)
	}
	return resp.Files, nil
}

// GetFile fetches a single item by id.
func (c *Client) GetFile(ctx context.Context, id string) (*models.FileItem, error) {
	var resp FileResponse
	if err := c.do(ctx, "GET", "/api/v1/files/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return resp.File, nil
}

// CreateFolder creates a folder and returns the authoritative item.
func (c *Client) CreateFolder(ctx context.Context, name, parentID, diskID string) (*models.FileItem, error) {
	var resp FileResponse
	req := CreateFolderRequest{Name: name, ParentID: parentID, DiskID: diskID}
	if err := c.do(ctx, "POST", "/api/v1/folders", req, &resp); err != nil {
		return nil, fmt.Errorf("create folder: %w", err)
	}
	return resp.File, nil
}

// CreateNote creates a note item.
func (c *Client) CreateNote(ctx context.Context, name, content, parentID, diskID string) (*models.FileItem, error) {
	var resp FileResponse
	req := CreateNoteRequest{Name: name, Content: content, ParentID: parentID, DiskID: diskID}
	if err := c.do(ctx, "POST", "/api/v1/notes", req, &resp); err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}
	return resp.File, nil
}

// CreateURL creates a url bookmark item.
func (c *Client) CreateURL(ctx context.Context, name, target, parentID, diskID string) (*models.FileItem, error) {
	var resp FileResponse
	req := CreateURLRequest{Name: name, URL: target, ParentID: parentID, DiskID: diskID}
	if err := c.do(ctx, "POST", "/api/v1/urls", req, &resp); err != nil {
		return nil, fmt.Errorf("create url: %w", err)
	}
	return resp.File, nil
}

// DeleteFile deletes an item (the backend removes descendants).
func (c *Client) DeleteFile(ctx context.Context, id string) error {
	if err := c.do(ctx, "DELETE", "/api/v1/files/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// RenameFile renames an item.
func (c *Client) RenameFile(ctx context.Context, id, name string) error {
	if err := c.do(ctx, "PATCH", "/api/v1/files/"+url.PathEscape(id)+"/name", RenameRequest{Name: name}, nil); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

// PinFile sets an item's pinned flag.
func (c *Client) PinFile(ctx context.Context, id string, pinned bool) error {
	if err := c.do(ctx, "PATCH", "/api/v1/files/"+url.PathEscape(id)+"/pin", PinRequest{Pinned: pinned}, nil); err != nil {
		return fmt.Errorf("pin file: %w", err)
	}
	return nil
}

// MoveFiles moves the given root ids (with their subtrees) to a target folder.
func (c *Client) MoveFiles(ctx context.Context, req TransferRequest) error {
	if err := c.do(ctx, "POST", "/api/v1/files/move", req, nil); err != nil {
		return fmt.Errorf("move files: %w", err)
	}
	return nil
}

// CopyFiles copies the given root ids (with their subtrees) to a target folder.
func (c *Client) CopyFiles(ctx context.Context, req TransferRequest) error {
	if err := c.do(ctx, "POST", "/api/v1/files/copy", req, nil); err != nil {
		return fmt.Errorf("copy files: %w", err)
	}
	return nil
}

// SearchFiles runs a backend full-text search on one disk.
func (c *Client) SearchFiles(ctx context.Context, diskID, query string) ([]*models.FileItem, error) {
	path := "/api/v1/disks/" + url.PathEscape(diskID) + "/search?q=" + url.QueryEscape(query)
	var resp FileListResponse
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, fmt.Errorf("search files: %w", err)
	}
	return resp.Files, nil
}

// RefreshFileURL requests fresh content URLs for an item whose signed URL
// has expired.
func (c *Client) RefreshFileURL(ctx context.Context, id string) (urlStr, thumbnail string, err error) {
	var resp RefreshURLResponse
	if err := c.do(ctx, "POST", "/api/v1/files/"+url.PathEscape(id)+"/refresh-url", nil, &resp); err != nil {
		return "", "", fmt.Errorf("refresh file url: %w", err)
	}
	return resp.URL, resp.Thumbnail, nil
}

// UploadWithPresignedURL uploads content in two steps: request a presigned
// target, then PUT the bytes directly. onProgress, when non-nil, is invoked
// as bytes are written. Returns the confirmed file id.
func (c *Client) UploadWithPresignedURL(ctx context.Context, content []byte, name, diskID, parentID, deviceID string, onProgress func(done, total int64)) (string, error) {
	presign := PresignRequest{
		Name:     name,
		Size:     int64(len(content)),
		ParentID: parentID,
		DiskID:   diskID,
		DeviceID: deviceID,
	}
	var target PresignResponse
	if err := c.do(ctx, "POST", "/api/v1/uploads", presign, &target); err != nil {
		return "", fmt.Errorf("presign upload: %w", err)
	}

	err := retry.Do(ctx, c.retryConfig, func() error {
		var body io.Reader = bytes.NewReader(content)
		if onProgress != nil {
			body = &progressReader{r: body, total: int64(len(content)), onProgress: onProgress}
		}

		req, err := http.NewRequestWithContext(ctx, "PUT", target.UploadURL, body)
		if err != nil {
			return err
		}
		req.ContentLength = int64(len(content))
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			return retry.Retryable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return retry.Retryable(fmt.Errorf("upload failed: %d", resp.StatusCode))
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &APIError{Status: resp.StatusCode, Message: "upload rejected"}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return target.FileID, nil
}

// CreateDisk creates a new disk.
func (c *Client) CreateDisk(ctx context.Context, name string, total float64, unit models.SizeUnit) (*models.Disk, error) {
	var resp struct {
		Disk *models.Disk `json:"disk"`
	}
	req := CreateDiskRequest{Name: name, Total: total, Unit: unit}
	if err := c.do(ctx, "POST", "/api/v1/disks", req, &resp); err != nil {
		return nil, fmt.Errorf("create disk: %w", err)
	}
	return resp.Disk, nil
}

// DeleteDisk deletes a disk and everything on it.
func (c *Client) DeleteDisk(ctx context.Context, id string) error {
	if err := c.do(ctx, "DELETE", "/api/v1/disks/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("delete disk: %w", err)
	}
	return nil
}

// FormatDisk wipes a disk's contents, keeping the disk itself.
func (c *Client) FormatDisk(ctx context.Context, id string) error {
	if err := c.do(ctx, "POST", "/api/v1/disks/"+url.PathEscape(id)+"/format", nil, nil); err != nil {
		return fmt.Errorf("format disk: %w", err)
	}
	return nil
}

// RenameDisk renames a disk.
func (c *Client) RenameDisk(ctx context.Context, id, name string) error {
	if err := c.do(ctx, "PATCH", "/api/v1/disks/"+url.PathEscape(id)+"/name", RenameRequest{Name: name}, nil); err != nil {
		return fmt.Errorf("rename disk: %w", err)
	}
	return nil
}

// ResizeDisk changes a disk's total capacity.
func (c *Client) ResizeDisk(ctx context.Context, id string, total float64, unit models.SizeUnit) error {
	req := ResizeDiskRequest{Total: total, Unit: unit}
	if err := c.do(ctx, "PATCH", "/api/v1/disks/"+url.PathEscape(id)+"/size", req, nil); err != nil {
		return fmt.Errorf("resize disk: %w", err)
	}
	return nil
}

// MergeDisks merges a source disk's contents into a target disk.
func (c *Client) MergeDisks(ctx context.Context, sourceID, targetID string) error {
	req := MergeDisksRequest{SourceID: sourceID, TargetID: targetID}
	if err := c.do(ctx, "POST", "/api/v1/disks/merge", req, nil); err != nil {
		return fmt.Errorf("merge disks: %w", err)
	}
	return nil
}

// GetUsage fetches the user's quota baseline.
func (c *Client) GetUsage(ctx context.Context) (models.Usage, error) {
	var resp UsageResponse
	if err := c.do(ctx, "GET", "/api/v1/usage", nil, &resp); err != nil {
		return models.Usage{}, fmt.Errorf("get usage: %w", err)
	}
	return resp.Usage, nil
}

// SetUsage pushes the user's usage to the quota store.
func (c *Client) SetUsage(ctx context.Context, u models.Usage) error {
	if err := c.do(ctx, "PUT", "/api/v1/usage", UsageResponse{Usage: u}, nil); err != nil {
		return fmt.Errorf("set usage: %w", err)
	}
	return nil
}

type progressReader struct {
	r          io.Reader
	done       int64
	total      int64
	onProgress func(done, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		p.onProgress(p.done, p.total)
	}
	return n, err
}
