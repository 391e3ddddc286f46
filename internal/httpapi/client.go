package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clickstream/internal/apperr"
	"clickstream/internal/model"
	"clickstream/internal/snapshot"
)

// Client calls the report and snapshot routes of the process that owns an
// embedded store. It satisfies Reporter and Snapshotter.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Generate(ctx context.Context, brand string) (model.Report, error) {
	var r model.Report
	err := c.post(ctx, "/reports", reportRequest{Brand: &brand}, http.StatusOK, &r)
	return r, err
}

func (c *Client) Snapshot(ctx context.Context, id string) (snapshot.Manifest, error) {
	var m snapshot.Manifest
	err := c.post(ctx, "/snapshots", snapshotRequest{ID: id}, http.StatusCreated, &m)
	return m, err
}

func (c *Client) post(ctx context.Context, path string, body any, want int, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.StoreUnavailable("post "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return statusError(path, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// statusError maps a problem response back to the error kind that produced it.
func statusError(path string, resp *http.Response) error {
	var p Problem
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if json.Unmarshal(data, &p) != nil || p.Detail == "" {
		p.Detail = strings.TrimSpace(string(data))
	}
	err := fmt.Errorf("post %s: %s: %s", path, resp.Status, p.Detail)
	switch resp.StatusCode {
	case http.StatusBadRequest:
		return apperr.BadRequest(p.Detail)
	case http.StatusServiceUnavailable:
		return apperr.StoreUnavailable("remote store", err)
	default:
		return err
	}
}
