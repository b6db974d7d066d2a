/*
 * Copyright (c) 2025 by the Organote Authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ProgressFunc reports upload progress as bytes sent of total.
type ProgressFunc func(done, total int64)

// Client talks to the blob store API. It also fetches arbitrary
// external export URLs, sharing the size cap and timeout policy.
type Client struct {
	BaseURL string

	// Token is the account bearer token presented when requesting an
	// upload grant. Empty against servers that allow open uploads.
	Token string

	client *http.Client
}

// NewClient creates a blob store client. baseURL may include a
// trailing slash; it will be normalized.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// requestUploadToken exchanges the account token for a short-lived
// upload grant.
func (c *Client) requestUploadToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/uploads", nil)
	if err != nil {
		return "", err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload token: %s", resp.Status)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("upload token: %w", err)
	}
	if body.Token == "" {
		return "", fmt.Errorf("upload token: empty response")
	}
	return body.Token, nil
}

// UploadBlob publishes an opaque payload and returns its id.
func (c *Client) UploadBlob(ctx context.Context, data []byte) (string, error) {
	return c.UploadBlobProgress(ctx, data, nil)
}

// UploadBlobProgress is UploadBlob with a progress callback, used by
// the UI to show share progress for large boards.
func (c *Client) UploadBlobProgress(ctx context.Context, data []byte, progress ProgressFunc) (string, error) {
	if len(data) > MaxBlobBytes {
		return "", fmt.Errorf("upload: payload exceeds %d bytes", MaxBlobBytes)
	}
	token, err := c.requestUploadToken(ctx)
	if err != nil {
		return "", err
	}

	var body io.Reader = bytes.NewReader(data)
	if progress != nil {
		body = &progressReader{r: body, total: int64(len(data)), fn: progress}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.BaseURL+"/api/blobs", body)
	if err != nil {
		return "", err
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("upload: %s", resp.Status)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("upload: server returned no id")
	}
	return out.ID, nil
}

// FetchBlob retrieves a published payload by id.
func (c *Client) FetchBlob(ctx context.Context, id string) ([]byte, error) {
	return c.FetchURL(ctx, c.BaseURL+"/api/blobs/"+id)
}

// FetchURL retrieves an arbitrary export document, e.g. an external
// board link. Responses are capped at the blob size limit.
func (c *Client) FetchURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: %s", url, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBlobBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if len(data) > MaxBlobBytes {
		return nil, fmt.Errorf("fetch %s: response exceeds %d bytes", url, MaxBlobBytes)
	}
	return data, nil
}

// progressReader reports cumulative read progress while the HTTP
// transport drains the request body.
type progressReader struct {
	r     io.Reader
	total int64
	done  int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		p.fn(p.done, p.total)
	}
	return n, err
}
