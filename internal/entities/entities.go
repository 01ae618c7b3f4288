// Package entities is the C11/§6.2 HTTP client for the four external CRUD
// services (User/Team/Project/Task), grounded on the teacher's
// internal/embedding/client.go style: plain net/http + encoding/json,
// explicit request/response structs, no generated client.
package entities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"taskpilot/internal/errs"
)

const defaultTimeout = 15 * time.Second

// Page is the §6.2 FindAll envelope.
type Page struct {
	Data       []map[string]any `json:"data"`
	Total      int              `json:"total"`
	Page       int              `json:"page"`
	Limit      int              `json:"limit"`
	TotalPages int              `json:"totalPages"`
}

// Client is a thin REST client for one collection (one entity kind) under
// a shared base URL, per §6.5.A's `<base>/users|teams|projects|tasks` layout.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
}

// New constructs a Client for the given collection ("users", "teams",
// "projects", "tasks") rooted at baseURL.
func New(baseURL, collection string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), collection: collection, httpClient: httpClient}
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("%s/%s%s", c.baseURL, c.collection, path)
}

// Create posts dto and returns the created entity.
func (c *Client) Create(ctx context.Context, dto map[string]any) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodPost, c.url(""), dto, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FindOne fetches a single entity by id.
func (c *Client) FindOne(ctx context.Context, id string) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, c.url("/"+url.PathEscape(id)), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FindAll lists entities page by page; pageSize of 1000 is the §6.2
// convention the Entity Resolver uses to enumerate "all" entities.
func (c *Client) FindAll(ctx context.Context, page, pageSize int, search string) (Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(pageSize))
	if search != "" {
		q.Set("search", search)
	}
	var out Page
	if err := c.do(ctx, http.MethodGet, c.url("?"+q.Encode()), nil, &out); err != nil {
		return Page{}, err
	}
	return out, nil
}

// Update patches an entity.
func (c *Client) Update(ctx context.Context, id string, patch map[string]any) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodPatch, c.url("/"+url.PathEscape(id)), patch, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Remove deletes an entity.
func (c *Client) Remove(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.url("/"+url.PathEscape(id)), nil, nil)
}

func (c *Client) do(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errs.NewValidation("encode request: " + err.Error())
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return errs.NewInternal("build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.NewUpstream(method+" "+url, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.NewUpstream("read response body", err)
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return errs.NewNotFound(c.collection + ": not found")
	case http.StatusConflict:
		return errs.NewConflict(c.collection + ": " + string(raw))
	}
	if resp.StatusCode/100 != 2 {
		return errs.NewUpstream(fmt.Sprintf("%s %s: %s: %s", method, url, resp.Status, string(raw)), nil)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errs.NewUpstream("decode response", err)
	}
	return nil
}
