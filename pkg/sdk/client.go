// Package sdk is the client library for the assetgrid daemon. It wraps the
// HTTP API, maps statuses back to sentinel errors, and provides lock
// sessions that keep leases alive while an editor is open.
//
// Validation runs the exact same compiled checkers on both sides: the
// daemon and this package both import pkg/schema, so a value that passes
// CheckLocal will pass the server and vice versa.
package sdk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/assetgrid-dev/assetgrid-core/pkg/schema"
)

// Client talks to one assetgrid daemon. Safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the daemon at baseURL authenticating with the
// given bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FromEnv creates a client from ASSETGRID_ADDR and ASSETGRID_TOKEN.
func FromEnv() (*Client, error) {
	addr := os.Getenv("ASSETGRID_ADDR")
	if addr == "" {
		return nil, fmt.Errorf("ASSETGRID_ADDR is not set")
	}
	token := os.Getenv("ASSETGRID_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("ASSETGRID_TOKEN is not set")
	}
	return New(addr, token), nil
}

// apiError is the daemon's error envelope.
type apiError struct {
	Error  string            `json:"error"`
	Errors map[string]string `json:"errors"`
}

// do sends one request and decodes the response into out (nil to discard).
// Transport failures are retried up to 3 times with backoff; HTTP-level
// rejections are mapped to sentinel errors and never retried.
func (c *Client) do(method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	var lastErr error
	for i := 0; i < 3; i++ {
		if i > 0 {
			time.Sleep(time.Duration(i*200) * time.Millisecond)
		}

		req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		return c.decode(resp, out)
	}
	return fmt.Errorf("failed after 3 attempts. last error: %v", lastErr)
}

func (c *Client) decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.Unmarshal(data, out)
	}

	var envelope apiError
	json.Unmarshal(data, &envelope)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, envelope.Error)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, envelope.Error)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, envelope.Error)
	case http.StatusUnprocessableEntity:
		return &ValidationError{Messages: envelope.Errors}
	default:
		if envelope.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, envelope.Error)
		}
		return fmt.Errorf("server error (%d)", resp.StatusCode)
	}
}

// --- Field definitions ---

func (c *Client) ListFields() ([]schema.FieldDefinition, error) {
	var defs []schema.FieldDefinition
	err := c.do("GET", "/api/fields", nil, &defs)
	return defs, err
}

func (c *Client) GetField(id string) (schema.FieldDefinition, error) {
	var def schema.FieldDefinition
	err := c.do("GET", "/api/fields/"+url.PathEscape(id), nil, &def)
	return def, err
}

func (c *Client) CreateField(def schema.FieldDefinition) (schema.FieldDefinition, error) {
	var out struct {
		Field schema.FieldDefinition `json:"field"`
	}
	err := c.do("POST", "/api/fields", def, &out)
	return out.Field, err
}

func (c *Client) UpdateField(def schema.FieldDefinition) (schema.FieldDefinition, error) {
	var out struct {
		Field schema.FieldDefinition `json:"field"`
	}
	err := c.do("PUT", "/api/fields/"+url.PathEscape(def.ID), def, &out)
	return out.Field, err
}

func (c *Client) DeleteField(id string) error {
	return c.do("DELETE", "/api/fields/"+url.PathEscape(id), nil, nil)
}

// --- Assets ---

func (c *Client) ListAssets() ([]Asset, error) {
	var assets []Asset
	err := c.do("GET", "/api/assets", nil, &assets)
	return assets, err
}

func (c *Client) GetAsset(id string) (Asset, error) {
	var a Asset
	err := c.do("GET", "/api/assets/"+url.PathEscape(id), nil, &a)
	return a, err
}

func (c *Client) CreateAsset(metadata map[string]any) (Asset, error) {
	var out struct {
		Asset Asset `json:"asset"`
	}
	err := c.do("POST", "/api/assets", map[string]any{"metadata": metadata}, &out)
	return out.Asset, err
}

func (c *Client) DeleteAsset(id string) error {
	return c.do("DELETE", "/api/assets/"+url.PathEscape(id), nil, nil)
}

// UpdateAssetField writes one value. The returned strings are the server's
// log trail for the write, including the warning for unlocked writes.
func (c *Client) UpdateAssetField(assetID, fieldID string, value any) ([]string, error) {
	var out struct {
		LogMessages []string `json:"log_messages"`
	}
	err := c.do("PUT", c.fieldPath(assetID, fieldID), map[string]any{"value": value}, &out)
	return out.LogMessages, err
}

func (c *Client) fieldPath(assetID, fieldID string) string {
	return "/api/assets/" + url.PathEscape(assetID) + "/fields/" + url.PathEscape(fieldID)
}

// --- Locks ---

func (c *Client) AcquireFieldLock(assetID, fieldID string) (LockResult, error) {
	var res LockResult
	err := c.do("POST", c.fieldPath(assetID, fieldID)+"/lock", nil, &res)
	return res, err
}

func (c *Client) RenewFieldLock(assetID, fieldID string) (LockResult, error) {
	var res LockResult
	err := c.do("POST", c.fieldPath(assetID, fieldID)+"/renew", nil, &res)
	return res, err
}

func (c *Client) ReleaseFieldLock(assetID, fieldID string) (LockResult, error) {
	var res LockResult
	err := c.do("POST", c.fieldPath(assetID, fieldID)+"/unlock", nil, &res)
	return res, err
}

func (c *Client) FieldLockState(assetID, fieldID string) (LockState, error) {
	var state LockState
	err := c.do("GET", c.fieldPath(assetID, fieldID)+"/lock", nil, &state)
	return state, err
}

func (c *Client) AssetLockStates(assetID string) (map[string]LockState, error) {
	var states map[string]LockState
	err := c.do("GET", "/api/assets/"+url.PathEscape(assetID)+"/locks", nil, &states)
	return states, err
}

func (c *Client) AcquireRecordLock(fieldID string) (LockResult, error) {
	var res LockResult
	err := c.do("POST", "/api/fields/"+url.PathEscape(fieldID)+"/lock", nil, &res)
	return res, err
}

func (c *Client) RenewRecordLock(fieldID string) (LockResult, error) {
	var res LockResult
	err := c.do("POST", "/api/fields/"+url.PathEscape(fieldID)+"/renew", nil, &res)
	return res, err
}

func (c *Client) ReleaseRecordLock(fieldID string) (LockResult, error) {
	var res LockResult
	err := c.do("POST", "/api/fields/"+url.PathEscape(fieldID)+"/unlock", nil, &res)
	return res, err
}

func (c *Client) RecordLockState(fieldID string) (LockState, error) {
	var state LockState
	err := c.do("GET", "/api/fields/"+url.PathEscape(fieldID)+"/lock", nil, &state)
	return state, err
}

// --- Validation and audit ---

// Validate asks the server to check a metadata map without writing anything.
func (c *Client) Validate(metadata map[string]any) (map[string]string, error) {
	var out struct {
		Errors map[string]string `json:"errors"`
	}
	err := c.do("POST", "/api/validate", map[string]any{"metadata": metadata}, &out)
	return out.Errors, err
}

// CheckLocal validates a single value against a definition without a round
// trip. The result is authoritative because the server runs the same code.
func CheckLocal(def schema.FieldDefinition, value any) (string, error) {
	return schema.ValidateOne(def, value)
}

func (c *Client) Audit(assetID string, limit int) ([]AuditEntry, error) {
	q := url.Values{}
	if assetID != "" {
		q.Set("asset", assetID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/audit"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var entries []AuditEntry
	err := c.do("GET", path, nil, &entries)
	return entries, err
}

var _ AssetGrid = (*Client)(nil)
