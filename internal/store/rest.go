package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/santerog80-rgb/Talkio/internal/domain"
)

// REST implements domain.DataStore against the backend's REST data
// endpoint, where each table is exposed under /rest/v1/<table> and filters
// are query parameters of the form column=eq.value.
type REST struct {
	baseURL string
	apiKey  string
	token   string
	client  *http.Client
}

// NewREST creates a store rooted at baseURL, authenticating with the
// project API key and the user's access token.
func NewREST(baseURL, apiKey, token string) *REST {
	return &REST{
		baseURL: baseURL,
		apiKey:  apiKey,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (r *REST) Insert(ctx context.Context, table string, record any, dest any) error {
	rows, err := r.do(ctx, http.MethodPost, table, nil, record)
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return firstRow(table, rows, dest)
}

func (r *REST) Select(ctx context.Context, table string, filter domain.Filter, dest any, opts ...domain.SelectOption) error {
	var o domain.SelectOptions
	for _, opt := range opts {
		opt(&o)
	}

	query := filterQuery(filter)
	query.Set("select", "*")
	if o.OrderBy != "" {
		dir := "asc"
		if o.Descending {
			dir = "desc"
		}
		query.Set("order", o.OrderBy+"."+dir)
	}
	if o.Limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", o.Limit))
	}

	rows, err := r.do(ctx, http.MethodGet, table, query, nil)
	if err != nil {
		return fmt.Errorf("select %s: %w", table, err)
	}
	if err := json.Unmarshal(rows, dest); err != nil {
		return fmt.Errorf("select %s: decode rows: %w", table, err)
	}
	return nil
}

func (r *REST) Update(ctx context.Context, table string, filter domain.Filter, patch map[string]any, dest any) error {
	rows, err := r.do(ctx, http.MethodPatch, table, filterQuery(filter), patch)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	return firstRow(table, rows, dest)
}

func (r *REST) Delete(ctx context.Context, table string, filter domain.Filter) error {
	if _, err := r.do(ctx, http.MethodDelete, table, filterQuery(filter), nil); err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return nil
}

func (r *REST) do(ctx context.Context, method, table string, query url.Values, body any) ([]byte, error) {
	u := r.baseURL + "/rest/v1/" + table
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", r.apiKey)
	req.Header.Set("Authorization", "Bearer "+r.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// firstRow decodes the first element of a representation array into dest.
func firstRow(table string, rows []byte, dest any) error {
	if dest == nil {
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(rows, &raw); err != nil {
		return fmt.Errorf("%s: decode representation: %w", table, err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("%s: no matching rows", table)
	}
	if err := json.Unmarshal(raw[0], dest); err != nil {
		return fmt.Errorf("%s: decode row: %w", table, err)
	}
	return nil
}

func filterQuery(filter domain.Filter) url.Values {
	query := url.Values{}
	for col, val := range filter {
		query.Set(col, "eq."+literal(val))
	}
	return query
}

func literal(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
