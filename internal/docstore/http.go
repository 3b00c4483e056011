package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTP talks to the document service's REST API:
//
//	GET /documents/{id}  -> {"content": "...", "version": N}
//	PUT /documents/{id}  <- {"content": "...", "version": N}
//
// Calls carry the connection's bearer token.
type HTTP struct {
	baseURL string
	client  *http.Client
}

// StatusError is a non-success response from the document service.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

type documentBody struct {
	Content string `json:"content"`
	Version int    `json:"version"`
}

func NewHTTP(baseURL string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (h *HTTP) documentURL(docID string) string {
	return h.baseURL + "/documents/" + url.PathEscape(docID)
}

func (h *HTTP) Fetch(ctx context.Context, docID string, creds Credentials) (Document, error) {
	var body documentBody
	code, err := h.do(ctx, http.MethodGet, docID, nil, creds, &body)
	if code == http.StatusNotFound {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	return Document{ID: docID, Text: body.Content, Version: body.Version}, nil
}

func (h *HTTP) Save(ctx context.Context, docID, text string, version int, creds Credentials) error {
	code, err := h.do(ctx, http.MethodPut, docID, documentBody{Content: text, Version: version}, creds, nil)
	switch code {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	}
	return err
}

func (h *HTTP) do(ctx context.Context, method, docID string, in any, creds Credentials, out any) (int, error) {
	var reqBody io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		reqBody = bytes.NewReader(raw)
	}

	target := h.documentURL(docID)
	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if creds.Token != "" {
		req.Header.Set("Authorization", "Bearer "+creds.Token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, &StatusError{Method: method, URL: target, Code: resp.StatusCode, Body: string(msg)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, target, err)
		}
	}
	return resp.StatusCode, nil
}

func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
