package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

// ErrDecode marks a response body that could not be decoded.
var ErrDecode = errors.New("malformed response body")

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsStatus reports whether err is an HTTPError with the given status code.
func IsStatus(err error, status int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == status
}

// CredentialSource supplies the bearer credential of the current session.
type CredentialSource interface {
	Credential() string
}

type RequestOptions struct {
	Method  string
	Headers http.Header
	Body    io.Reader
}

// Client issues requests against the API base URL.
type Client struct {
	baseURL    string
	session    CredentialSource
	httpClient *http.Client
}

// NewClient returns a client for baseURL. The underlying http.Client has no
// timeout; callers bound requests through their context.
func NewClient(baseURL string, session CredentialSource) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		session:    session,
		httpClient: &http.Client{},
	}
}

// WithHTTPClient replaces the http.Client, mostly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do performs the request and returns the raw response. Network errors are
// returned unchanged.
func (c *Client) Do(ctx context.Context, path string, opts *RequestOptions) (*http.Response, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, opts.Body)
	if err != nil {
		return nil, err
	}
	for k, values := range opts.Headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if c.session != nil {
		if credential := c.session.Credential(); credential != "" {
			req.Header.Set("Authorization", "Bearer "+credential)
		}
	}

	return c.httpClient.Do(req)
}

func checkStatus(method, path string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &HTTPError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

// JSON sends body (if non-nil) as JSON and decodes the response into out (if
// non-nil).
func (c *Client) JSON(ctx context.Context, method, path string, body, out any) error {
	opts := &RequestOptions{Method: method, Headers: http.Header{}}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		opts.Body = bytes.NewReader(data)
		opts.Headers.Set("Content-Type", "application/json")
	}
	opts.Headers.Set("Accept", "application/json")

	resp, err := c.Do(ctx, path, opts)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(method, path, resp); err != nil {
		return err
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrDecode, method, path, err)
	}
	return nil
}

// Fetch GETs path and returns the undecoded JSON body.
func (c *Client) Fetch(ctx context.Context, path string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.JSON(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Stream POSTs body as JSON and returns the open response body for
// incremental reading. The caller closes it.
func (c *Client) Stream(ctx context.Context, path string, body any) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Accept", "text/event-stream")

	resp, err := c.Do(ctx, path, &RequestOptions{
		Method:  http.MethodPost,
		Headers: headers,
		Body:    bytes.NewReader(data),
	})
	if err != nil {
		return nil, err
	}
	if err := checkStatus(http.MethodPost, path, resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// Upload sends r as the "file" field of a multipart form.
func (c *Client) Upload(ctx context.Context, path, filename string, r io.Reader, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("failed to read upload %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to finish multipart body: %w", err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.Do(ctx, path, &RequestOptions{
		Method:  http.MethodPost,
		Headers: headers,
		Body:    &buf,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(http.MethodPost, path, resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: POST %s: %v", ErrDecode, path, err)
	}
	return nil
}
