// Package upstream reads classes, terms, students, subjects and raw results
// from the school's result-data REST API. Every response is wrapped in a
// {"success": bool, "data": ...} envelope.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pavelanni/gradebook/internal/model"
)

// maxImageBytes caps proxied image downloads.
const maxImageBytes = 8 << 20

// UpstreamFetchError reports a failed call to the REST API. Callers surface it
// to the user with a retry option; nothing is retried automatically.
type UpstreamFetchError struct {
	Op     string
	URL    string
	Status int // 0 when no response was received
	Err    error
}

func (e *UpstreamFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream %s: %s: status %d: %v", e.Op, e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("upstream %s: %s: %v", e.Op, e.URL, e.Err)
}

func (e *UpstreamFetchError) Unwrap() error { return e.Err }

// Client talks to the REST API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// New creates a client for the API rooted at baseURL. The token, when set, is
// sent as a bearer token.
func New(baseURL, token string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse upstream URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream URL %q must be http or https", baseURL)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{base: u, token: token, http: &http.Client{Timeout: timeout}}, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = u.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values) (*http.Response, string, error) {
	target := c.endpoint(path, query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, target, &UpstreamFetchError{Op: op, URL: target, Err: err}
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, target, &UpstreamFetchError{Op: op, URL: target, Err: err}
	}
	slog.Debug("upstream request", "op", op, "url", target, "status", resp.StatusCode, "elapsed", time.Since(start))
	return resp, target, nil
}

// getJSON fetches path and decodes the envelope's data into out.
func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	resp, target, err := c.get(ctx, op, path, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 300 {
			return &UpstreamFetchError{Op: op, URL: target, Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
		}
		return &UpstreamFetchError{Op: op, URL: target, Status: resp.StatusCode, Err: fmt.Errorf("decode envelope: %w", err)}
	}
	if resp.StatusCode >= 300 || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		if msg == "" {
			msg = "request was not successful"
		}
		return &UpstreamFetchError{Op: op, URL: target, Status: resp.StatusCode, Err: errors.New(msg)}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &UpstreamFetchError{Op: op, URL: target, Status: resp.StatusCode, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}

// School returns the school record.
func (c *Client) School(ctx context.Context, id string) (model.School, error) {
	var s model.School
	err := c.getJSON(ctx, "school", "/api/schools/"+url.PathEscape(id), nil, &s)
	return s, err
}

// Class returns the class record.
func (c *Client) Class(ctx context.Context, id string) (model.Class, error) {
	var cl model.Class
	err := c.getJSON(ctx, "class", "/api/classes/"+url.PathEscape(id), nil, &cl)
	return cl, err
}

// Term returns the term record.
func (c *Client) Term(ctx context.Context, id string) (model.Term, error) {
	var t model.Term
	err := c.getJSON(ctx, "term", "/api/terms/"+url.PathEscape(id), nil, &t)
	return t, err
}

// Students lists the students enrolled in a class.
func (c *Client) Students(ctx context.Context, classID string) ([]model.Student, error) {
	var out []model.Student
	err := c.getJSON(ctx, "students", "/api/classes/"+url.PathEscape(classID)+"/students", nil, &out)
	return out, err
}

// Subjects lists the subjects taught in a class.
func (c *Client) Subjects(ctx context.Context, classID string) ([]model.Subject, error) {
	var out []model.Subject
	err := c.getJSON(ctx, "subjects", "/api/classes/"+url.PathEscape(classID)+"/subjects", nil, &out)
	return out, err
}

// Results returns the raw per-student component scores for a class and term.
func (c *Client) Results(ctx context.Context, classID, termID string) ([]model.ResultImport, error) {
	var out []model.ResultImport
	q := url.Values{"class_id": {classID}, "term_id": {termID}}
	err := c.getJSON(ctx, "results", "/api/results", q, &out)
	return out, err
}

// Image downloads an image through the API's image proxy, which avoids
// cross-origin restrictions on the original host.
func (c *Client) Image(ctx context.Context, rawURL string) ([]byte, error) {
	resp, target, err := c.get(ctx, "image", "/api/proxy/image", url.Values{"url": {rawURL}})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamFetchError{Op: "image", URL: target, Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, &UpstreamFetchError{Op: "image", URL: target, Status: resp.StatusCode, Err: err}
	}
	if len(data) > maxImageBytes {
		return nil, &UpstreamFetchError{Op: "image", URL: target, Status: resp.StatusCode, Err: errors.New("image too large")}
	}
	return data, nil
}
