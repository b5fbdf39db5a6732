// Package gateway talks to the remote data collection service on behalf of
// a user.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"

	"github.com/simatei/kpi/internal/metrics"
	"github.com/simatei/kpi/internal/models"
)

// Authorizer returns the Authorization header for a caller; "" sends none.
type Authorizer interface {
	Header(ctx context.Context, who models.Identity) (string, error)
}

// File is the single file of a multipart request.
type File struct {
	Field   string
	Name    string
	Content []byte
}

// Request describes one remote call. At most one of JSON and File is set.
type Request struct {
	Method string
	URL    string
	Query  url.Values
	JSON   any
	File   *File
}

// Response is a remote response normalized for passing back to a client.
type Response struct {
	Status          int
	ContentType     string
	ContentLanguage string
	// Data is the parsed JSON body. When the body is not JSON and the status
	// is not 204, it holds a {"detail": ...} explanation instead.
	Data any
	Body []byte
}

type Client struct {
	http    *http.Client
	auth    Authorizer
	URLs    URLs
	metrics *metrics.Registry
	logger  *log.Logger
}

func New(httpClient *http.Client, auth Authorizer, urls URLs, m *metrics.Registry, logger *log.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, auth: auth, URLs: urls, metrics: m, logger: logger.WithPrefix("kobocat")}
}

func (c *Client) build(ctx context.Context, req Request) (*http.Request, error) {
	var (
		body        io.Reader
		contentType string
	)
	switch {
	case req.File != nil:
		buf := &bytes.Buffer{}
		mw := multipart.NewWriter(buf)
		part, err := mw.CreateFormFile(req.File.Field, req.File.Name)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(req.File.Content); err != nil {
			return nil, err
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
		body, contentType = buf, mw.FormDataContentType()
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("kobocat: encode body: %w", err)
		}
		body, contentType = bytes.NewReader(data), "application/json"
	}

	u := req.URL
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	return httpReq, nil
}

// Send performs req for who and returns the normalized response, whatever
// its status.
func (c *Client) Send(ctx context.Context, req Request, who models.Identity) (*Response, error) {
	httpReq, err := c.build(ctx, req)
	if err != nil {
		return nil, err
	}
	header, err := c.auth.Header(ctx, who)
	if err != nil {
		return nil, fmt.Errorf("kobocat: credentials for %s: %w", who.Username, err)
	}
	if header != "" {
		httpReq.Header.Set("Authorization", header)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.metrics.ObserveGateway(req.Method, 0, time.Since(start))
		c.logger.Error("request failed", "method", req.Method, "url", req.URL, "err", err)
		return nil, &TransportError{Method: req.Method, URL: req.URL, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.ObserveGateway(req.Method, 0, time.Since(start))
		return nil, &TransportError{Method: req.Method, URL: req.URL, Err: err}
	}
	c.metrics.ObserveGateway(req.Method, resp.StatusCode, time.Since(start))
	c.logger.Debug("request", "method", req.Method, "url", req.URL, "status", resp.StatusCode,
		"duration", time.Since(start))

	out := &Response{
		Status:          resp.StatusCode,
		ContentType:     resp.Header.Get("Content-Type"),
		ContentLanguage: resp.Header.Get("Content-Language"),
		Body:            raw,
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		if resp.StatusCode != http.StatusNoContent {
			out.Data = map[string]any{"detail": fmt.Sprintf("KoBoCAT returned an unexpected response: %v", err)}
		}
	} else {
		out.Data = data
	}
	return out, nil
}

var expectedStatus = map[string]int{
	http.MethodPost:   http.StatusCreated,
	http.MethodPatch:  http.StatusOK,
	http.MethodDelete: http.StatusNoContent,
}

// Expect refines what Call accepts as success.
type Expect struct {
	// Field, when set, must be present in the response object.
	Field string
}

// Call performs a JSON request that must succeed with the status expected
// for its method (POST 201, PATCH 200, DELETE 204) and returns the parsed
// response object; a 204 yields an empty map.
func (c *Client) Call(ctx context.Context, method, url string, body any, who models.Identity, expect Expect) (map[string]any, error) {
	want, ok := expectedStatus[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	resp, err := c.Send(ctx, Request{Method: method, URL: url, JSON: body}, who)
	if err != nil {
		return nil, err
	}
	if resp.Status == want && want == http.StatusNoContent {
		return map[string]any{}, nil
	}

	var parsed any
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, &ProtocolError{Status: resp.Status, Body: resp.Body, Err: err}
	}
	obj, isObj := parsed.(map[string]any)
	if !isObj {
		obj = map[string]any{}
	}

	_, hasField := obj[expect.Field]
	failed := resp.Status != want ||
		obj["type"] == "alert-error" ||
		(expect.Field != "" && !hasField)
	if failed {
		if text, ok := obj["text"]; ok {
			return nil, &SemanticError{Status: resp.Status, Reason: fmt.Sprint(text)}
		}
		return nil, &ProtocolError{Status: resp.Status, Body: resp.Body}
	}
	return obj, nil
}
