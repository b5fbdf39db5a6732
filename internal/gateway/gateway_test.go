package gateway_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/go-playground/assert/v2"

	"github.com/simatei/kpi/internal/credential"
	"github.com/simatei/kpi/internal/docstore"
	"github.com/simatei/kpi/internal/gateway"
	"github.com/simatei/kpi/internal/metrics"
	"github.com/simatei/kpi/internal/models"
)

var alice = models.Identity{Username: "alice"}

func newClient(t *testing.T, h http.HandlerFunc) (*gateway.Client, *metrics.Registry) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	logger := log.New(io.Discard)
	creds := credential.NewStore(credential.NewMemoryCache(), docstore.NewMemory(), "secret", "", logger)
	m := metrics.NewRegistry()
	urls := gateway.URLs{Public: srv.URL, Internal: srv.URL}
	return gateway.New(srv.Client(), creds, urls, m, logger), m
}

func reply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
}

func TestURLs(t *testing.T) {
	u := gateway.URLs{Public: "https://kc.example.org/", Internal: "http://kc:8000"}
	dep := &models.Deployment{FormID: 12}
	assert.Equal(t, u.SubmissionList(dep), "http://kc:8000/api/v1/data/12")
	assert.Equal(t, u.SubmissionDetail(dep, 3), "http://kc:8000/api/v1/data/12/3")
	assert.Equal(t, u.ValidationStatus(dep, 3), "http://kc:8000/api/v1/data/12/3/validation_status")
	assert.Equal(t, u.Edit(dep, 3), "http://kc:8000/api/v1/data/12/3/enketo")
	assert.Equal(t, u.OpenRosaSubmission(), "https://kc.example.org/submission")
}

func TestSendAuthorization(t *testing.T) {
	headers := make(chan string, 2)
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	})
	ctx := context.Background()

	if _, err := c.Send(ctx, gateway.Request{Method: http.MethodGet, URL: c.URLs.Internal}, alice); err != nil {
		t.Fatalf("send: %v", err)
	}
	if h := <-headers; !strings.HasPrefix(h, "Token ") {
		t.Fatalf("expected token header, got %q", h)
	}

	if _, err := c.Send(ctx, gateway.Request{Method: http.MethodGet, URL: c.URLs.Internal}, models.Anonymous()); err != nil {
		t.Fatalf("send: %v", err)
	}
	assert.Equal(t, <-headers, "")
}

func TestSendNormalizesResponse(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Language", "fr")
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "<html>oops</html>")
	})
	resp, err := c.Send(context.Background(), gateway.Request{Method: http.MethodGet, URL: c.URLs.Internal}, alice)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	assert.Equal(t, resp.Status, http.StatusBadGateway)
	assert.Equal(t, resp.ContentLanguage, "fr")
	detail, _ := resp.Data.(map[string]any)["detail"].(string)
	if !strings.HasPrefix(detail, "KoBoCAT returned an unexpected response") {
		t.Fatalf("unexpected detail %q", detail)
	}
}

func TestSendMultipart(t *testing.T) {
	got := make(chan string, 1)
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("xml_submission_file")
		if err != nil {
			got <- "error: " + err.Error()
			return
		}
		b, _ := io.ReadAll(f)
		got <- hdr.Filename + ":" + string(b)
		w.WriteHeader(http.StatusCreated)
	})
	req := gateway.Request{
		Method: http.MethodPost,
		URL:    c.URLs.OpenRosaSubmission(),
		File:   &gateway.File{Field: "xml_submission_file", Name: "abc", Content: []byte("<x/>")},
	}
	if _, err := c.Send(context.Background(), req, alice); err != nil {
		t.Fatalf("send: %v", err)
	}
	assert.Equal(t, <-got, "abc:<x/>")
}

func TestSendTransportError(t *testing.T) {
	srv := httptest.NewServer(reply(http.StatusOK, "{}"))
	url := srv.URL
	srv.Close()

	logger := log.New(io.Discard)
	creds := credential.NewStore(credential.NewMemoryCache(), docstore.NewMemory(), "secret", "", logger)
	c := gateway.New(nil, creds, gateway.URLs{Internal: url}, nil, logger)

	_, err := c.Send(context.Background(), gateway.Request{Method: http.MethodGet, URL: url}, alice)
	var te *gateway.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected transport error, got %v", err)
	}
	assert.Equal(t, te.Method, http.MethodGet)
}

func TestSendRecordsMetrics(t *testing.T) {
	c, m := newClient(t, reply(http.StatusOK, "{}"))
	if _, err := c.Send(context.Background(), gateway.Request{Method: http.MethodGet, URL: c.URLs.Internal}, alice); err != nil {
		t.Fatalf("send: %v", err)
	}
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `kpi_gateway_requests_total{method="GET",status="200"} 1`) {
		t.Fatalf("gateway request not counted:\n%s", rec.Body.String())
	}
}

func TestCall(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		status  int
		body    string
		expect  gateway.Expect
		want    map[string]any
		wantErr string
		kind    string
	}{
		{name: "patch ok", method: http.MethodPatch, status: 200, body: `{"label":"ok"}`, want: map[string]any{"label": "ok"}},
		{name: "delete no content", method: http.MethodDelete, status: 204, want: map[string]any{}},
		{name: "post ok with field", method: http.MethodPost, status: 201, body: `{"formid":3}`,
			expect: gateway.Expect{Field: "formid"}, want: map[string]any{"formid": float64(3)}},
		{name: "missing field", method: http.MethodPost, status: 201, body: `{"id":3}`,
			expect: gateway.Expect{Field: "formid"}, kind: "protocol", wantErr: `Unexpected KoBoCAT error 201: {"id":3}`},
		{name: "alert with text", method: http.MethodPatch, status: 200, body: `{"type":"alert-error","text":"Form is locked"}`,
			kind: "semantic", wantErr: "Form is locked"},
		{name: "status mismatch with text", method: http.MethodPatch, status: 400, body: `{"text":"bad uid"}`,
			kind: "semantic", wantErr: "bad uid"},
		{name: "status mismatch without text", method: http.MethodDelete, status: 500, body: `{"detail":"boom"}`,
			kind: "protocol", wantErr: `Unexpected KoBoCAT error 500: {"detail":"boom"}`},
		{name: "unparseable", method: http.MethodPatch, status: 200, body: `not json`, kind: "protocol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newClient(t, reply(tt.status, tt.body))
			got, err := c.Call(context.Background(), tt.method, c.URLs.Internal, map[string]any{"a": 1}, alice, tt.expect)
			switch tt.kind {
			case "":
				if err != nil {
					t.Fatalf("call: %v", err)
				}
				assert.Equal(t, got, tt.want)
				return
			case "semantic":
				var se *gateway.SemanticError
				if !errors.As(err, &se) {
					t.Fatalf("expected semantic error, got %v", err)
				}
			case "protocol":
				var pe *gateway.ProtocolError
				if !errors.As(err, &pe) {
					t.Fatalf("expected protocol error, got %v", err)
				}
			}
			if tt.wantErr != "" {
				assert.Equal(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestCallRejectsUnsupportedMethod(t *testing.T) {
	called := false
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })
	_, err := c.Call(context.Background(), http.MethodPut, c.URLs.Internal, nil, alice, gateway.Expect{})
	if !errors.Is(err, gateway.ErrUnsupportedMethod) {
		t.Fatalf("expected unsupported method, got %v", err)
	}
	assert.Equal(t, called, false)
}
