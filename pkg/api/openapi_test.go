package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
)

// loadOpenAPISpecWithServer reads the embedded document and points its
// servers at baseURL.
func loadOpenAPISpecWithServer(t *testing.T, baseURL string) routers.Router {
	t.Helper()

	specBytes, err := docsFS.ReadFile("openapi.yaml")
	if err != nil {
		t.Fatalf("read openapi.yaml: %v", err)
	}
	doc, err := openapi3.NewLoader().LoadFromData(specBytes)
	if err != nil {
		t.Fatalf("parse openapi.yaml: %v", err)
	}
	doc.Servers = openapi3.Servers{&openapi3.Server{URL: baseURL}}
	if err := doc.Validate(context.Background()); err != nil {
		t.Fatalf("openapi validate self: %v", err)
	}
	rt, err := legacy.NewRouter(doc)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return rt
}

func validateResponseWithOpenAPI(t *testing.T, rt routers.Router, req *http.Request, resp *http.Response, body []byte) error {
	t.Helper()

	route, pathParams, err := rt.FindRoute(req)
	if err != nil {
		return fmt.Errorf("find route: %w", err)
	}
	opts := &openapi3filter.Options{
		AuthenticationFunc: func(context.Context, *openapi3filter.AuthenticationInput) error { return nil },
	}
	rin := &openapi3filter.RequestValidationInput{
		Request:    req,
		PathParams: pathParams,
		Route:      route,
		Options:    opts,
	}
	if err := openapi3filter.ValidateRequest(context.Background(), rin); err != nil {
		return fmt.Errorf("request validation: %w", err)
	}
	rout := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: rin,
		Status:                 resp.StatusCode,
		Header:                 resp.Header,
		Body:                   io.NopCloser(bytes.NewReader(body)),
		Options:                opts,
	}
	if err := openapi3filter.ValidateResponse(context.Background(), rout); err != nil {
		return fmt.Errorf("response validation: %w\nbody=%s", err, string(body))
	}
	return nil
}

func TestResponsesMatchOpenAPI(t *testing.T) {
	t.Setenv("API_BEARER_TOKEN", "s3cret")

	tests := []struct {
		name       string
		path       string
		auth       bool
		hasLatest  bool
		wantStatus int
	}{
		{"health", "/health", false, true, http.StatusOK},
		{"status-online", "/server/status", true, true, http.StatusOK},
		{"status-refresh-offline", "/server/status?refresh=true", true, true, http.StatusOK},
		{"status-no-snapshot", "/server/status", true, false, http.StatusNotFound},
		{"status-unauthorized", "/server/status", false, true, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newSource()
			src.hasLatest = tt.hasLatest
			ts := httptest.NewServer(Routes(loadConfig(t), src))
			defer ts.Close()
			rt := loadOpenAPISpecWithServer(t, ts.URL)

			req, err := http.NewRequest(http.MethodGet, ts.URL+tt.path, nil)
			if err != nil {
				t.Fatal(err)
			}
			if tt.auth {
				req.Header.Set("Authorization", "Bearer s3cret")
			}
			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d body=%s", resp.StatusCode, tt.wantStatus, body)
			}
			if err := validateResponseWithOpenAPI(t, rt, req, resp, body); err != nil {
				t.Fatal(err)
			}
		})
	}
}
