// Package api serves the latest Factorio status over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/masahide/factorio-status/pkg/factorio"
	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var docsFS embed.FS

type Config struct {
	Addr string `envconfig:"API_ADDR"`

	BearerToken string `envconfig:"API_BEARER_TOKEN"`
	AllowNoAuth bool   `envconfig:"API_ALLOW_NO_AUTH" default:"false"`

	// e.g. "https://ops.example.com,https://ops2.example.com"
	OpenAPIServers []string `envconfig:"API_OPENAPI_SERVERS"`
	// Used when OpenAPIServers is empty.
	PublicBaseURL string   `envconfig:"API_PUBLIC_BASE_URL"`
	CORSOrigins   []string `envconfig:"API_CORS_ORIGINS"`

	ReadHeaderTimeout time.Duration `envconfig:"API_READ_HEADER_TIMEOUT" default:"5s"`
	Timeout           time.Duration `envconfig:"API_TIMEOUT" default:"30s"`
}

// StatusSource is implemented by *publisher.Publisher.
type StatusSource interface {
	Latest() (factorio.ServerStatus, bool)
	Refresh(ctx context.Context) factorio.ServerStatus
}

type HealthResponse struct {
	OK bool `json:"ok"`
}

type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type StatusMeta struct {
	ServerTime string `json:"serverTime"`
	Cached     bool   `json:"cached"`
}

type StatusResponse struct {
	Data factorio.ServerStatus `json:"data"`
	Meta StatusMeta            `json:"meta"`
}

func NewServer(cfg Config, src StatusSource) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           Routes(cfg, src),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// Serve runs srv until ctx is done, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// Middleware wraps a handler; Routes installs them through chi's Use.
type Middleware func(http.Handler) http.Handler

func Routes(cfg Config, src StatusSource) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}
	r.Use(bearerAuth(cfg.BearerToken, cfg.AllowNoAuth), deadline(cfg.Timeout))

	r.Get("/health", health)
	r.Get("/server/status", serverStatusHandler(src))
	r.Get("/docs/openapi.yaml", openapiYAMLHandler(cfg))
	return r
}

// deadline bounds the request context. A refresh that outlives it still
// returns an offline status, since fetch errors never escape.
func deadline(d time.Duration) Middleware {
	if d <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.Timeout(d)
}

func isPublic(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/docs/")
}

func bearerAuth(token string, allowNoAuth bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowNoAuth || isPublic(r.URL.Path) || validBearer(r.Header.Get("Authorization"), token) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="factorio-status"`)
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid credentials")
		})
	}
}

func validBearer(header, token string) bool {
	got, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: msg}})
}

// refreshParam reads ?refresh; absent means false.
func refreshParam(r *http.Request) (bool, error) {
	v := r.URL.Query().Get("refresh")
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("refresh must be a boolean, got %q", v)
	}
	return b, nil
}

func health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{OK: true})
}

func serverStatusHandler(src StatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		refresh, err := refreshParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
			return
		}
		st, ok := src.Latest()
		if refresh {
			st, ok = src.Refresh(r.Context()), true
		}
		if !ok {
			writeError(w, http.StatusNotFound, "NO_SNAPSHOT", "no status has been collected yet")
			return
		}
		writeJSON(w, http.StatusOK, StatusResponse{
			Data: st,
			Meta: StatusMeta{ServerTime: time.Now().UTC().Format(time.RFC3339), Cached: !refresh},
		})
	}
}

// openapiYAMLHandler parses the embedded document once and serves it with
// servers resolved per request.
func openapiYAMLHandler(cfg Config) http.HandlerFunc {
	doc, loadErr := loadOpenAPIDoc()
	return func(w http.ResponseWriter, r *http.Request) {
		if loadErr != nil {
			http.Error(w, loadErr.Error(), http.StatusInternalServerError)
			return
		}
		out := maps.Clone(doc)
		servers := []map[string]string{}
		for _, u := range resolveOpenAPIServers(cfg, r) {
			servers = append(servers, map[string]string{"url": u})
		}
		out["servers"] = servers
		b, err := yaml.Marshal(out)
		if err != nil {
			http.Error(w, fmt.Sprintf("openapi marshal: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		_, _ = w.Write(b)
	}
}

func loadOpenAPIDoc() (map[string]any, error) {
	b, err := docsFS.ReadFile("openapi.yaml")
	if err != nil {
		return nil, fmt.Errorf("openapi read: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("openapi parse: %w", err)
	}
	return doc, nil
}

func resolveOpenAPIServers(cfg Config, r *http.Request) []string {
	var out []string
	for _, s := range cfg.OpenAPIServers {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) > 0 {
		return out
	}
	if u := strings.TrimSpace(cfg.PublicBaseURL); u != "" {
		return []string{u}
	}
	scheme := "http"
	if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
		scheme = xf
	} else if r.TLS != nil {
		scheme = "https"
	}
	return []string{scheme + "://" + r.Host}
}
