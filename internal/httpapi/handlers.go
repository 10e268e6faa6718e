package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"afiliados.org/internal/auth"
	"afiliados.org/internal/obs"
)

const serviceName = "afiliados-auth"

// Pinger is anything with a liveness round trip (database, cache).
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe pings every configured dependency.
type ReadyProbe struct {
	DB    Pinger
	Cache Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.Ping(ctx); err != nil {
			return err
		}
	}
	if rp.Cache != nil {
		if err := rp.Cache.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// API is the HTTP surface of the auth service.
type API struct {
	mux      *http.ServeMux
	svc      *auth.Service
	ready    readinessChecker
	version  string
	log      logrus.FieldLogger
	validate *validator.Validate

	corsOrigins    []string
	proxies        TrustedProxies
	rateBurst      int
	ratePerSec     float64
	requestTimeout time.Duration
	maxBodyBytes   int64
}

type Option func(*API)

func WithLogger(log logrus.FieldLogger) Option {
	return func(a *API) {
		if log != nil {
			a.log = log
		}
	}
}

// WithCORSOrigins sets the allowed browser origins. Empty allows localhost
// only.
func WithCORSOrigins(origins []string) Option {
	return func(a *API) { a.corsOrigins = origins }
}

// WithRateLimit sets the per-client request budget. perSecond <= 0 disables
// limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		a.ratePerSec = perSecond
		a.rateBurst = burst
	}
}

// WithTrustedProxies sets the peers whose X-Forwarded-For header is honoured.
func WithTrustedProxies(networks []netip.Prefix) Option {
	return func(a *API) { a.proxies = networks }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.requestTimeout = d
		}
	}
}

func New(svc *auth.Service, rp readinessChecker, version string, opts ...Option) *API {
	a := &API{
		mux:            http.NewServeMux(),
		svc:            svc,
		ready:          rp,
		version:        version,
		log:            logrus.StandardLogger(),
		validate:       newValidator(),
		rateBurst:      100,
		ratePerSec:     50,
		requestTimeout: 10 * time.Second,
		maxBodyBytes:   1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("POST /v1/auth/token", a.handleToken)
	a.mux.Handle("POST /v1/auth/logout", a.withAuth(http.HandlerFunc(a.handleLogout)))
	a.mux.Handle("POST /v1/auth/logout-all", a.withAuth(http.HandlerFunc(a.handleLogoutAll)))
	a.mux.Handle("GET /v1/auth/me", a.withAuth(http.HandlerFunc(a.handleMe)))

	a.mux.Handle("POST /v1/admin/accounts", a.adminOnly(a.handleCreateAccount))
	a.mux.Handle("POST /v1/admin/accounts/{id}/revoke-sessions", a.adminOnly(a.handleRevokeSessions))
	a.mux.Handle("POST /v1/admin/tokens/revoke", a.adminOnly(a.handleRevokeToken))
	a.mux.Handle("GET /v1/admin/tokens/{jti}", a.withRole(a.handleTokenStatus, auth.RoleAdmin, auth.RoleOperator))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	})
	return a
}

// Handler wraps the mux with the middleware chain, outermost first.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = Timeout(h, a.requestTimeout)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.corsOrigins)
	h = SecurityHeaders(h)
	h = AccessLog(h, a.log)
	h = RequestID(h, a.proxies)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		a.log.WithError(err).Warn("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	payload := map[string]any{
		"error":   code,
		"message": msg,
	}
	if rid := requestID(r); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

// decodeJSON reads exactly one JSON object and validates it.
func (a *API) decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	if err := a.validate.Struct(dst); err != nil {
		return validationMessage(err)
	}
	return nil
}

// newValidator reports JSON field names instead of Go field names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+" "+fe.Tag())
	}
	return errors.New("invalid fields: " + strings.Join(fields, ", "))
}
