// Package httpapi is the HTTP surface of the authorization service.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"lernia.org/internal/access"
	"lernia.org/internal/audit"
	"lernia.org/internal/department"
	"lernia.org/internal/escalation"
	"lernia.org/internal/obs"
)

// ReadyProbe checks downstream readiness (e.g. a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config carries the wired services for the API.
type Config struct {
	Catalog     *access.Catalog
	Registry    *access.Registry
	Resolver    *access.Resolver
	Gate        *department.Gate
	Departments *department.Admin
	Escalation  *escalation.Manager
	Stream      *audit.Stream
	Ready       ReadyProbe
	Version     string

	// Rate limiting knobs; zero values fall back to defaults.
	RateBurst     int
	RatePerSecond int
}

// API is the HTTP layer.
type API struct {
	mux         *http.ServeMux
	catalog     *access.Catalog
	registry    *access.Registry
	resolver    *access.Resolver
	gate        *department.Gate
	departments *department.Admin
	escalation  *escalation.Manager
	stream      *audit.Stream
	readyProbe  ReadyProbe
	version     string

	rateBurst  int
	ratePerSec int
}

func New(cfg Config) *API {
	a := &API{
		mux:         http.NewServeMux(),
		catalog:     cfg.Catalog,
		registry:    cfg.Registry,
		resolver:    cfg.Resolver,
		gate:        cfg.Gate,
		departments: cfg.Departments,
		escalation:  cfg.Escalation,
		stream:      cfg.Stream,
		readyProbe:  cfg.Ready,
		version:     cfg.Version,
		rateBurst:   cfg.RateBurst,
		ratePerSec:  cfg.RatePerSecond,
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 50
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 25
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// OpenAPI YAML
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// access-right catalog
	a.mux.HandleFunc("/v1/access-rights", a.handleRightsCollection)
	a.mux.HandleFunc("/v1/access-rights/", a.handleRightResource)

	// role definitions
	a.mux.HandleFunc("/v1/roles", a.handleRolesCollection)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleResource)

	// memberships and per-user views
	a.mux.HandleFunc("/v1/memberships", a.handleMemberships)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)
	a.mux.HandleFunc("/v1/me/", a.handleMeResource)

	// permission checks
	a.mux.HandleFunc("/v1/permissions/check", a.handlePermissionCheck)

	// department tree and visibility gate
	a.mux.HandleFunc("/v1/departments", a.handleDepartmentsCollection)
	a.mux.HandleFunc("/v1/departments/switch", a.handleDepartmentSwitch)
	a.mux.HandleFunc("/v1/departments/current", a.handleDepartmentCurrent)
	a.mux.HandleFunc("/v1/departments/", a.handleDepartmentResource)

	// privilege escalation
	a.mux.HandleFunc("/v1/escalation", a.handleEscalation)

	// live audit feed
	a.mux.HandleFunc("/v1/audit/stream", a.handleAuditStream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}
