// Package restapi is the admin HTTP surface of the gateway: backend health, facade listing,
// enabling and disabling backends, and Prometheus metrics. It does not serve data.
package restapi

import (
	"context"
	"errors"
	log "log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/sharedcode/cloudkvs"
	"github.com/sharedcode/cloudkvs/facade"
	"github.com/sharedcode/cloudkvs/kvs"
	"github.com/sharedcode/cloudkvs/restapi/docs"
)

// @title						cloudkvs admin API
// @description				Backend health, facade listing and backend enablement of a cloudkvs gateway.
// @BasePath					/
// @securityDefinitions.apikey	Bearer
// @in							header
// @name						Authorization

// bytesUsedTimeout bounds the space accounting calls of GET /backends.
const bytesUsedTimeout = 5 * time.Second

// Options configures the admin router.
type Options struct {
	// Token, when set, is accepted as "Authorization: Bearer <token>" on non-public routes.
	Token string
	// Verifier, when set, accepts OAuth2 access tokens (see NewOktaVerifier) on non-public
	// routes. Routes are open when neither Token nor Verifier is set.
	Verifier AccessTokenVerifier
	// Gatherer serves GET /metrics, prometheus.DefaultGatherer if nil.
	Gatherer prometheus.Gatherer
}

// Backend is the GET /backends view of one store.
type Backend struct {
	ID string `json:"id"`
	kvs.HealthSnapshot
	BytesUsed int64  `json:"bytes_used"`
	Error     string `json:"error,omitempty"`
}

// FacadeInfo is the GET /facades view of one facade.
type FacadeInfo struct {
	Key      string   `json:"key"`
	Scheme   string   `json:"scheme"`
	Backends []string `json:"backends"`
	Default  bool     `json:"default"`
}

type enabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type server struct {
	manager  *kvs.Manager
	registry *facade.Registry
}

// NewRouter returns the admin router over manager and registry.
func NewRouter(manager *kvs.Manager, registry *facade.Registry, opts Options) *gin.Engine {
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &server{manager: manager, registry: registry}
	docs.SwaggerInfo.Version = cloudkvs.Version

	var ms methods
	ms.Register(RestMethod{Verb: GET, Path: "/healthz", Handler: s.healthz, Public: true})
	ms.Register(RestMethod{Verb: GET, Path: "/metrics", Handler: metricsHandler(gatherer), Public: true})
	ms.Register(RestMethod{Verb: GET, Path: "/swagger/*any", Handler: ginSwagger.WrapHandler(swaggerfiles.Handler), Public: true})
	ms.Register(RestMethod{Verb: GET, Path: "/backends", Handler: s.getBackends})
	ms.Register(RestMethod{Verb: GET, Path: "/backends/:id", Handler: s.getBackend})
	ms.Register(RestMethod{Verb: PUT, Path: "/backends/:id/enabled", Handler: s.setEnabled})
	ms.Register(RestMethod{Verb: GET, Path: "/facades", Handler: s.getFacades})

	router := gin.New()
	router.Use(gin.Recovery())
	ms.mount(router, bearerGuard(opts.Token, opts.Verifier))
	return router
}

// metricsHandler godoc
// @Summary	Prometheus metrics
// @Tags		health
// @Produce	plain
// @Success	200	{string}	string
// @Router		/metrics [get]
func metricsHandler(gatherer prometheus.Gatherer) gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

// healthz godoc
// @Summary		Liveness
// @Description	Reports the gateway version and the number of enabled, non failing backends.
// @Tags			health
// @Produce		json
// @Success		200	{object}	map[string]any
// @Router			/healthz [get]
func (s *server) healthz(c *gin.Context) {
	enabled := 0
	for _, st := range s.manager.Stores() {
		if st.Health().Enabled() && !kvs.IsFailing(st) {
			enabled++
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": cloudkvs.Version, "enabled_backends": enabled})
}

func (s *server) backend(ctx context.Context, st kvs.Store) Backend {
	b := Backend{ID: st.ID(), HealthSnapshot: st.Health().Snapshot()}
	ctx, cancel := context.WithTimeout(ctx, bytesUsedTimeout)
	defer cancel()
	n, err := st.BytesUsed(ctx)
	if err != nil {
		b.Error = err.Error()
		b.BytesUsed = -1
	} else {
		b.BytesUsed = n
	}
	return b
}

// getBackends godoc
// @Summary		List backends
// @Description	Health and space used of every configured backend.
// @Tags			backends
// @Produce		json
// @Success		200	{array}		Backend
// @Failure		401	{object}	map[string]any
// @Failure		403	{object}	map[string]any
// @Router			/backends [get]
// @Security		Bearer
func (s *server) getBackends(c *gin.Context) {
	stores := s.manager.Stores()
	r := make([]Backend, len(stores))
	for i, st := range stores {
		r[i] = s.backend(c.Request.Context(), st)
	}
	c.IndentedJSON(http.StatusOK, r)
}

// getBackend godoc
// @Summary		Get backend
// @Tags			backends
// @Produce		json
// @Param			id	path		string	true	"backend id"
// @Success		200	{object}	Backend
// @Failure		404	{object}	map[string]any
// @Router			/backends/{id} [get]
// @Security		Bearer
func (s *server) getBackend(c *gin.Context) {
	st, ok := s.manager.Get(c.Param("id"))
	if !ok {
		c.IndentedJSON(http.StatusNotFound, gin.H{"message": "backend not found"})
		return
	}
	c.IndentedJSON(http.StatusOK, s.backend(c.Request.Context(), st))
}

// setEnabled godoc
// @Summary		Enable or disable a backend
// @Description	Disabled backends sort last in every ranking.
// @Tags			backends
// @Accept			json
// @Produce		json
// @Param			id		path		string			true	"backend id"
// @Param			body	body		enabledRequest	true	"new state"
// @Success		200		{object}	Backend
// @Failure		400		{object}	map[string]any
// @Failure		404		{object}	map[string]any
// @Router			/backends/{id}/enabled [put]
// @Security		Bearer
func (s *server) setEnabled(c *gin.Context) {
	id := c.Param("id")
	st, ok := s.manager.Get(id)
	if !ok {
		c.IndentedJSON(http.StatusNotFound, gin.H{"message": "backend not found"})
		return
	}
	var req enabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": "body must be {\"enabled\": true|false}"})
		return
	}
	st.Health().SetEnabled(*req.Enabled)
	log.Info("backend enabled state changed via admin API", "backend", id, "enabled", *req.Enabled)
	c.IndentedJSON(http.StatusOK, s.backend(c.Request.Context(), st))
}

// getFacades godoc
// @Summary		List facades
// @Description	Facades built so far, keyed by scheme and backend list.
// @Tags			facades
// @Produce		json
// @Success		200	{array}	FacadeInfo
// @Router			/facades [get]
// @Security		Bearer
func (s *server) getFacades(c *gin.Context) {
	var defaultKey string
	if d := s.registry.Default(); d != nil {
		defaultKey = d.Key()
	}
	fs := s.registry.Facades()
	r := make([]FacadeInfo, len(fs))
	for i, f := range fs {
		ids := make([]string, 0, len(f.Stores()))
		for _, st := range f.Stores() {
			ids = append(ids, st.ID())
		}
		r[i] = FacadeInfo{
			Key:      f.Key(),
			Scheme:   f.SchemeID(),
			Backends: ids,
			Default:  f.Key() == defaultKey,
		}
	}
	c.IndentedJSON(http.StatusOK, r)
}

// Serve runs handler on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("admin API listening", "address", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
