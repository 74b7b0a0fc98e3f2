// Package server exposes a small status API over the run loop: current
// state, cycle counters and the configured profiles.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"socialscope/pkg/domain"
	"socialscope/pkg/scheduler"
)

//go:generate moq -out mocks/config.go -pkg mocks -skip-ensure -fmt goimports . ConfigProvider
//go:generate moq -out mocks/scheduler.go -pkg mocks -skip-ensure -fmt goimports . Scheduler

// Server represents HTTP server instance
type Server struct {
	config    ConfigProvider
	scheduler Scheduler
	profiles  []domain.Profile
	version   string
	debug     bool

	lock       sync.Mutex
	httpServer *http.Server
	router     *routegroup.Bundle
}

// Scheduler reports the run loop state
type Scheduler interface {
	Status() scheduler.Status
}

// ConfigProvider provides server configuration
type ConfigProvider interface {
	GetServerConfig() (listen string, timeout time.Duration)
}

// New initializes a new server instance
func New(cfg ConfigProvider, sched Scheduler, profiles []domain.Profile, version string, debug bool) *Server {
	s := &Server{
		config:    cfg,
		scheduler: sched,
		profiles:  profiles,
		version:   version,
		debug:     debug,
		router:    routegroup.New(http.NewServeMux()),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Run starts the HTTP server and handles graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	listen, timeout := s.config.GetServerConfig()
	lgr.Printf("[INFO] starting status server on %s", listen)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:         listen,
		Handler:      s.router,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		lgr.Printf("[INFO] shutting down status server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			lgr.Printf("[WARN] server shutdown error: %v", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

// setupMiddleware configures standard middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(rest.AppInfo("socialscope", "socialscope", s.version))
	s.router.Use(rest.Ping)

	if s.debug {
		s.router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	}

	s.router.Use(rest.Recoverer(lgr.Default()))
	s.router.Use(rest.Throttle(100))
	s.router.Use(rest.SizeLimit(1024 * 1024)) // 1MB
}

// setupRoutes configures application routes
func (s *Server) setupRoutes() {
	s.router.Mount("/api/v1").Route(func(r *routegroup.Bundle) {
		r.HandleFunc("GET /status", s.statusHandler)
		r.HandleFunc("GET /profiles", s.profilesHandler)
	})
}

// statusHandler returns the run loop status
func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	st := s.scheduler.Status()
	resp := struct {
		Version string           `json:"version"`
		Time    time.Time        `json:"time"`
		Run     scheduler.Status `json:"run"`
	}{
		Version: s.version,
		Time:    time.Now().UTC(),
		Run:     st,
	}
	rest.RenderJSON(w, resp)
}

// profileInfo is the public view of a profile, preferences included but no
// scoring internals
type profileInfo struct {
	Name    string            `json:"name"`
	Handles map[string]string `json:"handles"`
	Quotas  map[string]int    `json:"quotas"`
}

// profilesHandler lists the configured profiles
func (s *Server) profilesHandler(w http.ResponseWriter, _ *http.Request) {
	infos := make([]profileInfo, 0, len(s.profiles))
	for _, p := range s.profiles {
		info := profileInfo{Name: p.Name, Handles: map[string]string{}, Quotas: map[string]int{}}
		for network, handle := range p.Handles {
			info.Handles[string(network)] = handle
		}
		for category, quota := range p.Quotas {
			info.Quotas[string(category)] = quota
		}
		infos = append(infos, info)
	}
	rest.RenderJSON(w, infos)
}
