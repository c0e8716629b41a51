// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package httpapi exposes the bridge over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/datecs-bridge/internal/bridge"
	"github.com/Thermoquad/datecs-bridge/internal/identity"
)

// DefaultDevice is used when a request carries no ?dev= parameter.
const DefaultDevice = "A"

// IdentityEvents feeds the identity websocket stream.
type IdentityEvents interface {
	Subscribe(buffer int) (<-chan identity.Change, func())
	Snapshots() map[string]identity.Identity
}

// Options configure the server.
type Options struct {
	Addr        string
	CORSOrigins []string
}

// Server is the HTTP boundary of the bridge.
type Server struct {
	bridge  *bridge.Bridge
	events  IdentityEvents
	opts    Options
	log     zerolog.Logger
	origins []string
	router  *gin.Engine
}

// New builds the router. events may be nil, which disables /ws/identity.
func New(b *bridge.Bridge, events IdentityEvents, opts Options, logger zerolog.Logger) *Server {
	RegisterMetrics()
	s := &Server{
		bridge: b,
		events: events,
		opts:   opts,
		log:    logger.With().Str("component", "http").Logger(),
	}
	s.origins = s.normalizeOrigins(opts.CORSOrigins)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(s.log))
	r.Use(RequestMetrics())
	r.Use(privateNetworkAccess())
	if len(s.origins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.origins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           24 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s.router = r
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.opts.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	r := s.router

	nf := r.Group("/nf")
	nf.POST("/open", s.handleOpenNonFiscal)
	nf.POST("/text", s.handleNonFiscalText)
	nf.POST("/close", s.handleCloseNonFiscal)

	fiscal := r.Group("/fiscal")
	fiscal.POST("/open", s.handleOpenFiscal)
	fiscal.POST("/sale", s.handleSale)
	fiscal.POST("/text", s.handleFiscalText)
	fiscal.POST("/pay", s.handlePay)
	fiscal.POST("/close", s.handleCloseFiscal)
	fiscal.POST("/cancel", s.handleCancel)
	fiscal.GET("/receipt_status", s.handleReceiptStatus)
	fiscal.GET("/tx_status", s.handleTxStatus)

	r.POST("/raw", s.handleRaw)
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws/identity", s.handleIdentityStream)
}

// normalizeOrigins drops entries the CORS middleware would reject.
func (s *Server) normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		u, err := url.Parse(o)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			s.log.Warn().Str("origin", o).Msg("ignoring invalid CORS origin")
			continue
		}
		out = append(out, o)
	}
	return out
}

func (s *Server) allowedOrigin(origin string) bool {
	for _, o := range s.origins {
		if o == origin {
			return true
		}
	}
	return false
}

// deviceID returns the ?dev= parameter, defaulting to DefaultDevice.
func deviceID(c *gin.Context) string {
	id := strings.ToUpper(strings.TrimSpace(c.Query("dev")))
	if id == "" {
		return DefaultDevice
	}
	return id
}
