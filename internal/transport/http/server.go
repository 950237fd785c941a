package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"tickerd/internal/analysis/indicator"
	"tickerd/internal/config"
	"tickerd/internal/engine"
	"tickerd/internal/guard"
	"tickerd/internal/logger"
	"tickerd/internal/pkg/symbol"
	"tickerd/internal/store"
	"tickerd/internal/stream"

	"github.com/gin-gonic/gin"
)

// Server is the read-mostly dashboard API. The only write surface is the
// per-symbol settings endpoint; trading itself is never driven from
// here, only observed.
type Server struct {
	store      store.Store
	engine     *engine.Engine
	guard      *guard.Guard
	conn       *stream.Conn
	indicators *indicator.Series

	srv *http.Server
}

func NewServer(listen string, st store.Store, eng *engine.Engine, g *guard.Guard, conn *stream.Conn, series *indicator.Series) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		store:      st,
		engine:     eng,
		guard:      g,
		conn:       conn,
		indicators: series,
	}

	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/transactions", s.handleTransactions)
	api.GET("/settings", s.handleListSettings)
	api.GET("/settings/:symbol", s.handleGetSettings)
	api.PUT("/settings/:symbol", s.handlePutSettings)
	api.GET("/indicators/:symbol", s.handleIndicators)
	api.GET("/portfolio", s.handlePortfolio)
	router.GET("/chart/:symbol", s.handleChart)

	s.srv = &http.Server{
		Addr:              listen,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then drains with a short grace
// period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	logger.Infof("[http] listening on %s", s.srv.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tradingEnabled": s.engine.Enabled(),
		"stream":         s.conn.Status(),
		"engine":         s.engine.Snapshot(),
		"guard":          s.guard.State(),
	})
}

func (s *Server) handleTransactions(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	records, err := s.store.ListTransactions(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": records})
}

func (s *Server) handleListSettings(c *gin.Context) {
	settings, err := s.store.ListSettings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

func (s *Server) handleGetSettings(c *gin.Context) {
	sym := symbol.Normalize(c.Param("symbol"))
	if sym == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid symbol"})
		return
	}
	settings, err := s.store.SettingsFor(c.Request.Context(), sym)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if settings == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no settings for " + sym})
		return
	}
	c.JSON(http.StatusOK, settings)
}

// handlePutSettings validates the payload against the settings schema
// before it can reach the store, then drops the engine's cached copy so
// the next tick sees the update.
func (s *Server) handlePutSettings(c *gin.Context) {
	sym := symbol.Normalize(c.Param("symbol"))
	if sym == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid symbol"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<16))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reading request body failed"})
		return
	}
	if err := config.ValidateSettingsPayload(body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var settings store.AutoTradeSettings
	if err := json.Unmarshal(body, &settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if symbol.Normalize(settings.Symbol) != sym {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload symbol does not match URL"})
		return
	}
	settings.Symbol = sym
	if settings.NextAction == "" {
		settings.NextAction = store.ActionBuy
	}
	if settings.SizingMode == "" {
		settings.SizingMode = store.SizingShares
	}
	settings.UpdatedAt = time.Now()

	if err := s.store.SaveSettings(c.Request.Context(), &settings); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.engine.InvalidateSettings(sym)
	c.JSON(http.StatusOK, settings)
}

func (s *Server) handleIndicators(c *gin.Context) {
	sym := symbol.Normalize(c.Param("symbol"))
	if sym == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid symbol"})
		return
	}
	snap, err := s.indicators.Snapshot(sym)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handlePortfolio(c *gin.Context) {
	ctx := c.Request.Context()
	cash, err := s.store.CashBalance(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	settings, err := s.store.ListSettings(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	holdings := make(map[string]float64, len(settings))
	for _, st := range settings {
		shares, err := s.store.Holding(ctx, st.Symbol)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if shares != 0 {
			holdings[st.Symbol] = shares
		}
	}
	c.JSON(http.StatusOK, gin.H{"cashUsd": cash, "holdings": holdings})
}
