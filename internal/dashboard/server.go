package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"lendwatch/config"
	"lendwatch/internal/metrics"
	"lendwatch/internal/models"
	"lendwatch/logger"
)

// PriceSource exposes the current price view.
type PriceSource interface {
	Prices() map[string]models.PriceEntry
}

// SnapshotSource exposes the most recent snapshot cycle.
type SnapshotSource interface {
	Last() (models.SnapshotSummary, bool)
}

// Sources are the read-only views served by the dashboard API.
type Sources struct {
	Prices       PriceSource
	Snapshots    SnapshotSource
	SnapshotPath string
}

// Server hosts the monitoring API for lendwatch.
type Server struct {
	cfg             config.DashboardConfig
	log             *logger.Log
	sources         Sources
	metricStore     *metricStore
	logStore        *logStore
	metricHandler   metrics.MetricHandlerID
	httpServer      *http.Server
	resourceSampler *resourceSampler
	startedAt       time.Time
}

// NewServer constructs a dashboard server when the dashboard feature is enabled.
// When the dashboard is disabled the returned server will be nil.
func NewServer(cfg config.DashboardConfig, log *logger.Log, sources Sources) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if sources.Prices == nil || sources.Snapshots == nil {
		return nil, errors.New("dashboard requires price and snapshot sources")
	}

	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 5 * time.Second
	}
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}
	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = 200
	}

	metricStore := newMetricStore(cfg.MetricsHistory)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	logStore := newLogStore(cfg.LogHistory, logrus.InfoLevel)
	log.AddHook(logStore)

	diskPath := filepath.Dir(sources.SnapshotPath)
	sampler := newResourceSampler(cfg.MetricsHistory, cfg.SampleInterval, diskPath, log)

	return &Server{
		cfg:             cfg,
		log:             log,
		sources:         sources,
		metricStore:     metricStore,
		logStore:        logStore,
		metricHandler:   handlerID,
		resourceSampler: sampler,
		startedAt:       time.Now(),
	}, nil
}

// Run starts the dashboard HTTP server and blocks until the provided context is
// cancelled or the underlying HTTP server exits with an error.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}

	s.resourceSampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.WithComponent("dashboard").WithField("address", s.cfg.Address).Info("dashboard listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	s.logStore.close()
	s.resourceSampler.stop()
}

// Address reports the network address the dashboard server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/healthz", func(c *gin.Context) {
		payload := gin.H{
			"app":      appName,
			"status":   "ok",
			"uptime_s": int64(time.Since(s.startedAt).Seconds()),
		}
		if last, ok := s.sources.Snapshots.Last(); ok {
			payload["last_snapshot"] = last.GeneratedAt.Format(time.RFC3339Nano)
		}
		c.JSON(http.StatusOK, payload)
	})

	router.GET("/api/prices", func(c *gin.Context) {
		prices := s.sources.Prices.Prices()
		mints := make([]string, 0, len(prices))
		for mint := range prices {
			mints = append(mints, mint)
		}
		sort.Strings(mints)

		payload := make([]models.PriceEntry, 0, len(mints))
		live := 0
		for _, mint := range mints {
			entry := prices[mint]
			if entry.Status == models.PriceLive {
				live++
			}
			payload = append(payload, entry)
		}
		c.JSON(http.StatusOK, gin.H{"prices": payload, "live": live})
	})

	router.GET("/api/snapshot", func(c *gin.Context) {
		last, ok := s.sources.Snapshots.Last()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot written yet"})
			return
		}
		c.JSON(http.StatusOK, last)
	})

	router.GET("/api/metrics", func(c *gin.Context) {
		metricsSnapshot := s.metricStore.snapshot()
		payload := make([]gin.H, 0, len(metricsSnapshot))
		for _, m := range metricsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": m.Timestamp.Format(time.RFC3339Nano),
				"component": m.Component,
				"name":      m.Name,
				"value":     m.Value,
				"type":      m.Type,
				"fields":    m.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"metrics": payload})
	})

	router.GET("/api/logs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"logs": s.logStore.snapshot()})
	})

	router.GET("/api/resources", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"resources": s.resourceSampler.snapshot()})
	})

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router, nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
