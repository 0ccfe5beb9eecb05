package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"tablestream/pkg/snapshot"
	"tablestream/pkg/table"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
)

// CheckpointFunc reports the last consumed snapshot of the tailing reader.
type CheckpointFunc func() (int64, bool)

type HTTPServer struct {
	Echo       *echo.Echo
	table      *table.FileStoreTable
	checkpoint CheckpointFunc
}

type CustomValidator struct {
	validator *validator.Validate
}

func NewHTTPServer(t *table.FileStoreTable, gatherer prometheus.Gatherer, checkpoint CheckpointFunc) *HTTPServer {
	s := &HTTPServer{
		Echo:       echo.New(),
		table:      t,
		checkpoint: checkpoint,
	}
	s.Echo.HideBanner = true
	s.Echo.HidePort = true
	s.Echo.Use(LoggerMiddleware)
	s.Echo.Use(middleware.Recover())
	s.Echo.Validator = &CustomValidator{validator: validator.New()}

	s.Echo.GET("/hc", s.HealthCheck)
	s.Echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	s.Echo.GET("/snapshots/latest", s.LatestSnapshot)
	s.Echo.GET("/snapshots/:id", s.GetSnapshot)
	s.Echo.GET("/checkpoint", s.Checkpoint)
	return s
}

// Start serves h2c on addr in the background.
func (s *HTTPServer) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.Echo.Listener = listener
	go func() {
		logrus.Info("starting h2c server on " + listener.Addr().String())
		err := s.Echo.StartH2CServer("", &http2.Server{})
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("h2c server failed: %v", err)
		}
	}()
	return nil
}

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func ValidateRequest(c echo.Context, s interface{}) error {
	if err := c.Bind(s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.Validate(s)
}

func (*HTTPServer) HealthCheck(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *HTTPServer) LatestSnapshot(c echo.Context) error {
	ctx := c.Request().Context()
	latest, ok, err := s.table.Snapshots().LatestSnapshotID(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no snapshot committed yet")
	}
	return s.writeSnapshot(c, latest)
}

type snapshotRequest struct {
	ID int64 `param:"id" validate:"min=0"`
}

func (s *HTTPServer) GetSnapshot(c echo.Context) error {
	var req snapshotRequest
	if err := ValidateRequest(c, &req); err != nil {
		return err
	}
	return s.writeSnapshot(c, req.ID)
}

func (s *HTTPServer) writeSnapshot(c echo.Context, id int64) error {
	snap, err := s.table.Snapshots().Snapshot(c.Request().Context(), id)
	if errors.Is(err, snapshot.ErrSnapshotNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	} else if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

type checkpointResponse struct {
	Started    bool  `json:"started"`
	SnapshotID int64 `json:"snapshotId"`
}

func (s *HTTPServer) Checkpoint(c echo.Context) error {
	var resp checkpointResponse
	if s.checkpoint != nil {
		resp.SnapshotID, resp.Started = s.checkpoint()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

func LoggerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		if err := next(c); err != nil {
			c.Error(err)
		}
		req := c.Request()
		logrus.WithFields(logrus.Fields{
			"method":     req.Method,
			"remote_ip":  c.RealIP(),
			"path":       c.Path(),
			"status":     c.Response().Status,
			"latency_ns": int64(time.Since(start)),
			"bytes_out":  c.Response().Size,
		}).Debug("req received")
		return nil
	}
}
