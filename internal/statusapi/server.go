package statusapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/mahirjain10/brainscan-workers/internal/types"
)

// Reader is the read side of the job store.
type Reader interface {
	GetJob(ctx context.Context, jobID string) (*types.Job, error)
	GetImage(ctx context.Context, imageID string) (*types.Image, error)
}

type Handler struct {
	store Reader
}

func NewHandler(store Reader) *Handler {
	return &Handler{store: store}
}

// NewServer builds the echo instance serving the status routes.
func NewServer(store Reader) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogError:  true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/healthz"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Debug()
			if v.Error != nil {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Msg("Status API request")
			return nil
		},
	}))
	e.Use(middleware.Recover())

	NewHandler(store).Register(e)
	return e
}

func (h *Handler) Register(e *echo.Echo) {
	e.GET("/healthz", h.HandleHealth)
	e.GET("/jobs/:id", h.HandleGetJob)
	e.GET("/images/:id", h.HandleGetImage)
}

func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// HandleGetJob returns the poller view of a job.
func (h *Handler) HandleGetJob(c echo.Context) error {
	id := c.Param("id")
	job, err := h.store.GetJob(c.Request().Context(), id)
	if err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("Failed to load job")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
	}
	if job == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}
	return c.JSON(http.StatusOK, job.StatusRecord())
}

func (h *Handler) HandleGetImage(c echo.Context) error {
	id := c.Param("id")
	img, err := h.store.GetImage(c.Request().Context(), id)
	if err != nil {
		log.Error().Err(err).Str("image_id", id).Msg("Failed to load image")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load image"})
	}
	if img == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "image not found"})
	}
	return c.JSON(http.StatusOK, img)
}
