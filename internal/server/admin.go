package server

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/arcadian-io/docchat/config"
	"github.com/arcadian-io/docchat/internal/blob"
	"github.com/arcadian-io/docchat/internal/ingest"
)

// FileContainer is the slice of the blob store the admin surface needs.
type FileContainer interface {
	List(ctx context.Context, prefix string) ([]blob.Item, error)
	Upload(ctx context.Context, name string, data []byte, metadata map[string]string) error
	Delete(ctx context.Context, name string) error
}

// DocumentRemover drops indexed chunks by source pattern. Satisfied by the
// index store.
type DocumentRemover interface {
	DeleteBySource(ctx context.Context, pattern string) (int, error)
}

// EventPublisher queues ingestion events. Satisfied by the stream publisher.
type EventPublisher interface {
	Publish(ctx context.Context, event ingest.Event) (string, error)
}

// AdminHandler serves the operator endpoints: managed files and the active
// runtime config. Notify, when set, broadcasts a config invalidation so other
// replicas drop their cached copy too.
type AdminHandler struct {
	Blob      FileContainer
	Index     DocumentRemover
	Publisher EventPublisher
	Active    *config.ActiveLoader
	Notify    func(ctx context.Context)
}

func (h *AdminHandler) Register(g *echo.Group) {
	g.GET("/files", h.listFiles)
	g.POST("/files", h.uploadFile)
	g.POST("/files/url", h.ingestURL)
	g.DELETE("/files/:name", h.deleteFile)
	g.GET("/config", h.getConfig)
	g.POST("/config", h.saveConfig)
}

func (h *AdminHandler) listFiles(c echo.Context) error {
	items, err := h.Blob.List(c.Request().Context(), "")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []blob.Item{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"files": items})
}

func (h *AdminHandler) uploadFile(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file form field required")
	}
	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	ctx := c.Request().Context()
	metadata := map[string]string{"content_type": fh.Header.Get("Content-Type")}
	if err := h.Blob.Upload(ctx, fh.Filename, data, metadata); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if _, err := h.Publisher.Publish(ctx, ingest.Event{EventType: ingest.EventBlobUploaded, BlobName: fh.Filename}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	filesUploadedTotal.Inc()
	return c.JSON(http.StatusCreated, map[string]string{"name": fh.Filename})
}

type ingestURLRequest struct {
	URL string `json:"url"`
}

// ingestURL queues a public web page for extraction and indexing. Nothing is
// stored in the container; the loader fetches the page at embed time.
func (h *AdminHandler) ingestURL(c echo.Context) error {
	var req ingestURLRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		return echo.NewHTTPError(http.StatusBadRequest, "url must be http or https")
	}
	ctx := c.Request().Context()
	if _, err := h.Publisher.Publish(ctx, ingest.Event{EventType: ingest.EventBlobUploaded, BlobName: req.URL}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"url": req.URL})
}

// deleteFile removes the object, drops its chunks from the index and queues a
// deletion event so sidecar replicas converge too. Re-deletes are no-ops.
func (h *AdminHandler) deleteFile(c echo.Context) error {
	name, err := url.PathUnescape(c.Param("name"))
	if err != nil || name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "file name required")
	}
	ctx := c.Request().Context()
	if err := h.Blob.Delete(ctx, name); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	removed, err := h.Index.DeleteBySource(ctx, "%"+name+"%")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if _, err := h.Publisher.Publish(ctx, ingest.Event{EventType: ingest.EventBlobDeleted, BlobName: name}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	filesDeletedTotal.Inc()
	return c.JSON(http.StatusOK, map[string]interface{}{"name": name, "chunks_removed": removed})
}

func (h *AdminHandler) getConfig(c echo.Context) error {
	active, err := h.Active.GetActiveConfigOrDefault(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, active)
}

func (h *AdminHandler) saveConfig(c echo.Context) error {
	var cfg config.ActiveConfig
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.Active.SaveActive(c.Request().Context(), &cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if h.Notify != nil {
		h.Notify(c.Request().Context())
	}
	return c.JSON(http.StatusOK, &cfg)
}
