package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lampwatch/lampwatch/internal/datastore"
	"github.com/lampwatch/lampwatch/internal/errors"
	"github.com/lampwatch/lampwatch/internal/logger"
	"github.com/lampwatch/lampwatch/internal/privacy"
)

const (
	statusUp   = "UP"
	statusDown = "DOWN"

	msgNoFilePart        = "No file part"
	msgNoSelectedFile    = "No selected file"
	msgDecodeUpload      = "Could not decode image"
	msgDecodeURL         = "Could not decode image from URL"
	msgMissingImageURL   = "Missing 'image_url' in request body"
	msgFetchFailedPrefix = "Failed to fetch image from URL: "
	msgModelNotReady     = "Detection model not ready"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func newErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Status: "error", Message: message}
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status           string  `json:"status"`
	Service          string  `json:"service"`
	ModelStatus      string  `json:"model_status"`
	StorageFolder    string  `json:"storage_folder,omitempty"`
	StorageFreeBytes *uint64 `json:"storage_free_bytes,omitempty"`
	MQTTConnected    bool    `json:"mqtt_connected"`
	Timestamp        float64 `json:"timestamp"`
}

type urlRequest struct {
	ImageURL string `json:"image_url"`
}

func (s *Server) health(c echo.Context) error {
	now := s.now()
	resp := HealthResponse{
		Status:      statusUp,
		Service:     s.config.ServiceName,
		ModelStatus: "Ready",
		Timestamp:   float64(now.UnixNano()) / 1e9,
	}
	if s.broker != nil {
		resp.MQTTConnected = s.broker.IsConnected()
	}

	if s.ready != nil {
		if err := s.ready.Ready(); err != nil {
			resp.Status = statusDown
			resp.ModelStatus = "Initialization Error: " + err.Error()
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
	}

	resp.StorageFolder = s.images.Dir()
	if free, err := s.images.FreeBytes(); err == nil {
		resp.StorageFreeBytes = &free
	} else {
		s.log.Debug("free space probe failed", logger.Error(err))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) detectUpload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		if fileFieldWithoutName(c) {
			return c.JSON(http.StatusBadRequest, newErrorResponse(msgNoSelectedFile))
		}
		return c.JSON(http.StatusBadRequest, newErrorResponse(msgNoFilePart))
	}
	if fh.Filename == "" {
		return c.JSON(http.StatusBadRequest, newErrorResponse(msgNoSelectedFile))
	}

	raw, err := readUpload(fh)
	if err != nil {
		return err
	}
	return s.runPipeline(c, raw, msgDecodeUpload)
}

// fileFieldWithoutName reports whether the form carried a "file" part with
// an empty filename, which mime/multipart files under Value, not File.
func fileFieldWithoutName(c echo.Context) bool {
	form, err := c.MultipartForm()
	if err != nil || form == nil {
		return false
	}
	_, ok := form.Value["file"]
	return ok
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryFileIO).
			Context("operation", "open_upload").
			Build()
	}
	defer func() { _ = f.Close() }()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryFileIO).
			Context("operation", "read_upload").
			Build()
	}
	return raw, nil
}

func (s *Server) detectURL(c echo.Context) error {
	var req urlRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil || strings.TrimSpace(req.ImageURL) == "" {
		return c.JSON(http.StatusBadRequest, newErrorResponse(msgMissingImageURL))
	}
	if s.fetcher == nil {
		return c.JSON(http.StatusServiceUnavailable, newErrorResponse("URL ingest is not configured"))
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.FetchTimeout)
	defer cancel()

	raw, err := s.fetcher.FetchBytes(ctx, req.ImageURL)
	if err != nil {
		s.httpMetrics().ImageFetchError(fetchFailureReason(err))
		s.log.Warn("remote image fetch failed",
			logger.String("url", privacy.SanitizeURL(req.ImageURL)),
			logger.Error(privacy.WrapError(err)))
		return c.JSON(http.StatusBadGateway, newErrorResponse(msgFetchFailedPrefix+err.Error()))
	}
	return s.runPipeline(c, raw, msgDecodeURL)
}

func fetchFailureReason(err error) string {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		if _, ok := ee.GetContext()["status_code"]; ok {
			return "status"
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "network"
}

func (s *Server) runPipeline(c echo.Context, raw []byte, decodeMessage string) error {
	if s.ready != nil {
		if err := s.ready.Ready(); err != nil {
			return c.JSON(http.StatusServiceUnavailable, newErrorResponse(msgModelNotReady))
		}
	}
	res, err := s.runner.Run(c.Request().Context(), raw)
	if err != nil {
		if errors.IsCategory(err, errors.CategoryImageDecode) {
			return c.JSON(http.StatusBadRequest, newErrorResponse(decodeMessage))
		}
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) listHistory(c echo.Context) error {
	entries, err := s.history.ListEvents()
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []datastore.HistoryEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) lampStatus(c echo.Context) error {
	latest, err := s.history.LatestLampStatus()
	if err != nil {
		return err
	}
	if latest == nil {
		return c.JSON(http.StatusOK, map[string]string{"status": string(datastore.LampUnknown)})
	}
	return c.JSON(http.StatusOK, latest)
}

func (s *Server) serveImage(c echo.Context) error {
	name := c.Param("name")
	f, err := s.images.Open(name)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	http.ServeContent(c.Response(), c.Request(), name, info.ModTime(), f)
	return nil
}

// errorHandler renders every error as {"status":"error","message":...}.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code, message := s.classify(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed",
			logger.String("method", c.Request().Method),
			logger.String("path", c.Path()),
			logger.Error(err))
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(code)
	} else {
		writeErr = c.JSON(code, newErrorResponse(message))
	}
	if writeErr != nil {
		s.log.Debug("failed to write error response", logger.Error(writeErr))
	}
}

func (s *Server) classify(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, fmt.Sprint(he.Message)
	}

	switch errors.CategoryOf(err) {
	case errors.CategoryValidation:
		return http.StatusBadRequest, err.Error()
	case errors.CategoryNotFound:
		return http.StatusNotFound, err.Error()
	case errors.CategoryDatabase:
		return http.StatusInternalServerError, "Database error"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
