package server

import (
	"bufio"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/factline/factline/internal/observability/logger"
	pointdomain "github.com/factline/factline/internal/point/domain"
	"github.com/factline/factline/internal/upload"
)

// NDJSON rows above this size are rejected rather than silently
// truncated by the scanner.
const maxUploadLineBytes = 1 << 20

type uploadForm struct {
	DataSourceID string `form:"data_source_id"`
	Overwrite    bool   `form:"overwrite"`
	SyncRunID    string `form:"sync_run_id"`
}

// UploadFile accepts a multipart NDJSON file where every line is one
// point record. Replace-or-skip decisions happen in the upload
// service; this handler only parses.
func (s *Server) UploadFile(c *gin.Context) {
	var form uploadForm
	if err := c.ShouldBind(&form); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		AbortWithError(c, newValidationError("file", "missing_file", "multipart field 'file' is required"))
		return
	}

	points, err := parseUploadFile(fileHeader)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	dataSourceID := strings.TrimSpace(form.DataSourceID)
	fileName := filepath.Base(fileHeader.Filename)

	if s.ingestLimiter.Enabled() {
		token, acquired, lockErr := s.ingestLimiter.TryLockUpload(ctx, dataSourceID, fileName)
		if lockErr != nil {
			logger.FromContext(ctx).Warn("upload lock failed", zap.Error(lockErr))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !acquired {
			AbortWithError(c, ErrConflict)
			return
		}
		defer func() {
			if releaseErr := s.ingestLimiter.ReleaseUpload(ctx, dataSourceID, fileName, token); releaseErr != nil {
				logger.FromContext(ctx).Warn("upload unlock failed", zap.Error(releaseErr))
			}
		}()
	}

	result, err := s.uploadSvc.Resolve(ctx, upload.Request{
		DataSourceID: dataSourceID,
		FileName:     fileName,
		FileSize:     fileHeader.Size,
		Overwrite:    form.Overwrite,
		SyncRunID:    strings.TrimSpace(form.SyncRunID),
		Points:       points,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if result.Skipped() {
		c.JSON(http.StatusConflict, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func parseUploadFile(header *multipart.FileHeader) ([]pointdomain.PointInput, error) {
	file, err := header.Open()
	if err != nil {
		return nil, invalidRequestError()
	}
	defer file.Close()

	var points []pointdomain.PointInput

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxUploadLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var point pointdomain.PointInput
		if err := json.Unmarshal([]byte(raw), &point); err != nil {
			return nil, newValidationError("file", "invalid_row", "malformed row "+strconv.Itoa(line))
		}
		points = append(points, point)
	}
	if err := scanner.Err(); err != nil {
		return nil, newValidationError("file", "invalid_row", "row exceeds size limit")
	}

	return points, nil
}
