package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	model2 "github.com/crosscheck-finance/crosscheck/api/model"
	"github.com/crosscheck-finance/crosscheck/internal/exports"
)

// DownloadSessionReport renders a completed session's report and serves it
// as a download. The format query selects csv or json, defaulting to json.
//
// Parameters:
// - c: The Gin context containing the request and response.
//
// Responses:
// - 400 Bad Request: If the format is not supported.
// - 412 Precondition Failed: If the session has not completed matching.
// - 200 OK: The rendered report.
func (a Api) DownloadSessionReport(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	format := c.DefaultQuery("format", exports.FormatJSON)
	if err := model2.ValidateReportFormat(format); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var report bytes.Buffer
	if err := a.crosscheck.RenderSessionReport(c.Request.Context(), id, format, &report); err != nil {
		serviceError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s-report.%s", id, format))
	c.Data(http.StatusOK, exports.ContentType(format), report.Bytes())
}

// ExportSessionReportToS3 writes a session report to the export directory
// and ships it to the configured S3 bucket.
func (a Api) ExportSessionReportToS3(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	format := c.DefaultQuery("format", exports.FormatJSON)
	if err := model2.ValidateReportFormat(format); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	filePath, objectKey, err := a.crosscheck.ExportSessionReport(c.Request.Context(), id, format)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"file_path": filePath, "object_key": objectKey})
}
