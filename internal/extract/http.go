package extract

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/image-forge/internal/jobs"
)

// ExtractHandler は POST /api/extract のハンドラーを返します。
// 受理したジョブはスケジューラーに渡し、jobId を即座に返します。
func ExtractHandler(svc *Service, scheduler Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, err := c.FormFile("pdf")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "No PDF file uploaded"})
			return
		}

		record, err := svc.PrepareExtractionJob(c.Request.Context(), file)
		if err != nil {
			respondWithError(c, err)
			return
		}

		if err := scheduler.Schedule(c.Request.Context(), record.ID); err != nil {
			svc.DiscardJob(c.Request.Context(), record.ID)
			respondWithError(c, fmt.Errorf("failed to schedule extraction: %w", err))
			return
		}

		c.JSON(http.StatusOK, gin.H{"jobId": record.ID})
	}
}

// JobStatusHandler は GET /api/jobs/:id のハンドラーを返します。
func JobStatusHandler(store jobs.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		if jobID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"message": "jobId is required"})
			return
		}

		record, err := store.Get(c.Request.Context(), jobID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to get job status"})
			return
		}
		if record == nil {
			c.JSON(http.StatusNotFound, gin.H{"message": "Job not found"})
			return
		}

		c.JSON(http.StatusOK, record)
	}
}

// ListJobsHandler は GET /api/jobs のハンドラーを返します。管理用途向けです。
func ListJobsHandler(store jobs.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := store.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to list jobs"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"jobs": records})
	}
}

// DownloadZipHandler は GET /api/jobs/:id/download/zip のハンドラーを返します。
func DownloadZipHandler(svc *Service) gin.HandlerFunc {
	return downloadHandler(svc.OpenZip, "application/zip", "-images.zip", "ZIP file not found")
}

// DownloadJSONHandler は GET /api/jobs/:id/download/json のハンドラーを返します。
func DownloadJSONHandler(svc *Service) gin.HandlerFunc {
	return downloadHandler(svc.OpenJSON, "application/json", "-metadata.json", "JSON file not found")
}

func downloadHandler(open func(ctx context.Context, jobID string) (*jobs.Record, *os.File, error), contentType, suffix, notFoundMsg string) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		if jobID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"message": "jobId is required"})
			return
		}

		record, file, err := open(c.Request.Context(), jobID)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				c.JSON(http.StatusNotFound, gin.H{"message": notFoundMsg})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to read job artifact"})
			return
		}
		defer file.Close()

		info, err := file.Stat()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to read job artifact"})
			return
		}

		base := strings.TrimSuffix(record.Filename, filepath.Ext(record.Filename))
		name := base + suffix
		encodedName := url.PathEscape(name)

		c.Header("Content-Type", contentType)
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", name, encodedName))
		c.Header("Cache-Control", "no-store")
		c.Header("X-Job-Id", record.ID)
		c.DataFromReader(http.StatusOK, info.Size(), contentType, file, nil)
	}
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		status := http.StatusBadRequest
		if apiErr.Code == "LIMIT_EXCEEDED" {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"message": apiErr.Message})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{"message": "Request was canceled"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
	}
}
