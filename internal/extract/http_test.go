package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/image-forge/internal/jobs"
)

type stubScheduler struct {
	scheduled []string
	err       error
}

func (s *stubScheduler) Schedule(_ context.Context, jobID string) error {
	if s.err != nil {
		return s.err
	}
	s.scheduled = append(s.scheduled, jobID)
	return nil
}

func newTestRouter(svc *Service, store jobs.Store, scheduler Scheduler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	api := router.Group("/api")
	api.POST("/extract", ExtractHandler(svc, scheduler))
	api.GET("/jobs", ListJobsHandler(store))
	api.GET("/jobs/:id", JobStatusHandler(store))
	api.GET("/jobs/:id/download/zip", DownloadZipHandler(svc))
	api.GET("/jobs/:id/download/json", DownloadJSONHandler(svc))
	return router
}

func newHandlerService(t *testing.T, store jobs.Store) *Service {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewService(testConfig(t), store, Toolset{}, logger)
}

// multipartPDF はフィールド名 field でファイルを添付したリクエスト本文を作ります。
func multipartPDF(t *testing.T, field, filename, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(map[string][]string)
	header["Content-Disposition"] = []string{
		`form-data; name="` + field + `"; filename="` + filename + `"`,
	}
	if contentType != "" {
		header["Content-Type"] = []string{contentType}
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed to write multipart content: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not valid JSON: %v (body=%q)", err, w.Body.String())
	}
	return body
}

func TestExtractHandlerAcceptsPDF(t *testing.T) {
	store := jobs.NewMemoryStore()
	svc := newHandlerService(t, store)
	scheduler := &stubScheduler{}
	router := newTestRouter(svc, store, scheduler)

	body, contentType := multipartPDF(t, "pdf", "report.pdf", "application/pdf", []byte("%PDF-1.4 content"))
	req := httptest.NewRequest(http.MethodPost, "/api/extract", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body=%s)", w.Code, w.Body.String())
	}
	jobID, ok := decodeBody(t, w)["jobId"].(string)
	if !ok || jobID == "" {
		t.Fatalf("missing jobId in response: %s", w.Body.String())
	}

	record, err := store.Get(context.Background(), jobID)
	if err != nil || record == nil {
		t.Fatalf("job record not created: %v", err)
	}
	if record.Status != jobs.StatusPending {
		t.Fatalf("status = %s, want %s", record.Status, jobs.StatusPending)
	}
	if len(scheduler.scheduled) != 1 || scheduler.scheduled[0] != jobID {
		t.Fatalf("scheduler saw %v, want [%s]", scheduler.scheduled, jobID)
	}

	// アップロードは作業領域に保存されていること
	ws := svc.workspaceFor(jobID)
	data, err := os.ReadFile(ws.srcPath)
	if err != nil {
		t.Fatalf("uploaded file not stored: %v", err)
	}
	if string(data) != "%PDF-1.4 content" {
		t.Fatalf("stored content = %q", data)
	}
}

func TestExtractHandlerMissingFile(t *testing.T) {
	store := jobs.NewMemoryStore()
	svc := newHandlerService(t, store)
	router := newTestRouter(svc, store, &stubScheduler{})

	req := httptest.NewRequest(http.MethodPost, "/api/extract", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if msg := decodeBody(t, w)["message"]; msg != "No PDF file uploaded" {
		t.Fatalf("message = %v", msg)
	}
}

func TestExtractHandlerRejectsNonPDF(t *testing.T) {
	store := jobs.NewMemoryStore()
	svc := newHandlerService(t, store)
	router := newTestRouter(svc, store, &stubScheduler{})

	body, contentType := multipartPDF(t, "pdf", "photo.png", "image/png", []byte("\x89PNG\r\n\x1a\n fake"))
	req := httptest.NewRequest(http.MethodPost, "/api/extract", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body=%s)", w.Code, w.Body.String())
	}
	if msg := decodeBody(t, w)["message"]; msg != "Only PDF files are allowed" {
		t.Fatalf("message = %v", msg)
	}

	// 拒否された場合はレコードが残らないこと
	records, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("rejected upload created %d records", len(records))
	}
}

func TestExtractHandlerEnforcesSizeLimit(t *testing.T) {
	store := jobs.NewMemoryStore()
	svc := newHandlerService(t, store)
	svc.cfg.MaxFileSize = 8
	router := newTestRouter(svc, store, &stubScheduler{})

	body, contentType := multipartPDF(t, "pdf", "big.pdf", "application/pdf", []byte("%PDF-1.4 far too large"))
	req := httptest.NewRequest(http.MethodPost, "/api/extract", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413 (body=%s)", w.Code, w.Body.String())
	}

	records, _ := store.List(context.Background())
	if len(records) != 0 {
		t.Fatalf("oversized upload created %d records", len(records))
	}
}

func TestExtractHandlerSniffsMissingContentType(t *testing.T) {
	store := jobs.NewMemoryStore()
	svc := newHandlerService(t, store)
	router := newTestRouter(svc, store, &stubScheduler{})

	// Content-Type 未申告でも先頭バイトがPDFなら受理する
	body, contentType := multipartPDF(t, "pdf", "report.pdf", "", []byte("%PDF-1.7\n1 0 obj"))
	req := httptest.NewRequest(http.MethodPost, "/api/extract", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body=%s)", w.Code, w.Body.String())
	}
}

func TestExtractHandlerScheduleFailure(t *testing.T) {
	store := jobs.NewMemoryStore()
	svc := newHandlerService(t, store)
	router := newTestRouter(svc, store, &stubScheduler{err: errors.New("queue unavailable")})

	body, contentType := multipartPDF(t, "pdf", "report.pdf", "application/pdf", []byte("%PDF-1.4"))
	req := httptest.NewRequest(http.MethodPost, "/api/extract", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 (body=%s)", w.Code, w.Body.String())
	}

	// 投入に失敗したジョブは失敗状態で残ること
	records, _ := store.List(context.Background())
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Status != jobs.StatusFailed {
		t.Fatalf("status = %s, want %s", records[0].Status, jobs.StatusFailed)
	}
}

func TestJobStatusHandler(t *testing.T) {
	store := jobs.NewMemoryStore()
	svc := newHandlerService(t, store)
	router := newTestRouter(svc, store, &stubScheduler{})

	record, _ := store.Create(context.Background(), "report.pdf", 42)
	_, _ = store.Update(context.Background(), record.ID, func(r *jobs.Record) {
		r.Status = jobs.StatusProcessing
		r.Progress = 40
		r.CurrentStage = jobs.StageExtracting
		r.AppendLog(r.StartedAt, jobs.LogInfo, "PDF extraction started for: report.pdf")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+record.ID, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["id"] != record.ID {
		t.Fatalf("id = %v, want %s", body["id"], record.ID)
	}
	if body["status"] != "processing" || body["progress"] != float64(40) {
		t.Fatalf("unexpected body: %v", body)
	}
	if body["currentStage"] != "extracting" {
		t.Fatalf("currentStage = %v", body["currentStage"])
	}
	logs, ok := body["logs"].([]any)
	if !ok || len(logs) != 1 {
		t.Fatalf("logs = %v", body["logs"])
	}
}

func TestJobStatusHandlerUnknownJob(t *testing.T) {
	store := jobs.NewMemoryStore()
	svc := newHandlerService(t, store)
	router := newTestRouter(svc, store, &stubScheduler{})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/does-not-exist", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if msg := decodeBody(t, w)["message"]; msg != "Job not found" {
		t.Fatalf("message = %v", msg)
	}

	// 照会で副作用としてレコードが作られないこと
	records, _ := store.List(context.Background())
	if len(records) != 0 {
		t.Fatalf("status query created %d records", len(records))
	}
}

func TestListJobsHandler(t *testing.T) {
	store := jobs.NewMemoryStore()
	svc := newHandlerService(t, store)
	router := newTestRouter(svc, store, &stubScheduler{})

	_, _ = store.Create(context.Background(), "a.pdf", 1)
	_, _ = store.Create(context.Background(), "b.pdf", 2)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	listed, ok := decodeBody(t, w)["jobs"].([]any)
	if !ok || len(listed) != 2 {
		t.Fatalf("jobs = %v", listed)
	}
}

func TestDownloadZipHandler(t *testing.T) {
	store := jobs.NewMemoryStore()
	svc := newHandlerService(t, store)
	router := newTestRouter(svc, store, &stubScheduler{})

	record, _ := store.Create(context.Background(), "quarterly report.pdf", 42)
	ws, err := svc.createWorkspace(record.ID)
	if err != nil {
		t.Fatalf("createWorkspace returned error: %v", err)
	}
	zipContent := []byte("PK\x03\x04 pretend zip")
	if err := os.WriteFile(ws.zipPath, zipContent, 0o640); err != nil {
		t.Fatalf("failed to write zip: %v", err)
	}
	_, _ = store.Update(context.Background(), record.ID, func(r *jobs.Record) {
		r.Status = jobs.StatusCompleted
		r.ZipPath = ws.zipPath
	})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+record.ID+"/download/zip", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body=%s)", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("Content-Type = %q", ct)
	}
	disposition := w.Header().Get("Content-Disposition")
	if !strings.Contains(disposition, `filename="quarterly report-images.zip"`) {
		t.Fatalf("Content-Disposition = %q", disposition)
	}
	if got := w.Header().Get("X-Job-Id"); got != record.ID {
		t.Fatalf("X-Job-Id = %q", got)
	}
	if !bytes.Equal(w.Body.Bytes(), zipContent) {
		t.Fatalf("body = %q", w.Body.Bytes())
	}
}

func TestDownloadJSONHandler(t *testing.T) {
	store := jobs.NewMemoryStore()
	svc := newHandlerService(t, store)
	router := newTestRouter(svc, store, &stubScheduler{})

	record, _ := store.Create(context.Background(), "report.pdf", 42)
	ws, err := svc.createWorkspace(record.ID)
	if err != nil {
		t.Fatalf("createWorkspace returned error: %v", err)
	}
	if err := os.WriteFile(ws.jsonPath, []byte(`{"images":[]}`), 0o640); err != nil {
		t.Fatalf("failed to write json: %v", err)
	}
	_, _ = store.Update(context.Background(), record.ID, func(r *jobs.Record) {
		r.Status = jobs.StatusCompleted
		r.JSONPath = ws.jsonPath
	})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+record.ID+"/download/json", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body=%s)", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "report-metadata.json") {
		t.Fatalf("Content-Disposition = %q", w.Header().Get("Content-Disposition"))
	}
	if w.Body.String() != `{"images":[]}` {
		t.Fatalf("body = %q", w.Body.String())
	}
}

func TestDownloadHandlerNotFound(t *testing.T) {
	store := jobs.NewMemoryStore()
	svc := newHandlerService(t, store)
	router := newTestRouter(svc, store, &stubScheduler{})

	// 存在しないジョブ
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/does-not-exist/download/zip", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if msg := decodeBody(t, w)["message"]; msg != "ZIP file not found" {
		t.Fatalf("message = %v", msg)
	}

	// ジョブはあるが成果物が未生成
	record, _ := store.Create(context.Background(), "report.pdf", 42)
	req = httptest.NewRequest(http.MethodGet, "/api/jobs/"+record.ID+"/download/json", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if msg := decodeBody(t, w)["message"]; msg != "JSON file not found" {
		t.Fatalf("message = %v", msg)
	}
}
