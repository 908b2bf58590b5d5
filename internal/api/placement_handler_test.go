package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"campushire/internal/auth"
	"campushire/internal/database"
	"campushire/internal/placement"
)

type fakeArchive struct {
	objects map[string][]byte
	deleted []string
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{objects: map[string][]byte{}}
}

func (a *fakeArchive) ArchiveRoster(_ context.Context, objectKey string, reader io.Reader, _ int64, _ string) error {
	b, _ := io.ReadAll(reader)
	a.objects[objectKey] = b
	return nil
}

func (a *fakeArchive) GeneratePresignedURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://example.invalid/" + objectKey, nil
}

func (a *fakeArchive) DeleteObject(_ context.Context, objectKey string) error {
	a.deleted = append(a.deleted, objectKey)
	delete(a.objects, objectKey)
	return nil
}

func (a *fakeArchive) FetchOriginal(_ context.Context, objectKey string) (io.ReadCloser, error) {
	content, ok := a.objects[objectKey]
	if !ok {
		return nil, fmt.Errorf("object %q not archived", objectKey)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedApprovedOfficer(t *testing.T, db *gorm.DB) *database.PlacementOfficer {
	t.Helper()
	officer := database.PlacementOfficer{
		Name:         "Placement Cell",
		Email:        "cell@college.edu",
		CollegeName:  "Test College",
		PasswordHash: "x",
		Status:       database.StatusApproved,
	}
	if err := db.Create(&officer).Error; err != nil {
		t.Fatalf("seed officer: %v", err)
	}
	return &officer
}

func newMultipartUpload(t *testing.T, filename string, content []byte, customName string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if customName != "" {
		if err := writer.WriteField("customFileName", customName); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func placementContext(t *testing.T, w *httptest.ResponseRecorder, officerID uint, req *http.Request) *gin.Context {
	t.Helper()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Set("userID", officerID)
	c.Set("role", auth.RolePlacement)
	return c
}

func TestUploadRoster(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	archive := newFakeArchive()
	officer := seedApprovedOfficer(t, db)
	svc := placement.NewService(db, nil, archive, nil)
	h := NewPlacementHandler(svc, archive, nil, 5*1024*1024, "")

	roster := []byte("Candidate Name,Email\nAlice,alice@example.com\nBob,bob@example.com\n")
	body, contentType := newMultipartUpload(t, "students.csv", roster, "Batch 2026")
	req := httptest.NewRequest(http.MethodPost, "/v1/placement/files", body)
	req.Header.Set("Content-Type", contentType)

	w := httptest.NewRecorder()
	h.Upload(placementContext(t, w, officer.ID, req))

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
		Rows    int  `json:"rows"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("success = false, body=%s", w.Body.String())
	}
	if resp.Rows != 2 {
		t.Fatalf("rows = %d, want 2", resp.Rows)
	}

	var file database.UploadedFile
	if err := db.First(&file).Error; err != nil {
		t.Fatalf("load file record: %v", err)
	}
	if file.Status != database.StatusPending {
		t.Fatalf("status = %q, want pending", file.Status)
	}
	if file.CustomName != "Batch 2026" {
		t.Fatalf("customName = %q", file.CustomName)
	}
	if _, ok := archive.objects[file.ObjectKey]; !ok {
		t.Fatalf("original roster not archived under %q", file.ObjectKey)
	}
}

func TestUploadRejectsUnparsableFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	archive := newFakeArchive()
	officer := seedApprovedOfficer(t, db)
	svc := placement.NewService(db, nil, archive, nil)
	h := NewPlacementHandler(svc, archive, nil, 5*1024*1024, "")

	body, contentType := newMultipartUpload(t, "students.pdf", []byte("%PDF-1.4 not a roster"), "")
	req := httptest.NewRequest(http.MethodPost, "/v1/placement/files", body)
	req.Header.Set("Content-Type", contentType)

	w := httptest.NewRecorder()
	h.Upload(placementContext(t, w, officer.ID, req))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%s", w.Code, w.Body.String())
	}
	if len(archive.objects) != 0 {
		t.Fatal("rejected upload must not be archived")
	}

	var count int64
	if err := db.Model(&database.UploadedFile{}).Count(&count).Error; err != nil {
		t.Fatalf("count files: %v", err)
	}
	if count != 0 {
		t.Fatal("rejected upload must not create a lifecycle record")
	}
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	archive := newFakeArchive()
	officer := seedApprovedOfficer(t, db)
	svc := placement.NewService(db, nil, archive, nil)
	h := NewPlacementHandler(svc, archive, nil, 64, "")

	body, contentType := newMultipartUpload(t, "students.csv", bytes.Repeat([]byte("a"), 256), "")
	req := httptest.NewRequest(http.MethodPost, "/v1/placement/files", body)
	req.Header.Set("Content-Type", contentType)

	w := httptest.NewRecorder()
	h.Upload(placementContext(t, w, officer.ID, req))

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestUploadRejectsLongCustomName(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	archive := newFakeArchive()
	officer := seedApprovedOfficer(t, db)
	svc := placement.NewService(db, nil, archive, nil)
	h := NewPlacementHandler(svc, archive, nil, 5*1024*1024, "")

	body, contentType := newMultipartUpload(t, "students.csv", []byte("Name,Email\n"), strings.Repeat("x", placement.MaxCustomNameLen+1))
	req := httptest.NewRequest(http.MethodPost, "/v1/placement/files", body)
	req.Header.Set("Content-Type", contentType)

	w := httptest.NewRecorder()
	h.Upload(placementContext(t, w, officer.ID, req))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestProcessEndpointReportsStats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	archive := newFakeArchive()
	officer := seedApprovedOfficer(t, db)
	svc := placement.NewService(db, nil, archive, nil)
	h := NewPlacementHandler(svc, archive, nil, 5*1024*1024, "")

	archive.objects["rosters/x.csv"] = []byte("Candidate Name,Email\nAlice,alice@example.com\nBob,\n")
	file := database.UploadedFile{
		PlacementOfficerID: officer.ID,
		OriginalName:       "x.csv",
		ObjectKey:          "rosters/x.csv",
		Status:             database.StatusApproved,
		UploadedAt:         time.Now(),
	}
	if err := db.Create(&file).Error; err != nil {
		t.Fatalf("seed file: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/v1/placement/files/%d/process", file.ID), nil)
	w := httptest.NewRecorder()
	c := placementContext(t, w, officer.ID, req)
	c.Params = gin.Params{{Key: "id", Value: fmt.Sprint(file.ID)}}

	h.Process(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
		Stats   struct {
			Created int `json:"created"`
			Skipped int `json:"skipped"`
			Errors  []struct {
				Row int `json:"row"`
			} `json:"errors"`
		} `json:"stats"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Stats.Created != 1 || len(resp.Stats.Errors) != 1 {
		t.Fatalf("unexpected stats: %s", w.Body.String())
	}
}

func TestProcessEndpointRejectsRejectedFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	archive := newFakeArchive()
	officer := seedApprovedOfficer(t, db)
	svc := placement.NewService(db, nil, archive, nil)
	h := NewPlacementHandler(svc, archive, nil, 5*1024*1024, "")

	file := database.UploadedFile{
		PlacementOfficerID: officer.ID,
		OriginalName:       "x.csv",
		Status:             database.StatusRejected,
		UploadedAt:         time.Now(),
	}
	if err := db.Create(&file).Error; err != nil {
		t.Fatalf("seed file: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/v1/placement/files/%d/process", file.ID), nil)
	w := httptest.NewRecorder()
	c := placementContext(t, w, officer.ID, req)
	c.Params = gin.Params{{Key: "id", Value: fmt.Sprint(file.ID)}}

	h.Process(c)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d body=%s", w.Code, w.Body.String())
	}
}
