package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/pwojcik/docrag/internal/index"
	"github.com/pwojcik/docrag/internal/ingest"
)

func uploadFile(t *testing.T, handler http.Handler, filename, content, collection string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if collection != "" {
		if err := mw.WriteField("collection", collection); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestUpload(t *testing.T) {
	ts := newTestServer(t)

	rec := uploadFile(t, ts.handler, "notes.txt", "Some notes.", "work")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var resp uploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Collection != "work" || resp.Status != ingest.StatusPending || resp.ID == "" {
		t.Errorf("response = %+v", resp)
	}

	ts.submitter.mu.Lock()
	defer ts.submitter.mu.Unlock()
	if len(ts.submitter.jobs) != 1 {
		t.Fatalf("%d jobs submitted, want 1", len(ts.submitter.jobs))
	}
	job := ts.submitter.jobs[0]
	if job.DocumentID != resp.ID || job.Filename != "notes.txt" || !job.RemoveFile {
		t.Errorf("job = %+v", job)
	}
	// The upload was staged on disk for the worker.
	if stat, err := os.Stat(job.Path); err != nil || stat.Size() != int64(len("Some notes.")) {
		t.Errorf("staged file: stat=%v err=%v", stat, err)
	}
}

func TestUploadDefaultsCollection(t *testing.T) {
	ts := newTestServer(t)

	rec := uploadFile(t, ts.handler, "notes.txt", "content", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp uploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Collection != "default" {
		t.Errorf("collection = %q, want default", resp.Collection)
	}
}

func TestUploadUnsupportedType(t *testing.T) {
	ts := newTestServer(t)

	rec := uploadFile(t, ts.handler, "image.png", "\x89PNG", "")
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", rec.Code)
	}
	ts.submitter.mu.Lock()
	defer ts.submitter.mu.Unlock()
	if len(ts.submitter.jobs) != 0 {
		t.Error("a job was submitted for an unsupported file")
	}
}

func TestUploadWhileShuttingDown(t *testing.T) {
	ts := newTestServer(t)
	ts.submitter.err = ingest.ErrClosed

	rec := uploadFile(t, ts.handler, "notes.txt", "content", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestGetDocument(t *testing.T) {
	ts := newTestServer(t)
	doc := &ingest.Document{Filename: "a.txt", Collection: "c"}
	if err := ts.registry.Create(t.Context(), doc); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+doc.ID, nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got ingest.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Filename != "a.txt" {
		t.Errorf("document = %+v", got)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/missing", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteDocumentRemovesChunks(t *testing.T) {
	ts := newTestServer(t)
	doc := &ingest.Document{Filename: "a.txt", Collection: "c"}
	if err := ts.registry.Create(t.Context(), doc); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/documents/"+doc.ID, nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	ts.index.mu.Lock()
	defer ts.index.mu.Unlock()
	if len(ts.index.deletedDocs) != 1 || ts.index.deletedDocs[0] != doc.ID {
		t.Errorf("chunks not deleted: %v", ts.index.deletedDocs)
	}
}

func TestListDocumentsEmpty(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	// Empty list must be a JSON array, not null.
	var body map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if string(body["documents"]) == "null" {
		t.Error("documents = null, want []")
	}
}

func TestListCollections(t *testing.T) {
	ts := newTestServer(t)
	ts.index.collections = []index.CollectionInfo{{Name: "docs", Chunks: 12}}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/collections", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Collections []index.CollectionInfo `json:"collections"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Collections) != 1 || body.Collections[0].Chunks != 12 {
		t.Errorf("collections = %+v", body.Collections)
	}
}

func TestDeleteCollection(t *testing.T) {
	ts := newTestServer(t)
	if err := ts.registry.Create(t.Context(), &ingest.Document{Filename: "a.txt", Collection: "old"}); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/collections/old", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	ts.index.mu.Lock()
	deleted := append([]string(nil), ts.index.deletedCols...)
	ts.index.mu.Unlock()
	if len(deleted) != 1 || deleted[0] != "old" {
		t.Errorf("index deletions = %v", deleted)
	}
	if docs, _ := ts.registry.List(t.Context(), "old"); len(docs) != 0 {
		t.Errorf("%d document records survived collection delete", len(docs))
	}
}
