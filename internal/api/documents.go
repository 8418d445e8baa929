package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/pwojcik/docrag/internal/ingest"
)

// maxUploadSize bounds document uploads.
const maxUploadSize = 50 << 20 // 50 MB

type documentHandler struct {
	registry          DocumentRegistry
	processor         JobSubmitter
	index             CollectionManager
	uploadDir         string
	defaultCollection string
	logger            *slog.Logger
}

// uploadResponse acknowledges an accepted ingestion. Processing continues
// in the background; poll the document endpoint for status.
type uploadResponse struct {
	ID         string        `json:"id"`
	Filename   string        `json:"filename"`
	Collection string        `json:"collection"`
	Status     ingest.Status `json:"status"`
}

// upload accepts a multipart file, registers it, and queues ingestion. The
// response returns immediately with 202; the caller is not blocked on
// extraction and indexing.
func (h *documentHandler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if _, err := ingest.ExtractorFor(header.Filename); err != nil {
		writeError(w, http.StatusUnsupportedMediaType,
			fmt.Sprintf("unsupported file type: %s", filepath.Ext(header.Filename)))
		return
	}

	collection := r.FormValue("collection")
	if collection == "" {
		collection = h.defaultCollection
	}

	path, size, err := h.saveUpload(file, header)
	if err != nil {
		h.logger.Error("saving upload", "filename", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	doc := &ingest.Document{
		Filename:    header.Filename,
		Collection:  collection,
		FileSize:    size,
		ContentType: header.Header.Get("Content-Type"),
	}
	if err := h.registry.Create(r.Context(), doc); err != nil {
		_ = os.Remove(path)
		h.logger.Error("registering upload", "filename", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to register document")
		return
	}

	err = h.processor.Submit(ingest.Job{
		DocumentID: doc.ID,
		Collection: collection,
		Filename:   doc.Filename,
		Path:       path,
		RemoveFile: true,
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion is shutting down")
		return
	}

	writeJSON(w, http.StatusAccepted, uploadResponse{
		ID:         doc.ID,
		Filename:   doc.Filename,
		Collection: collection,
		Status:     doc.Status,
	})
}

// saveUpload copies the multipart file into the upload directory under a
// unique name, returning the path and byte count.
func (h *documentHandler) saveUpload(file multipart.File, header *multipart.FileHeader) (string, int64, error) {
	if err := os.MkdirAll(h.uploadDir, 0o750); err != nil {
		return "", 0, fmt.Errorf("creating upload dir: %w", err)
	}
	path := filepath.Join(h.uploadDir, uuid.NewString()+filepath.Ext(header.Filename))

	dst, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("creating upload file: %w", err)
	}
	defer dst.Close()

	size, err := io.Copy(dst, file)
	if err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("writing upload file: %w", err)
	}
	return path, size, nil
}

// urlRequest is the body for URL ingestion.
type urlRequest struct {
	URL        string `json:"url"`
	Collection string `json:"collection,omitempty"`
}

// ingestURL fetches a page, extracts its readable text, and queues it for
// chunking and indexing like any other document.
func (h *documentHandler) ingestURL(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	collection := req.Collection
	if collection == "" {
		collection = h.defaultCollection
	}

	title, text, err := ingest.FetchURL(r.Context(), req.URL)
	if err != nil {
		h.logger.Warn("fetching url", "url", req.URL, "error", err)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("could not fetch url: %v", err))
		return
	}

	doc := &ingest.Document{
		Filename:    title,
		Collection:  collection,
		FileSize:    int64(len(text)),
		ContentType: "text/html",
	}
	if err := h.registry.Create(r.Context(), doc); err != nil {
		h.logger.Error("registering url document", "url", req.URL, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to register document")
		return
	}

	err = h.processor.Submit(ingest.Job{
		DocumentID: doc.ID,
		Collection: collection,
		Filename:   doc.Filename,
		Text:       text,
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion is shutting down")
		return
	}

	writeJSON(w, http.StatusAccepted, uploadResponse{
		ID:         doc.ID,
		Filename:   doc.Filename,
		Collection: collection,
		Status:     doc.Status,
	})
}

func (h *documentHandler) list(w http.ResponseWriter, r *http.Request) {
	docs, err := h.registry.List(r.Context(), r.URL.Query().Get("collection"))
	if err != nil {
		h.logger.Error("listing documents", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if docs == nil {
		docs = []ingest.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (h *documentHandler) get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ingest.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		h.logger.Error("loading document", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// delete removes a document record and its chunks from the index.
func (h *documentHandler) delete(w http.ResponseWriter, r *http.Request) {
	doc, err := h.registry.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ingest.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		h.logger.Error("deleting document", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	removed, err := h.index.DeleteDocument(r.Context(), doc.Collection, doc.ID)
	if err != nil {
		h.logger.Error("deleting document chunks", "document_id", doc.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "document removed but chunk cleanup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":             doc.ID,
		"chunks_removed": removed,
	})
}
