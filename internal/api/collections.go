package api

import (
	"log/slog"
	"net/http"

	"github.com/pwojcik/docrag/internal/index"
)

type collectionHandler struct {
	index    CollectionManager
	registry DocumentRegistry
	logger   *slog.Logger
}

func (h *collectionHandler) list(w http.ResponseWriter, r *http.Request) {
	infos, err := h.index.Collections(r.Context())
	if err != nil {
		h.logger.Error("listing collections", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if infos == nil {
		infos = []index.CollectionInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": infos})
}

// delete removes a collection: its chunks (cascade in the index) and its
// document records.
func (h *collectionHandler) delete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := h.index.DeleteCollection(r.Context(), name); err != nil {
		h.logger.Error("deleting collection", "collection", name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	docsRemoved, err := h.registry.DeleteCollection(r.Context(), name)
	if err != nil {
		h.logger.Error("deleting collection documents", "collection", name, "error", err)
		writeError(w, http.StatusInternalServerError, "collection removed but document cleanup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"collection":        name,
		"documents_removed": docsRemoved,
	})
}
