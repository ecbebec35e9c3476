package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// ListProducts returns every product in the catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		writeDomainError(w, r, errors.Wrap(err, "list products"))
		return
	}

	var e jx.Encoder
	h.encodeProducts(&e, products)
	writeJSON(w, http.StatusOK, &e)
}
