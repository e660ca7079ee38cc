package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type barcodeRequest struct {
	Barcode string `json:"barcode" uri:"barcode" binding:"required,barcode"`
}

// ProductsHandler serves /api/open-food-facts.
type ProductsHandler struct {
	catalog productCatalog
}

// ByPath handles GET /api/open-food-facts/products/:barcode.
func (h *ProductsHandler) ByPath(c *gin.Context) {
	var in barcodeRequest
	if err := c.ShouldBindUri(&in); err != nil {
		respondValidation(c, "path", err)
		return
	}
	h.lookup(c, in.Barcode)
}

// ByBody handles POST /api/open-food-facts/product.
func (h *ProductsHandler) ByBody(c *gin.Context) {
	var in barcodeRequest
	if !bindJSON(c, &in) {
		return
	}
	h.lookup(c, in.Barcode)
}

func (h *ProductsHandler) lookup(c *gin.Context, barcode string) {
	product, err := h.catalog.Product(c.Request.Context(), barcode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}
