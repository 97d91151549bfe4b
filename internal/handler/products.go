package handler

import (
	"net/http"
	"time"

	"github.com/mmeshcher/pi-marketplace/internal/model"
	"github.com/mmeshcher/pi-marketplace/internal/repository"
	"github.com/mmeshcher/pi-marketplace/internal/service"
)

type productRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	PricePoints int64  `json:"price_points"`
	Stock       int    `json:"stock"`
}

type productResponse struct {
	ID          string `json:"id"`
	SellerID    string `json:"seller_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	PricePoints int64  `json:"price_points"`
	Stock       int    `json:"stock"`
	SoldCount   int    `json:"sold_count"`
	Active      bool   `json:"active"`
	Approved    bool   `json:"approved"`
	CreatedAt   string `json:"created_at"`
}

func toProductResponse(p *model.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		SellerID:    p.SellerID,
		Title:       p.Title,
		Description: p.Description,
		PricePoints: p.PricePoints,
		Stock:       p.Stock,
		SoldCount:   p.SoldCount,
		Active:      p.Active,
		Approved:    p.Approved,
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) writeProducts(w http.ResponseWriter, r *http.Request, filter repository.ProductFilter) {
	products, err := h.service.ListProducts(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, "list products", err)
		return
	}

	resp := make([]productResponse, 0, len(products))
	for i := range products {
		resp = append(resp, toProductResponse(&products[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListProducts возвращает витрину: одобренные активные товары в наличии.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	h.writeProducts(w, r, repository.ProductFilter{OnlyPurchasable: true})
}

// ListMyProducts возвращает все товары текущего продавца.
func (h *Handler) ListMyProducts(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	h.writeProducts(w, r, repository.ProductFilter{SellerID: userID})
}

// ListPendingProducts возвращает товары, ожидающие модерации.
func (h *Handler) ListPendingProducts(w http.ResponseWriter, r *http.Request) {
	h.writeProducts(w, r, repository.ProductFilter{OnlyPending: true})
}

// GetProduct возвращает товар по идентификатору.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}

	p, err := h.service.GetProduct(r.Context(), productID)
	if err != nil {
		h.writeError(w, r, "get product", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

// CreateProduct публикует новый товар текущего продавца.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req productRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.CreateProduct(r.Context(), userID, service.ProductInput{
		Title:       req.Title,
		Description: req.Description,
		PricePoints: req.PricePoints,
		Stock:       req.Stock,
	})
	if err != nil {
		h.writeError(w, r, "create product", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(p))
}

type productAction func(h *Handler, r *http.Request, userID, productID string) (*model.Product, error)

func (h *Handler) productAction(op string, action productAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}
		productID, ok := pathID(w, r, "productID")
		if !ok {
			return
		}

		p, err := action(h, r, userID, productID)
		if err != nil {
			h.writeError(w, r, op, err)
			return
		}
		writeJSON(w, http.StatusOK, toProductResponse(p))
	}
}

// ActivateProduct возвращает товар на витрину.
func (h *Handler) ActivateProduct(w http.ResponseWriter, r *http.Request) {
	h.productAction("activate product", func(h *Handler, r *http.Request, userID, productID string) (*model.Product, error) {
		return h.service.ActivateProduct(r.Context(), userID, productID)
	})(w, r)
}

// DeactivateProduct снимает товар с продажи.
func (h *Handler) DeactivateProduct(w http.ResponseWriter, r *http.Request) {
	h.productAction("deactivate product", func(h *Handler, r *http.Request, userID, productID string) (*model.Product, error) {
		return h.service.DeactivateProduct(r.Context(), userID, productID)
	})(w, r)
}

// ApproveProduct одобряет товар администратором.
func (h *Handler) ApproveProduct(w http.ResponseWriter, r *http.Request) {
	h.productAction("approve product", func(h *Handler, r *http.Request, adminID, productID string) (*model.Product, error) {
		return h.service.ApproveProduct(r.Context(), adminID, productID)
	})(w, r)
}
