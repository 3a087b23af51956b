package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"pharmacy/m/domain"
	"pharmacy/m/internal/orders"
)

func (h *Handler) listDrugs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	search := strings.TrimSpace(query.Get("search"))
	if query.Has("search") && search == "" {
		respondError(w, http.StatusBadRequest, "search must not be empty")
		return
	}
	drugs, err := h.svc.Catalog.List(r.Context(), search)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Drugs retrieved successfully",
		"count":   len(drugs),
		"drugs":   drugs,
	})
}

func (h *Handler) getDrug(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	drug, err := h.svc.Catalog.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"message": "Drug retrieved successfully", "drug": drug})
}

// Cart

type addToCartRequest struct {
	DrugID   int64 `json:"drug_id" validate:"required,gte=1"`
	Quantity int64 `json:"quantity" validate:"required,gte=1"`
}

type cartQuantityRequest struct {
	Quantity int64 `json:"quantity" validate:"required,gte=1"`
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Cart.Get(r.Context(), currentUserID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handler) addToCart(w http.ResponseWriter, r *http.Request) {
	var req addToCartRequest
	if err := h.decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	item, err := h.svc.Cart.Add(r.Context(), currentUserID(r), req.DrugID, req.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"message": "Item added to cart successfully", "item": item})
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req cartQuantityRequest
	if err := h.decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.Cart.UpdateQuantity(r.Context(), currentUserID(r), id, req.Quantity); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Cart item updated successfully"})
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.Cart.Remove(r.Context(), currentUserID(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Item removed from cart successfully"})
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Cart.Clear(r.Context(), currentUserID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Cart cleared successfully"})
}

// Orders

type createOrderRequest struct {
	Items           []domain.OrderLine   `json:"items" validate:"required,min=1,dive"`
	DeliveryAddress string               `json:"delivery_address" validate:"required"`
	PaymentMethod   domain.PaymentMethod `json:"payment_method" validate:"required,oneof=cash card"`
}

type checkoutRequest struct {
	DeliveryAddress string               `json:"delivery_address" validate:"required"`
	PaymentMethod   domain.PaymentMethod `json:"payment_method" validate:"required,oneof=cash card"`
}

const idempotencyHeader = "Idempotency-Key"

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := h.decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.Orders.Create(r.Context(), orders.CreateInput{
		UserID:          currentUserID(r),
		Items:           req.Items,
		DeliveryAddress: req.DeliveryAddress,
		PaymentMethod:   req.PaymentMethod,
		IdempotencyKey:  r.Header.Get(idempotencyHeader),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondOrderPlaced(w, res)
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := h.decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.Orders.Checkout(r.Context(), currentUserID(r), req.DeliveryAddress, req.PaymentMethod,
		r.Header.Get(idempotencyHeader))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondOrderPlaced(w, res)
}

// respondOrderPlaced answers 201 for a new order and 200 when an idempotency
// key replayed an earlier one.
func respondOrderPlaced(w http.ResponseWriter, res orders.Result) {
	status, msg := http.StatusCreated, "Order created successfully"
	if res.Replayed {
		status, msg = http.StatusOK, "Order already placed"
	}
	respondJSON(w, status, map[string]interface{}{"message": msg, "order": res.Order})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Orders.ListByUser(r.Context(), currentUserID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Orders retrieved successfully",
		"count":   len(list),
		"orders":  list,
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	order, err := h.svc.Orders.GetForUser(r.Context(), currentUserID(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"message": "Order retrieved successfully", "order": order})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	order, err := h.svc.Orders.Cancel(r.Context(), currentUserID(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"message": "Order cancelled successfully", "order": order})
}

// Prescriptions

func (h *Handler) uploadPrescription(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		h.fail(w, r, fmt.Errorf("%w: expected a multipart form: %v", domain.ErrInvalidFile, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("prescription")
	if errors.Is(err, http.ErrMissingFile) {
		respondError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidFile, err))
		return
	}
	defer file.Close()

	orderID, err := strconv.ParseInt(strings.TrimSpace(r.FormValue("order_id")), 10, 64)
	if err != nil || orderID < 1 {
		respondError(w, http.StatusBadRequest, "Order ID is required")
		return
	}

	p, err := h.svc.Prescriptions.Upload(r.Context(), currentUserID(r), orderID, header.Filename, header.Size, file)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"message": "Prescription uploaded successfully", "prescription": p})
}

func (h *Handler) getPrescription(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.svc.Prescriptions.GetForUser(r.Context(), currentUserID(r), orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"message": "Prescription retrieved successfully", "prescription": p})
}

// decodeValid decodes a JSON body and checks its validate tags.
func (h *Handler) decodeValid(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	if err := decodeJSON(w, r, dest); err != nil {
		return err
	}
	return domain.Validate(dest)
}
