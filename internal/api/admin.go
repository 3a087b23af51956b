package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pharmacy/m/domain"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (h *Handler) adminRoutes(r chi.Router) {
	r.Get("/stats", h.stats)

	r.Route("/drugs", func(r chi.Router) {
		r.Post("/", h.createDrug)
		r.Get("/export", h.exportDrugs)
		r.Post("/import", h.importDrugs)
		r.Put("/{id}", h.updateDrug)
		r.Delete("/{id}", h.deleteDrug)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.adminListOrders)
		r.Get("/export", h.exportOrders)
		r.Get("/{id}", h.adminGetOrder)
		r.Put("/{id}/status", h.updateOrderStatus)
		r.Get("/{id}/prescription", h.adminGetPrescription)
	})

	r.Route("/medical", func(r chi.Router) {
		r.Get("/doctors", h.adminListDoctors)
		r.Post("/doctors", h.createDoctor)
		r.Put("/doctors/{id}", h.updateDoctor)
		r.Delete("/doctors/{id}", h.deleteDoctor)

		r.Get("/reports", h.adminListReports)
		r.Post("/reports", h.adminCreateReport)
		r.Put("/reports/{id}", h.updateReport)
		r.Delete("/reports/{id}", h.deleteReport)

		r.Post("/prescriptions", h.createMedicalPrescription)
	})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Report.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// Drugs

func (h *Handler) createDrug(w http.ResponseWriter, r *http.Request) {
	var in domain.DrugInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	drug, err := h.svc.Catalog.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"message": "Drug created successfully", "drug": drug})
}

func (h *Handler) updateDrug(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var u domain.DrugUpdate
	if err := decodeJSON(w, r, &u); err != nil {
		h.fail(w, r, err)
		return
	}
	drug, err := h.svc.Catalog.Update(r.Context(), id, u)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"message": "Drug updated successfully", "drug": drug})
}

func (h *Handler) deleteDrug(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.Catalog.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Drug deleted successfully"})
}

func (h *Handler) exportDrugs(w http.ResponseWriter, r *http.Request) {
	h.sendWorkbook(w, r, "drugs", h.svc.Report.ExportDrugs)
}

func (h *Handler) exportOrders(w http.ResponseWriter, r *http.Request) {
	h.sendWorkbook(w, r, "orders", h.svc.Report.ExportOrders)
}

// sendWorkbook renders into memory first so a failure can still become a
// JSON error.
func (h *Handler) sendWorkbook(w http.ResponseWriter, r *http.Request, name string, render func(ctx context.Context, w io.Writer) error) {
	var buf bytes.Buffer
	if err := render(r.Context(), &buf); err != nil {
		h.fail(w, r, err)
		return
	}
	filename := fmt.Sprintf("%s-%s.xlsx", name, time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Type", xlsxContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) importDrugs(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		h.fail(w, r, fmt.Errorf("%w: expected a multipart form: %v", domain.ErrInvalidFile, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Excel file is required")
		return
	}
	defer file.Close()

	res, err := h.svc.Report.ImportDrugs(r.Context(), file, header.Size)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"message": "Drug catalog imported", "result": res})
}

// Orders

func (h *Handler) adminListOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Orders.List(r.Context(), r.URL.Query().Get("status"))
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

func (h *Handler) adminGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	order, err := h.svc.Orders.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"message": "Order retrieved successfully", "order": order})
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req statusRequest
	if err := h.decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	order, err := h.svc.Orders.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"message": "Order status updated successfully", "order": order})
}

func (h *Handler) adminGetPrescription(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.svc.Prescriptions.GetByOrder(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"message": "Prescription retrieved successfully", "prescription": p})
}

// Medical

func (h *Handler) adminListDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.svc.Medical.AdminListDoctors(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"doctors": doctors, "count": len(doctors)})
}

func (h *Handler) createDoctor(w http.ResponseWriter, r *http.Request) {
	var in domain.DoctorInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	doctor, err := h.svc.Medical.CreateDoctor(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"message": "Doctor created successfully", "doctor": doctor})
}

func (h *Handler) updateDoctor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var u domain.DoctorUpdate
	if err := decodeJSON(w, r, &u); err != nil {
		h.fail(w, r, err)
		return
	}
	doctor, err := h.svc.Medical.UpdateDoctor(r.Context(), id, u)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"message": "Doctor updated successfully", "doctor": doctor})
}

func (h *Handler) deleteDoctor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.Medical.DeleteDoctor(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Doctor deleted successfully"})
}

func (h *Handler) adminListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.svc.Medical.AdminListReports(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"reports": reports, "count": len(reports)})
}

func (h *Handler) adminCreateReport(w http.ResponseWriter, r *http.Request) {
	var in domain.ReportInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	report, err := h.svc.Medical.CreateReport(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"message": "Medical report created successfully", "report": report})
}

func (h *Handler) updateReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var u domain.ReportUpdate
	if err := decodeJSON(w, r, &u); err != nil {
		h.fail(w, r, err)
		return
	}
	report, err := h.svc.Medical.UpdateReport(r.Context(), id, u)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"message": "Medical report updated successfully", "report": report})
}

func (h *Handler) deleteReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.Medical.DeleteReport(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Medical report deleted successfully"})
}

func (h *Handler) createMedicalPrescription(w http.ResponseWriter, r *http.Request) {
	var in domain.PrescriptionInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.svc.Medical.CreatePrescription(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"message": "Prescription created successfully", "prescription": p})
}
