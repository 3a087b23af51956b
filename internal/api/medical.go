package api

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"pharmacy/m/domain"
	"pharmacy/m/internal/medical"
)

func (h *Handler) medicalRoutes(r chi.Router) {
	r.Get("/doctors", h.listDoctors)
	r.Get("/doctors/{id}", h.getDoctor)

	r.Get("/reports", h.listReports)
	r.Post("/reports", h.createOwnReport)
	r.Post("/reports/{id}/attachments", h.addReportAttachments)

	r.Get("/prescriptions", h.listMedicalPrescriptions)
	r.Get("/prescriptions/{id}", h.getMedicalPrescription)

	r.Get("/appointments", h.listAppointments)
	r.Post("/appointments", h.bookAppointment)
	r.Post("/appointments/{id}/cancel", h.cancelAppointment)

	r.Get("/summary", h.getSummary)
	r.Put("/summary", h.updateSummary)

	r.Get("/allergies", h.listAllergies)
	r.Post("/allergies", h.addAllergy)

	r.Get("/conditions", h.listConditions)
	r.Post("/conditions", h.addCondition)

	r.Get("/vitals", h.listVitals)
	r.Post("/vitals", h.recordVital)
}

func page(r *http.Request) (medical.Page, error) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		return medical.Page{}, err
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		return medical.Page{}, err
	}
	return medical.Page{Limit: limit, Offset: offset}, nil
}

// queryTime accepts RFC 3339 timestamps or plain dates, read as UTC midnight.
func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s must be a date (YYYY-MM-DD) or RFC 3339 timestamp", domain.ErrValidation, name)
}

func (h *Handler) listDoctors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	doctors, err := h.svc.Medical.ListDoctors(r.Context(), q.Get("specialization"), q.Get("available") == "true")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"doctors": doctors, "count": len(doctors)})
}

func (h *Handler) getDoctor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	doctor, err := h.svc.Medical.GetDoctor(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"doctor": doctor})
}

func (h *Handler) listReports(w http.ResponseWriter, r *http.Request) {
	p, err := page(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	reports, err := h.svc.Medical.ListReports(r.Context(), currentUserID(r), medical.ReportFilter{
		Type:   q.Get("type"),
		Status: q.Get("status"),
		Page:   p,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"reports": reports, "count": len(reports)})
}

func (h *Handler) createOwnReport(w http.ResponseWriter, r *http.Request) {
	var in domain.ReportInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.UserID = currentUserID(r)
	report, err := h.svc.Medical.CreateReport(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"message": "Medical report created successfully", "report": report})
}

func (h *Handler) addReportAttachments(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, int64(medical.MaxAttachments)*h.opts.MaxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		h.fail(w, r, fmt.Errorf("%w: expected a multipart form: %v", domain.ErrInvalidFile, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["attachments"]
	files := make([]medical.File, 0, len(headers))
	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			h.fail(w, r, fmt.Errorf("open attachment: %w", err))
			return
		}
		opened = append(opened, f)
		files = append(files, medical.File{Name: fh.Filename, Size: fh.Size, Reader: f})
	}

	report, err := h.svc.Medical.AddReportAttachments(r.Context(), currentUserID(r), id, files)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"message": "Attachments uploaded successfully", "report": report})
}

func (h *Handler) listMedicalPrescriptions(w http.ResponseWriter, r *http.Request) {
	p, err := page(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.svc.Medical.ListPrescriptions(r.Context(), currentUserID(r), r.URL.Query().Get("status"), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"prescriptions": list, "count": len(list)})
}

func (h *Handler) getMedicalPrescription(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.svc.Medical.GetPrescription(r.Context(), currentUserID(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"prescription": p})
}

func (h *Handler) listAppointments(w http.ResponseWriter, r *http.Request) {
	p, err := page(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	from, err := queryTime(r, "start_date")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	to, err := queryTime(r, "end_date")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.svc.Medical.ListAppointments(r.Context(), currentUserID(r), medical.AppointmentFilter{
		Status: r.URL.Query().Get("status"),
		From:   from,
		To:     to,
		Page:   p,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"appointments": list, "count": len(list)})
}

func (h *Handler) bookAppointment(w http.ResponseWriter, r *http.Request) {
	var in domain.AppointmentInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	appt, err := h.svc.Medical.BookAppointment(r.Context(), currentUserID(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"message": "Appointment booked successfully", "appointment": appt})
}

func (h *Handler) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	appt, err := h.svc.Medical.CancelAppointment(r.Context(), currentUserID(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"message": "Appointment cancelled successfully", "appointment": appt})
}

func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Medical.GetSummary(r.Context(), currentUserID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"summary": summary})
}

func (h *Handler) updateSummary(w http.ResponseWriter, r *http.Request) {
	var u domain.SummaryUpdate
	if err := decodeJSON(w, r, &u); err != nil {
		h.fail(w, r, err)
		return
	}
	summary, err := h.svc.Medical.UpdateSummary(r.Context(), currentUserID(r), u)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"message": "Medical summary updated successfully", "summary": summary})
}

func (h *Handler) listAllergies(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Medical.ListAllergies(r.Context(), currentUserID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"allergies": list, "count": len(list)})
}

func (h *Handler) addAllergy(w http.ResponseWriter, r *http.Request) {
	var in domain.AllergyInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	a, err := h.svc.Medical.AddAllergy(r.Context(), currentUserID(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"message": "Allergy added successfully", "allergy": a})
}

func (h *Handler) listConditions(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Medical.ListConditions(r.Context(), currentUserID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"conditions": list, "count": len(list)})
}

func (h *Handler) addCondition(w http.ResponseWriter, r *http.Request) {
	var in domain.ConditionInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.svc.Medical.AddCondition(r.Context(), currentUserID(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"message": "Condition added successfully", "condition": c})
}

func (h *Handler) listVitals(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Medical.ListVitals(r.Context(), currentUserID(r), r.URL.Query().Get("type"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"vitals": list, "count": len(list)})
}

func (h *Handler) recordVital(w http.ResponseWriter, r *http.Request) {
	var in domain.VitalInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.svc.Medical.RecordVital(r.Context(), currentUserID(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"message": "Vital sign recorded successfully", "vital": v})
}
