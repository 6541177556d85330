package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/itskum47/mdmflow/internal/allocator"
	"github.com/itskum47/mdmflow/internal/requestfsm"
	"github.com/itskum47/mdmflow/internal/rowstore"
)

// API serves spec.md §6's two public endpoints: POST /request and
// POST /update_workload. Grounded on API's handler-method-per-route
// shape in api.go, generalized from FluxForge's agent/job/state surface
// to mdmflow's request-submission surface.
type API struct {
	store      rowstore.Store
	fsm        *requestfsm.FSM
	reqnum     *allocator.RequestNumberCounter
	workload   *allocator.WorkloadCounter
	idempotency *IdempotencyStore
}

func New(store rowstore.Store, fsm *requestfsm.FSM, reqnum *allocator.RequestNumberCounter, workload *allocator.WorkloadCounter, idempotency *IdempotencyStore) *API {
	return &API{
		store:       store,
		fsm:         fsm,
		reqnum:      reqnum,
		workload:    workload,
		idempotency: idempotency,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("api: failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiResponse{Status: "error", Message: message, Code: code})
}

// HandleSubmitRequest implements POST /request.
func (a *API) HandleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	var body submitRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}

	if body.RequestType == "" || body.EmailAddress == "" || body.CompanyCode == "" || body.CompanyName == "" {
		writeError(w, http.StatusBadRequest, "missing_required_field",
			"requestType, emailAddress, companyCode, and companyName are required")
		return
	}

	table, abbreviation := tableForRequestType(body.RequestType)
	if table == "" {
		writeError(w, http.StatusBadRequest, "unknown_request_type", "could not resolve a table for requestType")
		return
	}

	ctx := r.Context()

	// Pre-allocate the RequestNumber so the response can report it
	// without racing the scheduler/FSM for the freshly written row;
	// handleOnSubmit skips generation when RequestNumber is already set.
	requestNumber, err := a.reqnum.Next(ctx, abbreviation, body.CompanyName)
	if err != nil {
		log.Warn().Err(err).Msg("api: request number allocation failed")
		writeError(w, http.StatusInternalServerError, "request_number_failed", "could not allocate a request number")
		return
	}

	req := &rowstore.Request{
		RequestNumber:  requestNumber,
		RequestType:    body.RequestType,
		Department:     body.Department,
		BusinessUnit:   body.CompanyName,
		RequesterEmail: body.EmailAddress,
		Timestamp:      time.Now(),
		TotalTask:      body.TotalTask,
		Extra: map[string]string{
			"company_code":           body.CompanyCode,
			"document_number":        body.DocumentNumber,
			"attachment_url_request": body.AttachmentURL,
		},
	}
	applyPreApprovals(req, body)

	rowID, err := a.store.UpsertRow(ctx, table, "request_number", req.ToRecord(), true)
	if err != nil {
		log.Warn().Err(err).Msg("api: seeding request row failed")
		writeError(w, http.StatusInternalServerError, "seed_failed", "could not write the request row")
		return
	}

	if err := a.fsm.HandleOnSubmit(ctx, table, abbreviation, rowID); err != nil {
		log.Warn().Err(err).Str("request_number", requestNumber).Msg("api: handleOnSubmit failed")
		writeError(w, http.StatusInternalServerError, "submit_failed", "could not process the submission")
		return
	}

	saved, found, err := a.readByRequestNumber(ctx, table, requestNumber)
	if err != nil || !found {
		log.Warn().Err(err).Str("request_number", requestNumber).Msg("api: could not read back submitted row")
		writeError(w, http.StatusInternalServerError, "readback_failed", "submission processed but could not be read back")
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Status: "success",
		Data: &submitRequestData{
			Message:       "request submitted",
			RequestNumber: saved.RequestNumber,
			AttachmentURL: saved.AttachmentRef,
			Timestamp:     saved.Timestamp.Format(time.RFC3339),
		},
	})
}

// applyPreApprovals seeds already-resolved approval levels for a
// pre-approved cross-chained request (spec.md §6's isRequester/
// isApprover[II|III] booleans). A level only short-circuits in
// approvalsync.Evaluate when both its Status and Name are non-empty, so
// a boolean with no accompanying name is recorded but left un-resolved.
func applyPreApprovals(req *rowstore.Request, body submitRequestBody) {
	if body.IsRequester {
		req.SetLevel(rowstore.ApprovalLevel{Level: 0, Status: string(rowstore.RequesterCompleted), Name: body.RequesterName, Timestamp: time.Now()})
	}
	if body.IsApprover {
		req.SetLevel(rowstore.ApprovalLevel{Level: 1, Status: string(rowstore.ApprovalApproved), Name: body.ApproverName, Timestamp: time.Now()})
	}
	if body.IsApproverII {
		req.SetLevel(rowstore.ApprovalLevel{Level: 2, Status: string(rowstore.ApprovalApproved), Name: body.ApproverIIName, Timestamp: time.Now()})
	}
	if body.IsApproverIII {
		req.SetLevel(rowstore.ApprovalLevel{Level: 3, Status: string(rowstore.ApprovalApproved), Name: body.ApproverIIIName, Timestamp: time.Now()})
	}
}

func (a *API) readByRequestNumber(ctx context.Context, table, requestNumber string) (*rowstore.Request, bool, error) {
	cols, err := a.store.ReadHeaders(ctx, table)
	if err != nil {
		return nil, false, err
	}
	rec, found, err := a.store.ReadRow(ctx, table, requestNumber)
	if err != nil || !found {
		return nil, found, err
	}
	return rowstore.RequestFromRecord(rec, cols), true, nil
}

// HandleUpdateWorkload implements POST /update_workload. The spec allows
// either a bare {mdmName,seconds} body or one carrying an explicit
// {action:"update_workload"} discriminator; both are accepted here.
func (a *API) HandleUpdateWorkload(w http.ResponseWriter, r *http.Request) {
	var body updateWorkloadBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, updateWorkloadResponse{Status: "error", Message: "malformed JSON body"})
		return
	}
	if body.Action != "" && body.Action != "update_workload" {
		writeJSON(w, http.StatusBadRequest, updateWorkloadResponse{Status: "error", Message: "unrecognized action"})
		return
	}
	if body.MDMName == "" {
		writeJSON(w, http.StatusBadRequest, updateWorkloadResponse{Status: "error", Message: "mdmName is required"})
		return
	}

	total, err := a.workload.Add(r.Context(), body.MDMName, body.Seconds)
	if err != nil {
		log.Warn().Err(err).Str("mdm_name", body.MDMName).Msg("api: workload update failed")
		writeJSON(w, http.StatusInternalServerError, updateWorkloadResponse{Status: "error", Message: "could not update workload"})
		return
	}

	writeJSON(w, http.StatusOK, updateWorkloadResponse{Status: "success", Total: total})
}
