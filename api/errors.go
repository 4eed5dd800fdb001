package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/warp/fleet-ledger/ledger"
)

// =============================================================================
// PROBLEM RESPONSES - RFC 7807
// =============================================================================

const problemContentType = "application/problem+json"

// Problem is an RFC 7807 problem document. Extra carries members specific
// to the problem type (trip_id, outstanding, fields).
type Problem struct {
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Status   int            `json:"status"`
	Detail   string         `json:"detail,omitempty"`
	Instance string         `json:"instance,omitempty"`
	Extra    map[string]any `json:"-"`
}

func (p Problem) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+5)
	for k, v := range p.Extra {
		out[k] = v
	}
	out["type"] = p.Type
	out["title"] = p.Title
	out["status"] = p.Status
	if p.Detail != "" {
		out["detail"] = p.Detail
	}
	if p.Instance != "" {
		out["instance"] = p.Instance
	}
	return json.Marshal(out)
}

// problemFor maps a ledger error onto status, type and title.
//
//	invalid input, invalid amount         400
//	not found                             404
//	duplicate, already reversed, blocked  409
//	reference, unbalanced, over-allocated 422
//	contention, timeout                   503 + Retry-After
func problemFor(err error) Problem {
	p := Problem{Detail: err.Error()}
	switch {
	case errors.Is(err, ledger.ErrContention):
		p.Status, p.Type, p.Title = http.StatusServiceUnavailable, "/problems/contention", "Concurrent update, retry"
	case errors.Is(err, ledger.ErrTimeout):
		p.Status, p.Type, p.Title = http.StatusServiceUnavailable, "/problems/timeout", "Operation timed out, retry"
	case errors.Is(err, ledger.ErrOverAllocation):
		p.Status, p.Type, p.Title = http.StatusUnprocessableEntity, "/problems/over-allocation", "Allocation exceeds outstanding"
		var oa *ledger.OverAllocationError
		if errors.As(err, &oa) {
			p.Extra = map[string]any{"trip_id": oa.TripID, "requested": oa.Requested, "outstanding": oa.Outstanding}
		}
	case errors.Is(err, ledger.ErrUnbalancedBatch):
		p.Status, p.Type, p.Title = http.StatusUnprocessableEntity, "/problems/unbalanced-batch", "Lines do not sum to the payment"
		var ub *ledger.UnbalancedBatchError
		if errors.As(err, &ub) {
			p.Extra = map[string]any{"declared": ub.Declared, "lines": ub.Lines}
		}
	case errors.Is(err, ledger.ErrInvalidReference):
		p.Status, p.Type, p.Title = http.StatusUnprocessableEntity, "/problems/invalid-reference", "Invalid reference"
		var re *ledger.ReferenceError
		if errors.As(err, &re) {
			p.Extra = map[string]any{"kind": re.Kind, "id": re.ID}
		}
	case errors.Is(err, ledger.ErrReferentialBlock):
		p.Status, p.Type, p.Title = http.StatusConflict, "/problems/referential-block", "Record is still referenced"
		var rb *ledger.ReferentialBlockError
		if errors.As(err, &rb) {
			p.Extra = map[string]any{"kind": rb.Kind, "id": rb.ID, "entries": rb.Entries}
		}
	case errors.Is(err, ledger.ErrAlreadyReversed):
		p.Status, p.Type, p.Title = http.StatusConflict, "/problems/already-reversed", "Entry already reversed"
	case errors.Is(err, ledger.ErrDuplicate):
		p.Status, p.Type, p.Title = http.StatusConflict, "/problems/duplicate", "Duplicate record"
	case errors.Is(err, ledger.ErrNotFound):
		p.Status, p.Type, p.Title = http.StatusNotFound, "/problems/not-found", "Not found"
	case errors.Is(err, ledger.ErrInvalidAmount):
		p.Status, p.Type, p.Title = http.StatusBadRequest, "/problems/invalid-amount", "Invalid amount"
	case errors.Is(err, ledger.ErrInvalidInput):
		p.Status, p.Type, p.Title = http.StatusBadRequest, "/problems/invalid-input", "Invalid input"
	default:
		p.Status, p.Type, p.Title = http.StatusInternalServerError, "about:blank", "Internal error"
		p.Detail = ""
	}
	return p
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeProblem(w http.ResponseWriter, r *http.Request, p Problem) {
	p.Instance = r.URL.Path
	if p.Status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	w.Header().Set("Content-Type", problemContentType)
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// writeError maps err and logs server-side failures.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	p := problemFor(err)
	if p.Status >= http.StatusInternalServerError && p.Status != http.StatusServiceUnavailable {
		h.logger.Error("request failed",
			slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	writeProblem(w, r, p)
}

func validationProblem(err error) Problem {
	p := Problem{
		Type:   "/problems/validation",
		Title:  "Request validation failed",
		Status: http.StatusBadRequest,
		Detail: err.Error(),
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		p.Extra = map[string]any{"fields": fields}
	}
	return p
}
