package panel

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sovrium/sovrium/pkg/schema"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr maps the code of a SovriumError to an HTTP status.
func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusOf(err), schema.Message(err))
}

func statusOf(err error) int {
	switch {
	case schema.IsCode(err, schema.ErrCodeNotFound), schema.IsCode(err, schema.ErrCodeStepNotFound):
		return http.StatusNotFound
	case schema.IsCode(err, schema.ErrCodeValidation):
		return http.StatusBadRequest
	case schema.IsCode(err, schema.ErrCodeConflict), schema.IsCode(err, schema.ErrCodeInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
