package audit

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
)

// ResultHandler returns the response status and body instead of writing
// them, so the decorator can record what was returned.
type ResultHandler func(r *http.Request) (int, interface{}, error)

// Change is returned by a ResultHandler that replaced or removed state.
// New is written as the response body; Old is recorded as the entry's old
// values.
type Change struct {
	Old interface{}
	New interface{}
}

// Audited writes the handler's result as JSON and, for 2xx responses to an
// authenticated caller, records the returned value as the entry's new
// values. A Change result also records its Old value. The resource id is
// taken from the {id} route variable or, when absent, from the "id" field
// of the result.
func Audited(recorder *Recorder, resource string, action Action, handler ResultHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, result, err := handler(r)
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}

		var old interface{}
		if change, ok := result.(Change); ok {
			old, result = change.Old, change.New
		}

		body, err := json.Marshal(result)
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(body)

		userID := contextkeys.GetUserID(r.Context())
		if status < 200 || status >= 300 || userID == "" {
			return
		}

		resourceID := mux.Vars(r)["id"]
		if resourceID == "" {
			var ident struct {
				ID string `json:"id"`
			}
			if json.Unmarshal(body, &ident) == nil {
				resourceID = ident.ID
			}
		}

		recorder.Record(r.Context(), Entry{
			UserID:     userID,
			Action:     action,
			Resource:   resource,
			ResourceID: resourceID,
			OldValues:  old,
			NewValues:  json.RawMessage(body),
			Meta:       MetaFromRequest(r),
		})
	}
}
