package api

import (
	"net/http"

	"github.com/edusql/edusql/internal/permission"
)

func handleListTables(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "CALLER_REQUIRED", err.Error(), false, nil)
		return
	}
	role := permission.ParseRole(identity.Role)
	writeJSON(w, http.StatusOK, map[string]any{
		"caller_id": identity.CallerID,
		"role":      role,
		"wildcard":  permission.Resolve(role).IsWildcard(),
		"tables":    permission.Permitted(role),
	})
}
