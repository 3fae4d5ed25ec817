package server

import (
	"encoding/json"
	"net/http"

	ldapauth "github.com/netresearch/ldap-auth-bridge"
)

// accessDenied is the body of every failed authentication. It is written from a
// fixed byte slice so directory and local failures are indistinguishable.
var accessDenied = []byte(`{"error":"access denied"}` + "\n")

// AuthResponse is returned for a successful authentication.
type AuthResponse struct {
	Authenticated bool               `json:"authenticated"`
	Source        string             `json:"source"`
	User          *ldapauth.Identity `json:"user"`
	Profile       *ldapauth.Profile  `json:"profile,omitempty"`
}

// ErrorResponse is returned for malformed and throttled requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

func writeAccessDenied(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write(accessDenied)
}
