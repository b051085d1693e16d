package httpserver

import (
	"net/http"

	"github.com/IreinStark/marketgo/internal/geo"
	"github.com/IreinStark/marketgo/internal/relay"
)

// handleGeo always answers 200 with best-effort location data; total lookup
// failure degrades to the "All Locations" sentinel.
func handleGeo(resolver *geo.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, resolver.Resolve(r.Context(), r))
	}
}

// handlePresence lists users the relay currently considers online.
func handlePresence(rl *relay.Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, rl.Presence().Online())
	}
}
