package handlers

import (
	"encoding/json"
	"net"
	"net/http"
)

// HandlePeers lists neighbors on GET and dials {"address": "host:port"}
// on POST.
func HandlePeers(w http.ResponseWriter, r *http.Request, n Node) {
	switch r.Method {
	case http.MethodGet:
		peers, err := n.Peers(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, peers)
	case http.MethodPost:
		var req struct {
			Address string `json:"address"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		if _, _, err := net.SplitHostPort(req.Address); err != nil {
			http.Error(w, "Invalid peer address", http.StatusBadRequest)
			return
		}
		if err := n.Connect(r.Context(), req.Address); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "dialing", "address": req.Address})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
