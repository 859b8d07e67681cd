package httpapi

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{OK: false, Error: code, Message: msg})
}

// respond answers in the encoding the client used.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if !isProtobuf(r) {
		writeJSON(w, status, v)
		return
	}
	st, err := toStruct(v)
	if err != nil {
		s.logger.Printf("proto response: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeProto(w, status, st)
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	s.respond(w, r, status, errorBody{OK: false, Error: code, Message: msg})
}
