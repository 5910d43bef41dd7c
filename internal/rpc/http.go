package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
)

const maxBodyBytes = 64 << 10

// RegisterHTTP mounts POST /rpc for whole frames and /rpc/{method} for bare
// arguments.
func (s *Server) RegisterHTTP(r *mux.Router) {
	r.HandleFunc("/rpc", s.handleFrame).Methods("POST")
	r.HandleFunc("/rpc/{method}", s.handleMethod).Methods("GET", "POST")
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	var f Frame
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&f); err != nil {
		respondJSON(w, http.StatusBadRequest, Errorf(CodeBadRequest, "invalid frame: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, s.Dispatch(r.Context(), f))
}

func (s *Server) handleMethod(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, Errorf(CodeBadRequest, "read body: %v", err))
		return
	}
	var args json.RawMessage
	if len(body) > 0 {
		if !json.Valid(body) {
			respondJSON(w, http.StatusBadRequest, Errorf(CodeBadRequest, "invalid JSON arguments"))
			return
		}
		args = body
	}

	resp := s.Dispatch(r.Context(), Frame{Method: mux.Vars(r)["method"], Args: args})
	if resp.Error != nil {
		respondJSON(w, httpStatus(resp.Error.Code), resp.Error)
		return
	}
	respondJSON(w, http.StatusOK, resp.Result)
}

func httpStatus(code int) int {
	if code >= 400 && code <= 599 {
		return code
	}
	return http.StatusInternalServerError
}

// BasicAuth protects next with a single user whose password matches the
// bcrypt hash. An empty hash disables the check.
func BasicAuth(user, hash string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if hash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
				bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="boardd"`)
				respondJSON(w, http.StatusUnauthorized, Errorf(http.StatusUnauthorized, "unauthenticated"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// respondJSON sends a JSON response with appropriate headers.
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
