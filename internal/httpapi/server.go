package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/BrandonDHaskell/spendperm/server/internal/api"
	"github.com/BrandonDHaskell/spendperm/server/internal/callerauth"
)

type Dependencies struct {
	Logger  *log.Logger
	Addr    string
	Backend *api.Backend
}

type Server struct {
	httpServer *http.Server
	logger     *log.Logger
	mux        *http.ServeMux
	backend    *api.Backend
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:  d.Logger,
		mux:     mux,
		backend: d.Backend,
	}

	for _, o := range api.Ops() {
		mux.HandleFunc(o.Method+" "+o.Path, s.handleOp(o))
	}
	mux.HandleFunc("GET /v1/schema/{name}", s.handleSchema)

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleOp serves one operation. The caller proof, when required, covers
// the raw body exactly as sent, whichever encoding it uses.
func (s *Server) handleOp(o api.Op) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := readBody(r)
		if err != nil {
			if errors.Is(err, errBodyTooLarge) {
				s.respondError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", err.Error())
				return
			}
			s.respondError(w, r, http.StatusBadRequest, "bad_body", "could not read request body")
			return
		}

		body := raw
		switch {
		case r.Method == http.MethodGet:
			body, err = queryJSON(r)
		case isProtobuf(r):
			body, err = protoToJSON(raw)
		}
		if err != nil {
			s.respondError(w, r, http.StatusBadRequest, "bad_body", err.Error())
			return
		}

		ctx := r.Context()
		var caller common.Address
		if o.Caller {
			proof, err := s.backend.Callers.Authenticate(raw, callerauth.Credentials{
				Signature: r.Header.Get(callerauth.Header),
				Nonce:     r.Header.Get(callerauth.NonceHeader),
				Expires:   r.Header.Get(callerauth.ExpiresHeader),
			})
			if err != nil {
				s.fail(w, r, o.Name, err)
				return
			}
			caller = proof.Caller
			ctx = callerauth.WithProof(ctx, proof)
		}

		out, err := o.Handle(ctx, s.backend, caller, body)
		if err != nil {
			s.fail(w, r, o.Name, err)
			return
		}
		s.respond(w, r, http.StatusOK, out)
	}
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	b, err := api.Schema(r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_schema", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	class, known := api.Classify(err)
	if !known {
		s.logger.Printf("%s error: %v", op, err)
		s.respondError(w, r, class.Status, class.Code, "unexpected server error")
		return
	}
	s.respondError(w, r, class.Status, class.Code, err.Error())
}

// queryJSON turns query parameters into a flat JSON object so GET
// operations decode like any other.
func queryJSON(r *http.Request) ([]byte, error) {
	m := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			m[k] = v[0]
		}
	}
	return json.Marshal(m)
}
