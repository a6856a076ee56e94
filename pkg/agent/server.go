package agent

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/runningwild/tailspin/pkg/engine"
)

type Server struct {
	engType string
	path    string
}

func NewServer(engType string, path string) *Server {
	return &Server{
		engType: engType,
		path:    path,
	}
}

// VerifyAccess fails fast at startup if the configured target path cannot be
// opened, instead of erroring on the first remote run request.
func (s *Server) VerifyAccess() error {
	if s.path == "" {
		return nil // Path comes from the remote request
	}
	f, err := os.OpenFile(s.path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("cannot open target %s: %w", s.path, err)
	}
	return f.Close()
}

func (s *Server) ListenAndServe(port int) error {
	http.HandleFunc("/run", s.handleRun)
	http.HandleFunc("/health", s.handleHealth)

	addr := fmt.Sprintf(":%d", port)
	fmt.Printf("Tailspin agent listening on %s\n", addr)
	return http.ListenAndServe(addr, nil)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var params engine.Params
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, fmt.Sprintf("Invalid body: %v", err), http.StatusBadRequest)
		return
	}

	// Override path if configured on the agent
	if s.path != "" {
		params.Path = s.path
	}
	if params.EngineType == "" {
		params.EngineType = s.engType
	}

	// A fresh engine per request keeps the handler stateless; engine
	// construction is cheap and any ring setup happens inside Run anyway.
	eng := engine.New(params.EngineType)

	res, err := eng.Run(params)
	if err != nil {
		// 500 tells the controller the failure was at the system level, not a
		// bad measurement.
		http.Error(w, fmt.Sprintf("Engine execution failed: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		fmt.Printf("Failed to encode response: %v\n", err)
	}
}
