// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MnAnX/Infra/internal/control"
	"github.com/MnAnX/Infra/internal/logger"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// StatusFunc fetches the counters of the service listening at uri
type StatusFunc func(uri string) (map[string]int64, error)

// ControlStatus queries a control endpoint for its counters
func ControlStatus(timeout time.Duration) StatusFunc {
	return func(uri string) (map[string]int64, error) {
		client, err := control.NewClient(uri, timeout)
		if err != nil {
			return nil, err
		}
		defer client.Close()
		return client.Status()
	}
}

// APIServer exposes a Directory over HTTP
type APIServer struct {
	directory *Directory
	status    StatusFunc
	logger    zerolog.Logger
	server    *http.Server
}

// NewAPIServer creates the HTTP API. A nil status falls back to querying the
// control endpoint directly.
func NewAPIServer(directory *Directory, status StatusFunc) *APIServer {
	if status == nil {
		status = ControlStatus(3 * time.Second)
	}
	return &APIServer{
		directory: directory,
		status:    status,
		logger:    logger.GetLogger("directory.api"),
	}
}

// Router returns the route table
func (api *APIServer) Router() http.Handler {
	router := mux.NewRouter()
	router.Use(api.loggingMiddleware)

	router.HandleFunc("/services", api.handleList).Methods("GET")
	router.HandleFunc("/services/{name}", api.handleLookup).Methods("GET")
	router.HandleFunc("/services/{name}", api.handleRegister).Methods("PUT")
	router.HandleFunc("/services/{name}", api.handleDeregister).Methods("DELETE")
	router.HandleFunc("/services/{name}/status", api.handleStatus).Methods("GET")
	router.HandleFunc("/health", api.handleHealth).Methods("GET")

	return router
}

// Start serves the API on address until Shutdown
func (api *APIServer) Start(address string) error {
	api.server = &http.Server{
		Addr:         address,
		Handler:      api.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	api.logger.Info().
		Str("address", address).
		Msg("Starting directory API server")

	if err := api.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server
func (api *APIServer) Shutdown(ctx context.Context) error {
	if api.server == nil {
		return nil
	}
	return api.server.Shutdown(ctx)
}

func (api *APIServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		api.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("API request")
	})
}

func (api *APIServer) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (api *APIServer) sendError(w http.ResponseWriter, status int, message string) {
	api.sendJSON(w, status, map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (api *APIServer) handleList(w http.ResponseWriter, r *http.Request) {
	api.sendJSON(w, http.StatusOK, map[string]interface{}{
		"services": api.directory.AllWithURI(),
		"count":    api.directory.Len(),
	})
}

func (api *APIServer) handleLookup(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	entry, ok := api.directory.Entry(name)
	if !ok {
		api.sendError(w, http.StatusNotFound, "Service "+name+" is not registered")
		return
	}
	api.sendJSON(w, http.StatusOK, entry)
}

func (api *APIServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.sendError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	entry, err := api.directory.Register(mux.Vars(r)["name"], req.Host, req.Port)
	if err != nil {
		api.sendError(w, http.StatusBadRequest, "Host and a valid port are required")
		return
	}
	api.sendJSON(w, http.StatusOK, entry)
}

func (api *APIServer) handleDeregister(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !api.directory.Deregister(name) {
		api.sendError(w, http.StatusNotFound, "Service "+name+" is not registered")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	uri, ok := api.directory.Lookup(name)
	if !ok {
		api.sendError(w, http.StatusNotFound, "Service "+name+" is not registered")
		return
	}

	counters, err := api.status(uri)
	if err != nil {
		api.logger.Warn().
			Str("service", name).
			Str("uri", uri).
			Err(err).
			Msg("Status query failed")
		api.sendError(w, http.StatusBadGateway, err.Error())
		return
	}
	api.sendJSON(w, http.StatusOK, map[string]interface{}{
		"service":  name,
		"uri":      uri,
		"counters": counters,
	})
}

func (api *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"services": api.directory.Len(),
	})
}
