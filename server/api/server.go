// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

// Package api serves the management API over HTTP: address inspection,
// message injection, purge and duplicate-cache control. Address names are
// hierarchical, so they travel in the "address" query parameter rather than
// the URL path.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flaremq/flaremq/broker"
)

// Config holds the management API listener configuration.
type Config struct {
	Address         string
	ShutdownTimeout time.Duration
}

// Server is the management API server.
type Server struct {
	config Config
	broker *broker.Broker
	logger *slog.Logger
	server *http.Server
}

// New creates a management API server for the broker.
func New(cfg Config, b *broker.Broker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: cfg,
		broker: b,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /addresses", s.handleListAddresses)
	mux.HandleFunc("GET /address", s.handleAddressInfo)
	mux.HandleFunc("POST /address/send", s.handleSend)
	mux.HandleFunc("POST /address/purge", s.handlePurge)
	mux.HandleFunc("POST /address/dedup/clear", s.handleClearDedup)

	s.server = &http.Server{
		Addr:    cfg.Address,
		Handler: mux,
	}

	return s
}

// Listen serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Listen(ctx context.Context) error {
	s.logger.Info("management_api_starting", slog.String("addr", s.config.Address))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("management_api_shutdown_initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("management_api_shutdown_error", slog.String("error", err.Error()))
			return err
		}

		s.logger.Info("management_api_stopped")
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListAddresses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"addresses": s.broker.ListAddresses(),
	})
}

type addressInfo struct {
	Address          string   `json:"address"`
	RoutingTypes     []string `json:"routing_types"`
	QueueNames       []string `json:"queue_names"`
	RemoteQueueNames []string `json:"remote_queue_names"`
	BindingNames     []string `json:"binding_names"`
	MessageCount     int64    `json:"message_count"`
	RoutedCount      uint64   `json:"routed_message_count"`
	UnroutedCount    uint64   `json:"unrouted_message_count"`
	NumberOfPages    int      `json:"number_of_pages"`
	AddressSize      int64    `json:"address_size"`
	BytesPerPage     int64    `json:"bytes_per_page"`
	DedupCacheSize   int      `json:"duplicate_id_cache_size"`
	Retroactive      bool     `json:"retroactive_resource"`
}

func (s *Server) handleAddressInfo(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		http.Error(w, "missing address parameter", http.StatusBadRequest)
		return
	}

	types, err := s.broker.RoutingTypes(address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	typeNames := make([]string, len(types))
	for i, t := range types {
		typeNames[i] = t.String()
	}

	info := addressInfo{
		Address:      address,
		RoutingTypes: typeNames,
		Retroactive:  s.broker.IsRetroactiveResource(address),
	}
	info.QueueNames, _ = s.broker.QueueNames(address, broker.ScopeLocal)
	info.RemoteQueueNames, _ = s.broker.QueueNames(address, broker.ScopeRemote)
	info.BindingNames, _ = s.broker.BindingNames(address, broker.ScopeAll)
	info.MessageCount, _ = s.broker.MessageCount(address)
	info.RoutedCount, _ = s.broker.RoutedMessageCount(address)
	info.UnroutedCount, _ = s.broker.UnRoutedMessageCount(address)
	info.NumberOfPages, _ = s.broker.NumberOfPages(address)
	info.AddressSize, _ = s.broker.AddressSize(address)
	info.BytesPerPage, _ = s.broker.NumberOfBytesPerPage(address)
	info.DedupCacheSize, _ = s.broker.CurrentDuplicateIDCacheSize(address)

	writeJSON(w, http.StatusOK, info)
}

type sendRequest struct {
	Address string            `json:"address"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
	Durable bool              `json:"durable,omitempty"`
}

type sendResponse struct {
	Outcome  string   `json:"outcome"`
	Bindings []string `json:"bindings,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Address == "" {
		http.Error(w, "missing address", http.StatusBadRequest)
		return
	}

	outcome, err := s.broker.SendMessage(r.Context(), req.Address, req.Headers, req.Body, req.Durable)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sendResponse{
		Outcome:  outcome.Kind.String(),
		Bindings: outcome.Bindings,
	})
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		http.Error(w, "missing address parameter", http.StatusBadRequest)
		return
	}

	removed, err := s.broker.Purge(address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleClearDedup(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		http.Error(w, "missing address parameter", http.StatusBadRequest)
		return
	}

	cleared, err := s.broker.ClearDuplicateIDCache(address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": cleared})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, broker.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, broker.ErrCapacityExceeded):
		// Distinct status so producers can apply backpressure.
		http.Error(w, err.Error(), http.StatusInsufficientStorage)
	default:
		s.logger.Error("management_api_error", slog.String("error", err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
