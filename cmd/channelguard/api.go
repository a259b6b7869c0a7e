// Copyright 2024-2026 Aiku AI

package main

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aiku/channelguard/pkg/mirror"
)

// maxAPIBodySize caps operator API request bodies (1 MB).
const maxAPIBodySize = 1 << 20

type apiServer struct {
	mirror *mirror.Engine
	log    zerolog.Logger
}

func newAPIServer(addr string, mir *mirror.Engine, log zerolog.Logger) *http.Server {
	api := &apiServer{mirror: mir, log: log.With().Str("component", "api").Logger()}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/catchup", api.handleCatchup)
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

type catchupRequest struct {
	ChannelID int64 `json:"channel_id"`
	From      int64 `json:"from"`
	To        int64 `json:"to,omitempty"`
}

// handleCatchup replays historical messages from a source channel through
// the mirror path. POST /api/catchup with {"channel_id", "from", "to"?}.
func (a *apiServer) handleCatchup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxAPIBodySize)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	var req catchupRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.ChannelID == 0 {
		http.Error(w, "channel_id is required", http.StatusBadRequest)
		return
	}

	a.log.Info().
		Str("remote_addr", r.RemoteAddr).
		Int64("channel_id", req.ChannelID).
		Int64("from", req.From).
		Int64("to", req.To).
		Msg("Catchup requested")

	processed, err := a.mirror.Catchup(r.Context(), req.ChannelID, req.From, req.To)
	if err != nil {
		a.log.Err(err).Int64("channel_id", req.ChannelID).Msg("Catchup failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"processed": processed})
}
