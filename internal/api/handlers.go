// Package api binds the core page-serving operations to HTTP, following
// the reference page-server's route layout and JSON-envelope handler
// style (internal/api/handlers.go in the teacher).
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/neonwal/pageserver/internal/server"
	"github.com/neonwal/pageserver/internal/storage"
	"github.com/neonwal/pageserver/internal/waldecode"
	"github.com/neonwal/pageserver/pkg/pageerr"
	"github.com/neonwal/pageserver/pkg/tag"
	"github.com/neonwal/pageserver/pkg/types"
)

const maxBatchPages = 1000

// RegisterHandlers wires every route onto the default mux, wrapping all
// but the liveness probe in the server's auth middleware.
func RegisterHandlers(ps *server.PageServer) {
	http.HandleFunc("/v1/ping", handlePing())
	http.HandleFunc("/v1/get_page", ps.Auth.Middleware(handleGetPage(ps)))
	http.HandleFunc("/v1/get_pages", ps.Auth.Middleware(handleGetPages(ps)))
	http.HandleFunc("/v1/ingest_wal", ps.Auth.Middleware(handleIngestWAL(ps)))
	http.HandleFunc("/v1/relsize", ps.Auth.Middleware(handleRelSize(ps)))
	http.HandleFunc("/v1/watermarks", ps.Auth.Middleware(handleWatermarks(ps)))
	http.HandleFunc("/v1/metrics", ps.Auth.Middleware(handleMetrics(ps)))
	http.HandleFunc("/v1/bootstrap", ps.Auth.Middleware(handleBootstrap(ps)))
}

func tagFromDTO(d types.TagDTO) tag.Tag {
	return tag.Tag{
		Tablespace: d.Tablespace,
		Database:   d.Database,
		Relation:   d.Relation,
		Fork:       tag.Fork(d.Fork),
		Block:      d.Block,
	}
}

// statusForErr maps a core error to the HTTP status it should surface as,
// per the error taxonomy: eviction is gone-forever, timeout is a
// retryable gateway timeout, and redo failure is a bad-gateway-style
// failure in a downstream dependency (the Applier).
func statusForErr(err error) int {
	switch {
	case errors.Is(err, pageerr.ErrLsnEvicted):
		return http.StatusGone
	case errors.Is(err, pageerr.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, pageerr.ErrRedoFailed), errors.Is(err, pageerr.ErrRedoUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// watermarkWaitContext layers ps.WatermarkWaitTimeout on top of the
// request's own context, if a timeout is configured, bounding how long a
// handler will block in WaitForLSN independent of any client-side
// deadline.
func watermarkWaitContext(ps *server.PageServer, r *http.Request) (context.Context, context.CancelFunc) {
	if ps.WatermarkWaitTimeout <= 0 {
		return r.Context(), func() {}
	}
	return context.WithTimeout(r.Context(), ps.WatermarkWaitTimeout)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func handlePing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, types.PingResponse{Status: "ok", Version: "1.0.0"})
	}
}

func handleGetPage(ps *server.PageServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req types.GetPageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}

		ctx, cancel := watermarkWaitContext(ps, r)
		defer cancel()

		t := tagFromDTO(req.Tag)
		data, err := ps.Reconstruct.GetPageAtLSN(ctx, t, req.LSN)
		if err != nil {
			writeJSON(w, statusForErr(err), types.GetPageResponse{Status: "error", Error: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, types.GetPageResponse{
			Status:   "success",
			PageData: base64.StdEncoding.EncodeToString(data),
		})
	}
}

func handleGetPages(ps *server.PageServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req types.GetPagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}
		if len(req.Pages) == 0 {
			http.Error(w, "no pages requested", http.StatusBadRequest)
			return
		}
		if len(req.Pages) > maxBatchPages {
			http.Error(w, fmt.Sprintf("too many pages requested (max %d)", maxBatchPages), http.StatusBadRequest)
			return
		}

		ctx, cancel := watermarkWaitContext(ps, r)
		defer cancel()

		responses := make([]types.PageResponseItem, len(req.Pages))
		var wg sync.WaitGroup
		var mu sync.Mutex
		successCount := 0

		for i, item := range req.Pages {
			wg.Add(1)
			go func(idx int, it types.PageRequestItem) {
				defer wg.Done()
				t := tagFromDTO(it.Tag)
				data, err := ps.Reconstruct.GetPageAtLSN(ctx, t, it.LSN)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					responses[idx] = types.PageResponseItem{Tag: it.Tag, Status: "error", Error: err.Error()}
					return
				}
				responses[idx] = types.PageResponseItem{
					Tag:      it.Tag,
					Status:   "success",
					PageData: base64.StdEncoding.EncodeToString(data),
				}
				successCount++
			}(i, item)
		}
		wg.Wait()

		status := "success"
		if successCount < len(req.Pages) {
			status = "partial"
		}
		writeJSON(w, http.StatusOK, types.GetPagesResponse{Status: status, Pages: responses})
		log.Printf("batch get_pages: %d requested, %d successful", len(req.Pages), successCount)
	}
}

func handleIngestWAL(ps *server.PageServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req types.IngestWALRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}
		data, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			http.Error(w, "invalid base64 WAL data", http.StatusBadRequest)
			return
		}

		decoder := waldecode.NewStreamDecoder()
		if err := ps.Ingestor.Drain(decoder, data); err != nil {
			log.Printf("ingest_wal: decode error: %v", err)
			writeJSON(w, http.StatusBadRequest, types.IngestWALResponse{Status: "error", Error: err.Error()})
			return
		}

		_, last := ps.Index.Watermarks()
		writeJSON(w, http.StatusOK, types.IngestWALResponse{Status: "success", LastValidLSN: last})
	}
}

func handleRelSize(ps *server.PageServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		q := r.URL.Query()
		rel := tag.RelTag{
			Tablespace: parseUintParam(q.Get("tablespace")),
			Database:   parseUintParam(q.Get("database")),
			Relation:   parseUintParam(q.Get("relation")),
			Fork:       tag.Fork(parseUintParam(q.Get("fork"))),
		}

		exists := ps.Index.RelSizeExists(rel)
		resp := types.RelSizeResponse{Status: "success", Exists: exists}
		if exists {
			resp.Size = ps.Index.RelSizeGet(rel)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleWatermarks(ps *server.PageServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		first, last := ps.Index.Watermarks()
		writeJSON(w, http.StatusOK, types.WatermarksResponse{
			Status:        "success",
			FirstValidLSN: first,
			LastValidLSN:  last,
		})
	}
}

func handleMetrics(ps *server.PageServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		first, last := ps.Index.Watermarks()
		metrics := map[string]interface{}{
			"watermarks": map[string]interface{}{
				"first_valid_lsn": first,
				"last_valid_lsn":  last,
			},
		}

		if hs, ok := ps.Store.(*storage.HybridStore); ok {
			hybridStats := hs.GetStats()
			lfcStats := hs.GetLFC().Stats()
			metrics["tiered_storage"] = map[string]interface{}{
				"tier_1_hits": hybridStats.Tier1Hits,
				"tier_2_lfc": map[string]interface{}{
					"hits":       hybridStats.LFCHits,
					"size_bytes": lfcStats["size_bytes"],
					"max_bytes":  lfcStats["max_size_bytes"],
					"hit_rate":   lfcStats["hit_rate"],
				},
				"tier_3_hits": hybridStats.Tier3Hits,
				"promotions":  hybridStats.Promotions,
			}
			metrics["storage_type"] = "hybrid"
		} else if _, ok := ps.Store.(*storage.S3Store); ok {
			metrics["storage_type"] = "s3"
		} else {
			metrics["storage_type"] = "file"
		}

		writeJSON(w, http.StatusOK, metrics)
	}
}

// handleBootstrap reports the current watermarks rather than re-running
// the snapshot loader: bootstrap happens once, synchronously, at process
// startup (cmd/pageserver/main.go), so by the time the HTTP server is
// listening it has already completed.
func handleBootstrap(ps *server.PageServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		first, last := ps.Index.Watermarks()
		writeJSON(w, http.StatusOK, types.BootstrapResponse{Status: fmt.Sprintf("already bootstrapped (first=%d last=%d)", first, last)})
	}
}

func parseUintParam(s string) uint32 {
	var v uint32
	fmt.Sscanf(s, "%d", &v)
	return v
}
