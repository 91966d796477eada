package main

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"
	"goa.design/goa/v3/middleware"
)

// handleHTTPServer starts the HTTP server on addr. It shuts the server down
// once ctx is canceled.
func handleHTTPServer(ctx context.Context, addr string, mux goahttp.Muxer, wg *sync.WaitGroup, errc chan error, logger *slog.Logger) {
	// Setup goa log adapter.
	adapter := middleware.NewLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))

	// Middlewares mounted here apply to every route.
	var handler http.Handler = mux
	{
		handler = httpmdlwr.Log(adapter)(handler)
		handler = httpmdlwr.RequestID()(handler)
	}

	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: time.Second * 60}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			logger.Info("HTTP server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errc <- err
			}
		}()

		<-ctx.Done()
		logger.Info("shutting down HTTP server", "addr", addr)

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown", "error", err)
		}
	}()
}

// requestID returns the id assigned by the RequestID middleware, if any.
func requestID(ctx context.Context) string {
	id, _ := ctx.Value(middleware.RequestIDKey).(string)
	return id
}

// writeJSON encodes v with the goa response encoder.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := goahttp.ResponseEncoder(r.Context(), w).Encode(v); err != nil {
		slog.Default().Warn("encode response", "error", err, "request_id", requestID(r.Context()))
	}
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes and logs the error together with the request id so
// the two can be correlated.
func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	id := requestID(r.Context())
	if status >= http.StatusInternalServerError {
		slog.Default().Error("request failed", "request_id", id, "status", status, "error", msg)
	}
	writeJSON(w, r, status, errorBody{Error: msg, RequestID: id})
}
