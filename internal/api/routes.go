package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all API routes
func SetupRoutes(handler *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	// Health and metrics
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	// One-shot evaluation and signal history
	api.HandleFunc("/stream/signal", handler.EvaluateStreamSignal).Methods("POST")
	api.HandleFunc("/stream/signals", handler.GetStreamSignals).Methods("GET")

	// Subscription management
	api.HandleFunc("/subscriptions", handler.ListSubscriptions).Methods("GET")
	api.HandleFunc("/subscriptions/upsert", handler.UpsertSubscription).Methods("POST")
	api.HandleFunc("/subscriptions/delete", handler.DeleteSubscription).Methods("POST")
	api.HandleFunc("/subscriptions/run-now", handler.RunNow).Methods("POST")

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
