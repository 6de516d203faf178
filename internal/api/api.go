package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"pricewatch/internal/service"
	"pricewatch/internal/storage"
)

// Submitter accepts subscription requests without blocking on their outcome.
type Submitter interface {
	Submit(req service.SubscriptionRequest) (service.Ack, error)
}

// NewRouter exposes read access to products and the create-subscription entry point.
func NewRouter(prices storage.PriceStore, submitter Submitter, logger zerolog.Logger) http.Handler {
	ctrl := &controller{
		prices:    prices,
		submitter: submitter,
		log:       logger.With().Str("component", "api").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(ctrl.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/products/{product_id}", func(r chi.Router) {
		r.Get("/", ctrl.getProduct)
		r.Get("/history", ctrl.getHistory)
	})
	r.Post("/subscriptions", ctrl.subscribe)

	return r
}

// Serve runs srv until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	}
}

type controller struct {
	prices    storage.PriceStore
	submitter Submitter
	log       zerolog.Logger
}

type productResponse struct {
	ProductID    int64     `json:"product_id"`
	CurrentPrice string    `json:"current_price"`
	HighestPrice string    `json:"highest_price"`
	LowestPrice  string    `json:"lowest_price"`
	LastUpdated  time.Time `json:"last_updated"`
}

type historyEntry struct {
	Price      string    `json:"price"`
	RecordedAt time.Time `json:"recorded_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (ctrl *controller) getProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := ctrl.productID(w, r)
	if !ok {
		return
	}

	product, err := ctrl.prices.GetProduct(r.Context(), productID)
	if errors.Is(err, storage.ErrProductNotFound) {
		ctrl.reject(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		ctrl.fail(w, r, err)
		return
	}

	ctrl.resolve(w, http.StatusOK, productResponse{
		ProductID:    product.ProductID,
		CurrentPrice: product.CurrentPrice.String(),
		HighestPrice: product.HighestPrice.String(),
		LowestPrice:  product.LowestPrice.String(),
		LastUpdated:  product.LastUpdated,
	})
}

func (ctrl *controller) getHistory(w http.ResponseWriter, r *http.Request) {
	productID, ok := ctrl.productID(w, r)
	if !ok {
		return
	}

	history, err := ctrl.prices.ListHistory(r.Context(), productID)
	if err != nil {
		ctrl.fail(w, r, err)
		return
	}

	entries := make([]historyEntry, 0, len(history))
	for _, obs := range history {
		entries = append(entries, historyEntry{Price: obs.Price.String(), RecordedAt: obs.RecordedAt})
	}
	ctrl.resolve(w, http.StatusOK, entries)
}

func (ctrl *controller) subscribe(w http.ResponseWriter, r *http.Request) {
	var req service.SubscriptionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}

	ack, err := ctrl.submitter.Submit(req)
	if errors.Is(err, service.ErrInvalidRequest) {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		ctrl.fail(w, r, err)
		return
	}
	ctrl.resolve(w, http.StatusAccepted, ack)
}

func (ctrl *controller) productID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || id <= 0 {
		ctrl.reject(w, http.StatusBadRequest, errors.New("product_id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (ctrl *controller) reject(w http.ResponseWriter, status int, err error) {
	ctrl.resolve(w, status, errorResponse{Error: err.Error()})
}

func (ctrl *controller) fail(w http.ResponseWriter, r *http.Request, err error) {
	ctrl.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	ctrl.resolve(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func (ctrl *controller) resolve(w http.ResponseWriter, status int, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func (ctrl *controller) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		ctrl.log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
