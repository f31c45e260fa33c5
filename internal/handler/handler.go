// internal/handler/handler.go
package handler

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/SyedDaiam9101/ids-service/internal/cache"
	"github.com/SyedDaiam9101/ids-service/internal/inference"
	"github.com/SyedDaiam9101/ids-service/internal/metrics"
	"github.com/SyedDaiam9101/ids-service/internal/middleware"
	"github.com/SyedDaiam9101/ids-service/internal/schema"
)

// PredictResponse is the success body for POST /predict.
type PredictResponse struct {
	Prediction string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
}

// Handler serves the prediction API.
// It uses the InferenceEngine interface for flexibility and testability.
type Handler struct {
	infer  inference.InferenceEngine
	schema *schema.Schema
	cache  *cache.Cache
	ready  atomic.Bool
}

// New creates a new Handler with the given inference engine, schema and
// prediction cache. Schema and cache may be nil; payload validation and
// caching are then skipped.
func New(infer inference.InferenceEngine, sch *schema.Schema, c *cache.Cache) *Handler {
	h := &Handler{
		infer:  infer,
		schema: sch,
		cache:  c,
	}
	h.ready.Store(true)
	return h
}

// SetReady flips the readiness flag. Shutdown marks the handler not ready so
// health probes fail while in-flight requests drain.
func (h *Handler) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Ready reports whether the service should receive new traffic.
func (h *Handler) Ready() bool {
	return h.ready.Load() && h.infer != nil
}

// RegisterRoutes attaches the API routes to the given router.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.POST("/predict", h.Predict)
}

// Health reports 200 when the model is loaded and the service is accepting
// traffic, 503 otherwise.
func (h *Handler) Health(c *gin.Context) {
	if !h.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":       "unavailable",
			"model_loaded": h.infer != nil,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"model_loaded": true,
	})
}

// Predict handles POST /predict. It validates the JSON payload against the
// schema, encodes it into a feature vector, runs inference and returns the
// decoded label with its confidence.
func (h *Handler) Predict(c *gin.Context) {
	// Readiness is not checked here: during shutdown drain the handler keeps
	// answering requests that load balancers already routed.
	if h.infer == nil {
		modelUnavailable(c)
		return
	}

	requestID := middleware.GetRequestID(c)

	if c.ContentType() != "application/json" {
		badRequest(c, "Expected JSON body")
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		badRequest(c, "Invalid JSON body")
		return
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		badRequest(c, "Invalid JSON body")
		return
	}

	obj, ok := payload.(map[string]any)
	if !ok {
		badRequest(c, "Expected JSON object")
		return
	}

	var vector []float32
	if h.schema != nil {
		vector, err = h.schema.Vector(obj)
		if err != nil {
			var verr *schema.ValidationError
			if errors.As(err, &verr) {
				validationError(c, verr)
				return
			}
			// Vector only fails with a ValidationError; anything else is a bug
			logrus.WithFields(logrus.Fields{
				"request_id": requestID,
				"error":      err,
			}).Error("unexpected validation error")
			inferenceError(c)
			return
		}
	}

	// Identical feature vectors always produce identical predictions, so a
	// cached response body can be replayed verbatim.
	var cacheKey string
	if h.cache != nil && len(vector) > 0 {
		cacheKey = cache.Key(vector)
		cached, err := h.cache.GetPrediction(cacheKey)
		switch {
		case err != nil:
			metrics.RecordCacheLookup("error")
		case cached != "":
			metrics.RecordCacheLookup("hit")
			c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(cached))
			return
		default:
			metrics.RecordCacheLookup("miss")
		}
	}

	// Run inference with timing
	inferStart := time.Now()
	result, err := h.infer.Predict(vector)
	inferDuration := time.Since(inferStart)
	metrics.RecordInferenceLatency(inferDuration.Seconds())

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err,
		}).Error("inference failed")
		inferenceError(c)
		return
	}

	label := strconv.FormatInt(result.ClassID, 10)
	if h.schema != nil {
		label = h.schema.DecodeLabel(result.ClassID)
	}

	var confidence float64
	for _, p := range result.Probabilities {
		if float64(p) > confidence {
			confidence = float64(p)
		}
	}
	confidence = math.Round(confidence*10000) / 10000

	metrics.RecordPrediction(label)

	resp := PredictResponse{Prediction: label, Confidence: confidence}

	// Marshal once so the served body and the cached body are the same bytes
	out, err := json.Marshal(resp)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err,
		}).Error("failed to encode prediction response")
		inferenceError(c)
		return
	}

	if cacheKey != "" {
		if err := h.cache.SetPrediction(cacheKey, string(out)); err != nil {
			logrus.WithFields(logrus.Fields{
				"request_id": requestID,
				"error":      err,
			}).Warn("failed to cache prediction")
		}
	}

	logrus.WithFields(logrus.Fields{
		"request_id":   requestID,
		"label":        label,
		"confidence":   confidence,
		"inference_ms": float64(inferDuration.Microseconds()) / 1000.0,
	}).Debug("prediction served")

	c.Data(http.StatusOK, "application/json; charset=utf-8", out)
}
