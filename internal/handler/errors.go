// internal/handler/errors.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SyedDaiam9101/ids-service/internal/schema"
)

// badRequest writes a 400 with a fixed error message
func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// validationError maps a schema validation failure to its 400 body: missing
// features list the field names, type problems carry a per-field description
func validationError(c *gin.Context, verr *schema.ValidationError) {
	if len(verr.Missing) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":          "Missing required fields",
			"missing_fields": verr.Missing,
		})
		return
	}

	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Wrong types for fields",
		"details": verr.Fields,
	})
}

// modelUnavailable writes the 503 returned whenever the inference engine is
// not loaded
func modelUnavailable(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Model not loaded"})
}

// inferenceError writes the generic 500. The underlying engine error is
// logged with the request ID by the caller, never echoed to the client.
func inferenceError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error during prediction"})
}
