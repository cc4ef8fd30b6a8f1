package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func ErrNotFound(c *gin.Context, err error) {
	Err(c, http.StatusNotFound, err)
}

func ErrBadRequest(c *gin.Context, err error) {
	Err(c, http.StatusBadRequest, err)
}

func ErrServiceUnavailable(c *gin.Context, err error) {
	Err(c, http.StatusServiceUnavailable, err)
}

func ErrGatewayTimeout(c *gin.Context, err error) {
	Err(c, http.StatusGatewayTimeout, err)
}

// ErrInternalServerError hides err from the client and attaches it to the
// gin context for request logging.
func ErrInternalServerError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// Err aborts the request with a JSON error body.
func Err(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}
