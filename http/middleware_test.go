package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/fundgraph/logging"
)

func newRouter(t *testing.T, middlewares ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Zerolog(logging.NewTesting(t), 0))
	r.Use(middlewares...)

	return r
}

func serve(r http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	return rec
}

func TestTimeout(t *testing.T) {
	t.Run("handler finishes in time", func(t *testing.T) {
		r := newRouter(t, Timeout(time.Second, logging.NewTesting(t)))
		r.GET("/fast", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"ok": true})
		})

		rec := serve(r, http.MethodGet, "/fast", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("deadline exceeded", func(t *testing.T) {
		r := newRouter(t, Timeout(10*time.Millisecond, logging.NewTesting(t)))
		r.GET("/slow", func(c *gin.Context) {
			<-c.Request.Context().Done()
		})

		rec := serve(r, http.MethodGet, "/slow", nil)

		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
		assert.Contains(t, rec.Body.String(), "request timeout")
	})

	t.Run("response already written", func(t *testing.T) {
		r := newRouter(t, Timeout(10*time.Millisecond, logging.NewTesting(t)))
		r.GET("/late", func(c *gin.Context) {
			<-c.Request.Context().Done()
			c.JSON(http.StatusOK, gin.H{"ok": true})
		})

		rec := serve(r, http.MethodGet, "/late", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCORS(t *testing.T) {
	for _, tt := range []struct {
		name    string
		allowed string
		origin  string
		want    string
	}{
		{name: "wildcard", allowed: "", origin: "https://app.example", want: "*"},
		{name: "listed", allowed: "https://a.example, https://app.example", origin: "https://app.example", want: "https://app.example"},
		{name: "not listed", allowed: "https://a.example", origin: "https://app.example", want: ""},
	} {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(t, CORS(tt.allowed))
			r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

			rec := serve(r, http.MethodGet, "/health", map[string]string{"Origin": tt.origin})

			assert.Equal(t, tt.want, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestErrInternalServerError(t *testing.T) {
	r := newRouter(t)
	r.GET("/boom", func(c *gin.Context) {
		ErrInternalServerError(c, errors.New("pq: password authentication failed"))
	})

	rec := serve(r, http.MethodGet, "/boom", nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}
