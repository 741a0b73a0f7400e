package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newRouter(l *Limiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/unlock", l.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestLimiterAllowsBurstThenRejects(t *testing.T) {
	l := New(0.001, 2, time.Minute)
	r := newRouter(l)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/unlock", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/unlock", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestLimiterTracksIPsIndependently(t *testing.T) {
	l := New(0.001, 1, time.Minute)
	r := newRouter(l)

	req1 := httptest.NewRequest(http.MethodPost, "/api/unlock", nil)
	req1.RemoteAddr = "10.0.0.1:1"
	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, req1)
	assert.Equal(t, http.StatusOK, w1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/api/unlock", nil)
	req2.RemoteAddr = "10.0.0.2:1"
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code)
}

func TestEvictLockedRemovesStaleEntries(t *testing.T) {
	l := New(1, 1, time.Nanosecond)
	l.allow("10.0.0.1")
	time.Sleep(time.Millisecond)
	l.allow("10.0.0.2")

	l.mu.Lock()
	_, stillPresent := l.limiters["10.0.0.1"]
	l.mu.Unlock()
	assert.False(t, stillPresent)
}
