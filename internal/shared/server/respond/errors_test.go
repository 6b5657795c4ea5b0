package respond

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestErrorEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("requestId", "req-1")
		c.Next()
	})
	r.GET("/x", func(c *gin.Context) {
		Error(c, http.StatusForbidden, "quota_exhausted", "upload quota exhausted", nil)
	})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/x", nil))

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "quota_exhausted" || body.Error.RequestID != "req-1" {
		t.Fatalf("unexpected body %+v", body.Error)
	}
}

func TestDataEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		var none []string
		Data(c, none)
	})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/x", nil))

	if resp.Body.String() != `{"data":[]}` {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}
