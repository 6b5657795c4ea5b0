package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func JSON(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}

func OK(c *gin.Context, payload any) {
	JSON(c, http.StatusOK, payload)
}

// Accepted acknowledges work that continues after the response.
func Accepted(c *gin.Context, payload any) {
	JSON(c, http.StatusAccepted, payload)
}

// Data wraps a collection in the {"data": [...]} envelope used by list endpoints.
// A nil slice is written as an empty list.
func Data[T any](c *gin.Context, items []T) {
	if items == nil {
		items = []T{}
	}
	JSON(c, http.StatusOK, gin.H{"data": items})
}

func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
