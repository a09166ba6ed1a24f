// Package response renders the JSON envelope every handler answers with.
// Clients switch on the success flag before touching data, so error bodies
// carry a message string and nothing else.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Envelope is the wire shape of every API answer.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, Envelope{Error: msg})
}

// OK answers 200 with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Envelope{Success: true, Data: data})
}

// Created answers 201 with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Envelope{Success: true, Data: data})
}

// NoContent answers 204 with an empty body.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest answers 400.
func BadRequest(c *gin.Context, msg string) {
	fail(c, http.StatusBadRequest, msg)
}

// Unauthorized answers 401.
func Unauthorized(c *gin.Context, msg string) {
	fail(c, http.StatusUnauthorized, msg)
}

// Forbidden answers 403.
func Forbidden(c *gin.Context, msg string) {
	fail(c, http.StatusForbidden, msg)
}

// NotFound answers 404.
func NotFound(c *gin.Context, msg string) {
	fail(c, http.StatusNotFound, msg)
}

// Conflict answers 409.
func Conflict(c *gin.Context, msg string) {
	fail(c, http.StatusConflict, msg)
}

// ServiceUnavailable answers 503.
func ServiceUnavailable(c *gin.Context, msg string) {
	fail(c, http.StatusServiceUnavailable, msg)
}

// Internal answers 500.
func Internal(c *gin.Context, msg string) {
	fail(c, http.StatusInternalServerError, msg)
}
