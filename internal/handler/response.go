package handler

import "github.com/gin-gonic/gin"

// SendErrorResponse writes the standard {"error": message} body
func SendErrorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}
