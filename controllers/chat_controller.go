package controllers

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"evolveme/services"
)

type ChatController struct {
	chat *services.ChatService
}

func NewChatController(chat *services.ChatService) *ChatController {
	return &ChatController{chat: chat}
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (cc *ChatController) HandleChat(c *gin.Context) {
	var request struct {
		Message string `json:"message"`
		Content string `json:"content"`
		UserID  string `json:"user_id" binding:"required"`
	}

	if err := c.ShouldBindJSON(&request); err != nil {
		log.Printf("Error binding JSON: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message and UserID are required"})
		return
	}

	message := request.Message
	if strings.TrimSpace(message) == "" {
		message = request.Content
	}

	reply, err := cc.chat.SendMessage(c.Request.Context(), request.UserID, message)
	if errors.Is(err, services.ErrEmptyMessage) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message and UserID are required"})
		return
	}
	if err != nil {
		log.Printf("Error handling chat for user %s: %v", request.UserID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate reply"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reply":     reply.Content,
		"id":        reply.ID,
		"timestamp": reply.Timestamp.Format(time.RFC3339Nano),
	})
}

func (cc *ChatController) UpdateMessageFlag(c *gin.Context) {
	type RequestBody struct {
		UserID     string `json:"userId" binding:"required"`
		Timestamp  string `json:"timestamp" binding:"required"`
		IsLiked    *bool  `json:"isLiked"`
		IsDisliked *bool  `json:"isDisliked"`
	}

	var requestBody RequestBody
	if err := c.ShouldBindJSON(&requestBody); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	timestamp, err := services.ParseTimestamp(requestBody.Timestamp)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "timestamp must be RFC 3339"})
		return
	}

	err = cc.chat.UpdateMessageFlag(c.Request.Context(), requestBody.UserID, timestamp, requestBody.IsLiked, requestBody.IsDisliked)
	if errors.Is(err, services.ErrTurnNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
		return
	}
	if err != nil {
		log.Printf("Error updating message flag: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update message flag"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Message updated successfully"})
}

func (cc *ChatController) GetConversations(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}

	conversations, err := cc.chat.Conversations(c.Request.Context(), userID)
	if err != nil {
		log.Printf("Error fetching conversations for user %s: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch conversations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}
