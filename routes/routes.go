package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"evolveme/controllers"
	"evolveme/middlewares"
)

func SetupRouter(chat *controllers.ChatController, metricsHandler http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middlewares.Logger(), middlewares.CORS())

	r.GET("/api/health", controllers.HealthCheck)

	// チャットメッセージ送信
	r.POST("/chat", chat.HandleChat)

	// メッセージのフラグ更新
	r.POST("/chat/update-flag", chat.UpdateMessageFlag)

	// 過去の会話を取得
	r.GET("/chat/conversations", chat.GetConversations)

	if metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}

	return r
}
