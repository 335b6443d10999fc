package routes

import (
	"strconv"

	"github.com/wabridge/pkg/constant"
	"github.com/wabridge/pkg/domains/whatsapp"
	"github.com/wabridge/pkg/dtos"
	"github.com/wabridge/pkg/middleware"
	"github.com/gin-gonic/gin"
)

func WhatsAppRoutes(r *gin.RouterGroup, s whatsapp.Service) {
	// Every messaging endpoint sits behind JWT auth
	authGroup := r.Group("", middleware.CheckAuth())
	{
		authGroup.POST("/connect", connect(s))
		authGroup.POST("/disconnect", disconnect(s))
		authGroup.GET("/qr-code", getQRCode(s))
		authGroup.GET("/status", getStatus(s))
		authGroup.POST("/send-message", sendMessage(s))
		authGroup.GET("/messages", getMessages(s))
		authGroup.POST("/groups", createGroup(s))
		authGroup.POST("/groups/members", addGroupMember(s))
		authGroup.DELETE("/groups/:jid", deleteGroup(s))
	}
}

func connect(s whatsapp.Service) func(c *gin.Context) {
	return func(c *gin.Context) {
		if err := s.Connect(c); err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}

		c.JSON(200, gin.H{
			"message": constant.WHATSAPP_CONNECTED,
		})
	}
}

func disconnect(s whatsapp.Service) func(c *gin.Context) {
	return func(c *gin.Context) {
		if err := s.Disconnect(c); err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}

		c.JSON(200, gin.H{
			"message": constant.WHATSAPP_DISCONNECTED,
		})
	}
}

func getQRCode(s whatsapp.Service) func(c *gin.Context) {
	return func(c *gin.Context) {
		qr, err := s.GetQRCode(c)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}

		c.JSON(200, gin.H{
			"message": constant.QR_CODE_GENERATED,
			"data":    qr,
		})
	}
}

func getStatus(s whatsapp.Service) func(c *gin.Context) {
	return func(c *gin.Context) {
		status, err := s.GetStatus(c)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}

		c.JSON(200, gin.H{
			"message": constant.STATUS_RETRIEVED,
			"data":    status,
		})
	}
}

func sendMessage(s whatsapp.Service) func(c *gin.Context) {
	return func(c *gin.Context) {
		var req dtos.SendMessageDTO
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": constant.INVALID_REQUEST})
			return
		}

		response, err := s.SendMessage(c, req)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}

		c.JSON(202, gin.H{
			"message": constant.MESSAGE_QUEUED,
			"data":    response,
		})
	}
}

func getMessages(s whatsapp.Service) func(c *gin.Context) {
	return func(c *gin.Context) {
		page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
		if err != nil {
			c.JSON(400, gin.H{"error": constant.INVALID_PAGE_NUMBER})
			return
		}

		messages, totalPages, err := s.GetMessages(c, c.Query("chat_jid"), page)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}

		c.JSON(200, gin.H{
			"data":        messages,
			"total_pages": totalPages,
		})
	}
}

func createGroup(s whatsapp.Service) func(c *gin.Context) {
	return func(c *gin.Context) {
		var req dtos.CreateGroupDTO
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": constant.INVALID_REQUEST})
			return
		}

		response, err := s.CreateGroup(c, req)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}

		c.JSON(202, gin.H{
			"message": constant.GROUP_QUEUED,
			"data":    response,
		})
	}
}

func addGroupMember(s whatsapp.Service) func(c *gin.Context) {
	return func(c *gin.Context) {
		var req dtos.AddMemberDTO
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": constant.INVALID_REQUEST})
			return
		}

		if err := s.AddGroupMember(c, req); err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}

		c.JSON(202, gin.H{
			"message": constant.MEMBER_QUEUED,
		})
	}
}

func deleteGroup(s whatsapp.Service) func(c *gin.Context) {
	return func(c *gin.Context) {
		if err := s.DeleteGroup(c, c.Param("jid")); err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}

		c.JSON(202, gin.H{
			"message": constant.DELETED,
		})
	}
}
