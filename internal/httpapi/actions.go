package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/95percent-ai/butt-dial-sub003/internal/outbound"
)

type sendMessageRequest struct {
	To      string `json:"to"`
	Body    string `json:"body"`
	Channel string `json:"channel"`
	Subject string `json:"subject"`
}

func (h Handlers) SendMessage(c *gin.Context) {
	scope, ok := scopeOr401(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	res, err := h.Outbound.SendMessage(c.Request.Context(), scope, outbound.SendMessageInput{
		To:      req.To,
		Body:    req.Body,
		Channel: req.Channel,
		Subject: req.Subject,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"channel":     res.Channel,
		"providerRef": res.ProviderRef,
	})
}

type makeCallRequest struct {
	To string `json:"to"`
}

func (h Handlers) MakeCall(c *gin.Context) {
	scope, ok := scopeOr401(c)
	if !ok {
		return
	}
	var req makeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	res, err := h.Outbound.MakeCall(c.Request.Context(), scope, outbound.MakeCallInput{To: req.To})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "callSid": res.CallSid})
}

type callOnBehalfRequest struct {
	Target         string `json:"target"`
	RequesterPhone string `json:"requesterPhone"`
	RequesterName  string `json:"requesterName"`
}

func (h Handlers) CallOnBehalf(c *gin.Context) {
	scope, ok := scopeOr401(c)
	if !ok {
		return
	}
	var req callOnBehalfRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	res, err := h.Outbound.CallOnBehalf(c.Request.Context(), scope, outbound.CallOnBehalfInput{
		Target:         req.Target,
		RequesterPhone: req.RequesterPhone,
		RequesterName:  req.RequesterName,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "callSid": res.CallSid})
}

type voiceMessageRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

func (h Handlers) SendVoiceMessage(c *gin.Context) {
	scope, ok := scopeOr401(c)
	if !ok {
		return
	}
	var req voiceMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	res, err := h.Outbound.SendVoiceMessage(c.Request.Context(), scope, outbound.VoiceMessageInput{
		To:   req.To,
		Text: req.Text,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "callSid": res.CallSid})
}

type transferCallRequest struct {
	CallSid string `json:"callSid"`
	To      string `json:"to"`
}

func (h Handlers) TransferCall(c *gin.Context) {
	scope, ok := scopeOr401(c)
	if !ok {
		return
	}
	var req transferCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	err := h.Outbound.TransferCall(c.Request.Context(), scope, outbound.TransferCallInput{
		CallSid: req.CallSid,
		To:      req.To,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
