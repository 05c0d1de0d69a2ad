package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"marketplace-inbox/attachment"
	"marketplace-inbox/auth"
	"marketplace-inbox/domain"
	"marketplace-inbox/errors"
	"marketplace-inbox/runtime"
	"marketplace-inbox/services"
)

type handler struct {
	log       *slog.Logger
	deps      Deps
	heartbeat time.Duration
	maxUpload int64
}

type resolveRequest struct {
	TargetUserID string `json:"targetUserId" validate:"required,max=128"`
	PropertyID   string `json:"propertyId" validate:"max=128"`
	Context      string `json:"context" validate:"omitempty,oneof=property community"`
}

type sendRequest struct {
	Body          string   `json:"body"`
	AttachmentIDs []string `json:"attachmentIds" validate:"dive,required"`
	ClientRef     string   `json:"clientRef" validate:"max=128"`
}

func (h *handler) register(engine *gin.Engine) {
	engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if h.deps.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(h.deps.Metrics.Handler()))
	}
	if h.deps.Files != nil {
		engine.GET("/files/*key", h.serveFile)
	}

	api := engine.Group("/api", authenticate(h.deps.Tokens))
	{
		api.POST("/conversations", h.resolveConversation)
		api.GET("/conversations", h.listConversations)
		api.DELETE("/conversations/:id", h.hideConversation)
		api.POST("/conversations/:id/read", h.markRead)
		api.GET("/conversations/:id/messages", h.listMessages)
		api.GET("/conversations/:id/presence", h.presence)
		api.POST("/conversations/:id/messages", h.sendMessage)
		api.POST("/conversations/:id/attachments", h.uploadAttachment)
		api.GET("/attachments/limits", h.attachmentLimits)
		api.GET("/stream/conversations", h.stream(runtime.ChannelConversation))
		api.GET("/stream/list", h.stream(runtime.ChannelList))
		if h.deps.Search != nil {
			api.GET("/search/messages", h.searchMessages)
		}
	}
}

func (h *handler) resolveConversation(c *gin.Context) {
	var body resolveRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", errors.ErrValidation, err))
		return
	}
	if err := auth.ValidateRequest(body); err != nil {
		abortWithError(c, err)
		return
	}

	conversationContext := domain.ConversationContext(body.Context)
	if conversationContext == "" {
		conversationContext = domain.ContextCommunity
		if body.PropertyID != "" {
			conversationContext = domain.ContextProperty
		}
	}

	resolution, err := h.deps.Conversations.Resolve(c.Request.Context(), services.ResolveCommand{
		CurrentUserID: c.GetString(userIDKey),
		TargetUserID:  body.TargetUserID,
		Context:       conversationContext,
		PropertyID:    body.PropertyID,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	status := http.StatusOK
	if !resolution.Existing {
		status = http.StatusCreated
	}
	c.JSON(status, resolution)
}

// listConversations always reads fresh state: no validators, no 304.
func (h *handler) listConversations(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Vary", "Authorization")

	filter, ok := domain.ParseListFilter(c.Query("filter"))
	if !ok {
		abortWithError(c, fmt.Errorf("%w: unknown filter %q", errors.ErrValidation, c.Query("filter")))
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		abortWithError(c, err)
		return
	}

	page, err := h.deps.Inbox.List(c.Request.Context(), c.GetString(userIDKey), services.ListQuery{
		Filter: filter,
		Search: c.Query("q"),
		Cursor: c.Query("cursor"),
		Limit:  limit,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	if page.Conversations == nil {
		page.Conversations = []domain.ConversationSummary{}
	}
	c.JSON(http.StatusOK, page)
}

func (h *handler) hideConversation(c *gin.Context) {
	if err := h.deps.Messages.Hide(c.Request.Context(), c.Param("id"), c.GetString(userIDKey)); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) markRead(c *gin.Context) {
	if err := h.deps.Messages.MarkRead(c.Request.Context(), c.Param("id"), c.GetString(userIDKey)); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) listMessages(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		abortWithError(c, err)
		return
	}
	page, err := h.deps.Messages.Page(c.Request.Context(), c.Param("id"), c.GetString(userIDKey), c.Query("cursor"), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if page.Messages == nil {
		page.Messages = []domain.Message{}
	}
	c.JSON(http.StatusOK, page)
}

func (h *handler) presence(c *gin.Context) {
	other, err := h.deps.Messages.Counterpart(c.Request.Context(), c.Param("id"), c.GetString(userIDKey))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.deps.Notifier.Presence(other))
}

func (h *handler) sendMessage(c *gin.Context) {
	var body sendRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", errors.ErrValidation, err))
		return
	}
	if err := auth.ValidateRequest(body); err != nil {
		abortWithError(c, err)
		return
	}
	message, err := h.deps.Messages.Append(c.Request.Context(), services.AppendCommand{
		ConversationID: c.Param("id"),
		SenderID:       c.GetString(userIDKey),
		Body:           body.Body,
		AttachmentIDs:  body.AttachmentIDs,
		ClientRef:      body.ClientRef,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, message)
}

func (h *handler) uploadAttachment(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWithError(c, fmt.Errorf("%w: request body over %d bytes", errors.ErrTooLarge, h.maxUpload))
			return
		}
		abortWithError(c, fmt.Errorf("%w: multipart field \"file\" is required", errors.ErrValidation))
		return
	}
	file, err := header.Open()
	if err != nil {
		abortWithError(c, fmt.Errorf("%w: opening upload: %v", errors.ErrTransient, err))
		return
	}
	defer file.Close()

	stored, err := h.deps.Attachments.Upload(c.Request.Context(), attachment.Upload{
		UploaderID:     c.GetString(userIDKey),
		ConversationID: c.Param("id"),
		FileName:       header.Filename,
		DeclaredMime:   header.Header.Get("Content-Type"),
		Size:           header.Size,
		Body:           file,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}

func (h *handler) attachmentLimits(c *gin.Context) {
	info, err := h.deps.Attachments.Limits(c.Request.Context(), c.GetString(userIDKey))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(info.Limits.DailyCount))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))
	c.JSON(http.StatusOK, info)
}

func (h *handler) searchMessages(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		abortWithError(c, err)
		return
	}
	hits, err := h.deps.Search.Search(c.Request.Context(), c.GetString(userIDKey), c.Query("q"), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": hits})
}

func (h *handler) serveFile(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	file, err := h.deps.Files.Open(key, c.Query("exp"), c.Query("sig"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", errors.ErrStorage, err))
		return
	}
	c.Header("Cache-Control", "private, max-age=300")
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), file)
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", errors.ErrValidation, name)
	}
	return n, nil
}
