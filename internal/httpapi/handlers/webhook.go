package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chat-relay/internal/common"
	"github.com/suPer8Hu/chat-relay/internal/signature"
)

// maxWebhookBody caps the body read before verification.
const maxWebhookBody = 1 << 20

// Callback acknowledges a webhook call as soon as its events are queued.
// Only authentication failures are reported to the caller.
func (h *Handler) Callback(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	body, err := c.GetRawData()
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "unreadable body")
		return
	}

	sum, err := h.Ingress.Accept(c.Request.Context(), body, c.GetHeader(signature.Header))
	if err != nil {
		if errors.Is(err, signature.ErrMissingSignature) || errors.Is(err, signature.ErrInvalidSignature) {
			slog.Warn("webhook rejected", "remote", c.ClientIP(), "error", err)
			common.Fail(c, http.StatusBadRequest, 10010, "invalid signature")
			return
		}
		slog.Error("webhook accept failed", "error", err)
	}

	common.OK(c, sum)
}
