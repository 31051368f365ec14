package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suPer8Hu/chat-relay/internal/auth"
	"github.com/suPer8Hu/chat-relay/internal/common"
)

const (
	adminSubject  = "admin"
	adminTokenTTL = 12 * time.Hour
)

type tokenReq struct {
	Password string `json:"password" binding:"required"`
}

func (h *Handler) IssueToken(c *gin.Context) {
	var req tokenReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if !auth.CheckPassword(h.Cfg.AdminPasswordHash, req.Password) {
		common.Fail(c, http.StatusUnauthorized, 40103, "invalid password")
		return
	}

	token, err := auth.SignJWT(adminSubject, h.Cfg.AdminJWTSecret, adminTokenTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}
	common.OK(c, gin.H{"token": token, "expires_in": int(adminTokenTTL.Seconds())})
}

func (h *Handler) SessionStats(c *gin.Context) {
	st, err := h.Sessions.Stats(c.Request.Context())
	if err != nil {
		slog.Error("session stats failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	data := gin.H{"sessions": st.Sessions, "turns": st.Turns}
	if h.Jobs != nil {
		counts, err := h.Jobs.CountJobsByStatus(c.Request.Context())
		if err != nil {
			slog.Error("job stats failed", "error", err)
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
			return
		}
		data["jobs"] = counts
	}
	common.OK(c, data)
}

func (h *Handler) EvictSession(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "user_id required")
		return
	}

	ok, err := h.Sessions.Evict(c.Request.Context(), userID)
	if err != nil {
		slog.Error("evict session failed", "user_id", userID, "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	if !ok {
		common.Fail(c, http.StatusNotFound, 40401, "session not found")
		return
	}
	slog.Info("session evicted", "user_id", userID)
	common.OK(c, gin.H{"evicted": userID})
}

func (h *Handler) GetJob(c *gin.Context) {
	if h.Jobs == nil {
		common.Fail(c, http.StatusNotFound, 40403, "journal disabled")
		return
	}
	jobID := c.Param("job_id")

	j, err := h.Jobs.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	msgs, err := h.Jobs.ListMessagesByJob(c.Request.Context(), jobID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, gin.H{"job": j, "messages": msgs})
}
