package apitoken

import (
	"errors"
	"net/http"
	"strconv"

	"studypal-backend/callable"

	"github.com/gin-gonic/gin"
)

// Handler exposes token issuance and the tokened proxy entry point.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the token endpoints behind the auth middleware.
func (h *Handler) RegisterRoutes(authed *gin.RouterGroup) {
	authed.POST("/token", h.issue)
	authed.POST("/proxy/token", h.proxyWithToken)
}

func (h *Handler) issue(c *gin.Context) {
	userID, ok := callable.UserID(c)
	if !ok {
		callable.Abort(c, callable.New(callable.Unauthenticated, "authentication required"))
		return
	}
	token, err := h.svc.Issue(strconv.Itoa(userID))
	if err != nil {
		callable.Abort(c, callable.New(callable.Internal, "failed to generate token"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"token":     token,
		"expiresIn": int(TokenLifetime.Seconds()),
	})
}

type proxyTokenRequest struct {
	Token    string `json:"token"`
	Endpoint string `json:"endpoint"`
	Method   string `json:"method"`
	APIType  string `json:"apiType"`
}

func (h *Handler) proxyWithToken(c *gin.Context) {
	// Accepts both the bare request and the {"data": {...}} envelope.
	var envelope struct {
		proxyTokenRequest
		Data *proxyTokenRequest `json:"data"`
	}
	if err := c.ShouldBindJSON(&envelope); err != nil {
		callable.Abort(c, callable.New(callable.InvalidArgument, "invalid request body"))
		return
	}
	req := envelope.proxyTokenRequest
	if req.Token == "" && envelope.Data != nil {
		req = *envelope.Data
	}
	if req.Token == "" || req.Endpoint == "" || req.Method == "" {
		callable.Abort(c, callable.NewWithDetails(callable.InvalidArgument,
			"token, endpoint and method are required",
			gin.H{"received": gin.H{"token": req.Token != "", "endpoint": req.Endpoint, "method": req.Method}}))
		return
	}
	claims, err := h.svc.Verify(req.Token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			callable.Abort(c, callable.New(callable.PermissionDenied, "token expired"))
			return
		}
		callable.Abort(c, callable.New(callable.PermissionDenied, "invalid token"))
		return
	}
	apiType := req.APIType
	if apiType == "" {
		apiType = "deepseek"
	}
	if !claims.Permissions[apiType] {
		callable.Abort(c, callable.New(callable.PermissionDenied, "token does not allow access to "+apiType))
		return
	}
	// Request is authorized; forwarding happens client-side for now.
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "token accepted for " + apiType,
		"endpoint": req.Endpoint,
		"method":   req.Method,
		"limits":   claims.Limits,
	})
}
