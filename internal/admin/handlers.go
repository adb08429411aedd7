package admin

import (
	"errors"
	"net/http"

	"vending-machine/internal/db"
	"vending-machine/internal/service"
	"vending-machine/pkg"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Token string `json:"token"`
}

type ErrorResponse struct {
	Errors string `json:"errors"`
}

type CoinsResponse struct {
	Coins    map[int]int           `json:"coins"`
	Total    int                   `json:"total"`
	Sessions []service.SessionInfo `json:"sessions"`
}

type StateRequest struct {
	Coins map[int]int `json:"coins" binding:"required"`
}

// Handlers serve the operator API next to the coin protocol. StateDB is nil
// when no database is configured.
type Handlers struct {
	AuthService service.AuthService
	Machine     service.MachineService
	StateDB     db.CoinStateDB
	Logger      pkg.Logger
}

func (h *Handlers) PostAuth(c *gin.Context) {
	var req AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Errors: "Invalid request body"})
		return
	}

	token, err := h.AuthService.Authenticate(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Errors: "Invalid credentials"})
			return
		}
		h.Logger.Error("failed to issue token", zap.String("username", req.Username), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Errors: "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, AuthResponse{Token: token})
}

func (h *Handlers) GetCoins(c *gin.Context) {
	c.JSON(http.StatusOK, h.coins())
}

func (h *Handlers) PostReset(c *gin.Context) {
	h.Machine.Reset()
	c.JSON(http.StatusOK, h.coins())
}

func (h *Handlers) PostState(c *gin.Context) {
	var req StateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Errors: "Invalid request body"})
		return
	}
	if err := h.Machine.LoadState(req.Coins); err != nil {
		if errors.Is(err, service.ErrUnsupportedDenomination) || errors.Is(err, service.ErrInvalidQuantity) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Errors: err.Error()})
			return
		}
		h.Logger.Error("failed to load state", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Errors: "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, h.coins())
}

func (h *Handlers) PostSnapshot(c *gin.Context) {
	if h.StateDB == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Errors: "Database not configured"})
		return
	}
	coins := h.Machine.Coins()
	if err := h.StateDB.SaveCoinState(c.Request.Context(), coins); err != nil {
		h.Logger.Error("failed to save coin snapshot", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Errors: "Internal server error"})
		return
	}
	h.Logger.Info("Coin snapshot saved", zap.Int("denominations", len(coins)))
	c.JSON(http.StatusOK, gin.H{"message": "Snapshot saved"})
}

func (h *Handlers) coins() CoinsResponse {
	return CoinsResponse{
		Coins:    h.Machine.Coins(),
		Total:    h.Machine.TotalValue(),
		Sessions: h.Machine.Sessions(),
	}
}
