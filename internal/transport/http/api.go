package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"panel-quiz-service/internal/app"
	"panel-quiz-service/internal/domain"
)

// Handler exposes the game operations over REST.
type Handler struct {
	service *app.GameService
}

func NewHandler(service *app.GameService) *Handler {
	return &Handler{service: service}
}

type createGameRequest struct {
	BankID string `json:"bankId"`
}

type submitRequest struct {
	Answer string `json:"answer" binding:"required"`
}

type pauseRequest struct {
	Paused *bool `json:"paused"`
}

type advanceRequest struct {
	FromRound int `json:"fromRound"`
}

// Register mounts the routes on an authenticated group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/games", h.CreateGame)
	rg.GET("/games/:code", h.GetGame)
	rg.POST("/games/:code/join", h.Join)
	rg.POST("/games/:code/start", h.Start)
	rg.POST("/games/:code/advance", h.Advance)
	rg.POST("/games/:code/end", h.ForceEnd)
	rg.GET("/games/:code/leaderboard", h.Leaderboard)
	rg.DELETE("/games/:code/players/:player", h.Kick)
	rg.GET("/games/:code/players/:player/report", h.Report)
	rg.GET("/games/:code/rounds/:round/question", h.Question)
	rg.GET("/games/:code/rounds/:round/status", h.RoundStatus)
	rg.POST("/games/:code/rounds/:round/submissions", h.Submit)
	rg.POST("/games/:code/rounds/:round/close", h.CloseRound)
	rg.POST("/games/:code/rounds/:round/pause", h.Pause)
}

func (h *Handler) CreateGame(c *gin.Context) {
	var req createGameRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body")
			return
		}
	}
	g, err := h.service.CreateGame(c.Request.Context(), identityFrom(c), req.BankID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, g)
}

func (h *Handler) GetGame(c *gin.Context) {
	g, err := h.service.Game(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handler) Join(c *gin.Context) {
	g, err := h.service.Join(c.Request.Context(), c.Param("code"), identityFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handler) Start(c *gin.Context) {
	g, err := h.service.Start(c.Request.Context(), c.Param("code"), identityFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handler) Advance(c *gin.Context) {
	var req advanceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body")
			return
		}
	}
	g, err := h.service.Advance(c.Request.Context(), c.Param("code"), identityFrom(c), req.FromRound)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handler) ForceEnd(c *gin.Context) {
	g, err := h.service.ForceEnd(c.Request.Context(), c.Param("code"), identityFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handler) Leaderboard(c *gin.Context) {
	lb, err := h.service.Leaderboard(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lb)
}

func (h *Handler) Kick(c *gin.Context) {
	g, err := h.service.Kick(c.Request.Context(), c.Param("code"), identityFrom(c), c.Param("player"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// Report is visible to the player it describes and to the game admin.
func (h *Handler) Report(c *gin.Context) {
	ctx := c.Request.Context()
	code, playerID := c.Param("code"), c.Param("player")
	caller := identityFrom(c)
	if caller.ID != playerID {
		g, err := h.service.Game(ctx, code)
		if err != nil {
			writeError(c, err)
			return
		}
		if p, ok := g.Players[caller.ID]; !ok || !p.IsAdmin {
			writeError(c, domain.ErrNotAdmin)
			return
		}
	}
	report, err := h.service.Report(ctx, code, playerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) Question(c *gin.Context) {
	round, ok := roundParam(c)
	if !ok {
		return
	}
	q, err := h.service.Question(c.Request.Context(), c.Param("code"), round)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h *Handler) RoundStatus(c *gin.Context) {
	round, ok := roundParam(c)
	if !ok {
		return
	}
	status, err := h.service.RoundStatus(c.Request.Context(), c.Param("code"), round)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) Submit(c *gin.Context) {
	round, ok := roundParam(c)
	if !ok {
		return
	}
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Answer is required")
		return
	}
	result, err := h.service.SubmitAnswer(c.Request.Context(), c.Param("code"), round, identityFrom(c), req.Answer)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) CloseRound(c *gin.Context) {
	round, ok := roundParam(c)
	if !ok {
		return
	}
	g, err := h.service.CloseRound(c.Request.Context(), c.Param("code"), identityFrom(c), round)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// Pause sets the pause flag, or toggles it when the body omits paused.
func (h *Handler) Pause(c *gin.Context) {
	round, ok := roundParam(c)
	if !ok {
		return
	}
	var req pauseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body")
			return
		}
	}
	var (
		status domain.RoundStatus
		err    error
	)
	if req.Paused == nil {
		status, err = h.service.TogglePause(c.Request.Context(), c.Param("code"), identityFrom(c), round)
	} else {
		status, err = h.service.SetPaused(c.Request.Context(), c.Param("code"), identityFrom(c), round, *req.Paused)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func roundParam(c *gin.Context) (int, bool) {
	round, err := strconv.Atoi(c.Param("round"))
	if err != nil || round < 1 {
		badRequest(c, "Invalid round number")
		return 0, false
	}
	return round, true
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: "BAD_REQUEST"})
}
