package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"yourturn-backend/clock"
	"yourturn-backend/schedule"
	"yourturn-backend/service"
)

// Services 处理器依赖的业务服务
type Services struct {
	Arbitration *service.ArbitrationService
	Questions   *service.QuestionService
	Voting      *service.VotingService
	Results     *service.ResultsService
	Registry    *schedule.Registry
	Clock       clock.Clock
}

// Options 处理器配置
type Options struct {
	JWTSecret            string
	AdminKey             string
	EligibleVoterClasses []string
	ClaimLimiter         *RateLimiter
}

// Handler 时段、问题与投票的HTTP接口
type Handler struct {
	svc  Services
	opts Options
}

// NewHandler 创建处理器
func NewHandler(svc Services, opts Options) *Handler {
	if svc.Clock == nil {
		svc.Clock = clock.System{}
	}
	return &Handler{svc: svc, opts: opts}
}

// SubmitQuestionInput 提交问题的请求体
type SubmitQuestionInput struct {
	Text    string   `json:"text" binding:"required"`
	Options []string `json:"options" binding:"required"`
}

// VoteInput 投票请求体
type VoteInput struct {
	OptionID uint `json:"option_id" binding:"required"`
}

// RemoveQuestionInput 移除问题请求体
type RemoveQuestionInput struct {
	Moderator string `json:"moderator"`
	Reason    string `json:"reason"`
}

// Register 在api分组下注册路由
func (h *Handler) Register(api *gin.RouterGroup) {
	api.Use(Identity(h.opts.JWTSecret))

	slots := api.Group("/slots")
	{
		slots.GET("/current", h.CurrentSlot)
		slots.GET("/next", h.NextSlot)
		slots.GET("/:key", h.GetSlot)
		slots.POST("/:key/attempts", RequireUser(), h.opts.ClaimLimiter.Middleware(), h.AttemptClaim)
		slots.POST("/:key/question", RequireUser(), h.SubmitQuestion)
	}

	questions := api.Group("/questions")
	{
		questions.GET("/:id", h.GetQuestion)
		questions.POST("/:id/votes", RequireUser(), h.Vote)
	}

	api.GET("/days/:date", h.DayResults)

	admin := api.Group("/admin", AdminOnly(h.opts.AdminKey))
	{
		admin.POST("/slots/:key/close", h.CloseSlot)
		admin.DELETE("/questions/:id", h.RemoveQuestion)
	}
}

// CurrentSlot 返回当前开放的时段，没有时返回下一个时段
func (h *Handler) CurrentSlot(c *gin.Context) {
	now := h.svc.Clock.Now()
	slot, ok := h.svc.Registry.CurrentOpenSlot(now)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"open": false, "next": h.next(now)})
		return
	}

	view, err := h.svc.Results.SlotStatus(c.Request.Context(), slot.Key)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"open":         true,
		"slot":         view,
		"remaining_ms": slot.CloseAt.Sub(now).Milliseconds(),
	})
}

// NextSlot 返回下一个时段的开放时间
func (h *Handler) NextSlot(c *gin.Context) {
	c.JSON(http.StatusOK, h.next(h.svc.Clock.Now()))
}

func (h *Handler) next(now time.Time) gin.H {
	marker, openAt := h.svc.Registry.NextSlot(now)
	return gin.H{
		"slot_key":      schedule.FormatKey(h.svc.Registry.DateOf(openAt), marker),
		"marker":        marker.String(),
		"open_at":       openAt,
		"seconds_until": int64(openAt.Sub(now).Seconds()),
	}
}

// GetSlot 查询时段状态
func (h *Handler) GetSlot(c *gin.Context) {
	view, err := h.svc.Results.SlotStatus(c.Request.Context(), c.Param("key"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, view)
}

// AttemptClaim 抢答
func (h *Handler) AttemptClaim(c *gin.Context) {
	res, err := h.svc.Arbitration.AttemptClaim(c.Request.Context(), c.Param("key"), UserID(c))
	if err != nil {
		var extra gin.H
		if errors.Is(err, service.ErrAlreadyAttempted) && res != nil {
			extra = gin.H{"result": res}
		}
		respondError(c, err, extra)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SubmitQuestion 获胜者提交问题
func (h *Handler) SubmitQuestion(c *gin.Context) {
	var input SubmitQuestionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	q, err := h.svc.Questions.SubmitQuestion(c.Request.Context(), c.Param("key"), UserID(c), input.Text, input.Options)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, q)
}

// GetQuestion 查询问题及实时计票
func (h *Handler) GetQuestion(c *gin.Context) {
	tally, err := h.svc.Results.QuestionWithTally(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, tally)
}

// Vote 投票
func (h *Handler) Vote(c *gin.Context) {
	var input VoteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	policy := service.ClassPolicy{Class: UserClass(c), Allowed: h.opts.EligibleVoterClasses}
	res, err := h.svc.Voting.Vote(c.Request.Context(), c.Param("id"), UserID(c), input.OptionID, policy)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, res)
}

// DayResults 某天全部时段的结果
func (h *Handler) DayResults(c *gin.Context) {
	date := c.Param("date")
	if date == "today" {
		date = h.svc.Registry.DateOf(h.svc.Clock.Now())
	}

	results, err := h.svc.Results.DayResults(c.Request.Context(), date)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "slots": results})
}

// CloseSlot 管理员手动关闭已结束的时段
func (h *Handler) CloseSlot(c *gin.Context) {
	slot, changed, err := h.svc.Arbitration.CloseSlot(c.Request.Context(), c.Param("key"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slot": slot, "changed": changed})
}

// RemoveQuestion 管理员软删除问题
func (h *Handler) RemoveQuestion(c *gin.Context) {
	var input RemoveQuestionInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			badRequest(c, err)
			return
		}
	}
	if input.Moderator == "" {
		input.Moderator = UserID(c)
	}
	if input.Moderator == "" {
		input.Moderator = "admin"
	}

	q, err := h.svc.Questions.RemoveQuestion(c.Request.Context(), c.Param("id"), input.Moderator, input.Reason)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"question_id": q.ID, "deleted_at": q.DeletedAt, "deleted_by": q.DeletedBy})
}
