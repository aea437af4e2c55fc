package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"yourturn-backend/service"
)

// errorResponse 业务错误到HTTP状态码与提示的映射
type errorResponse struct {
	status  int
	code    string
	message string
}

var errorTable = []struct {
	err  error
	resp errorResponse
}{
	{service.ErrSlotNotOpen, errorResponse{http.StatusConflict, "slot_not_open", "This slot is not open right now"}},
	{service.ErrSlotActive, errorResponse{http.StatusConflict, "slot_active", "This slot is still open"}},
	{service.ErrSubmissionClosed, errorResponse{http.StatusConflict, "submission_closed", "The time to submit a question for this slot has passed"}},
	{service.ErrAlreadyAttempted, errorResponse{http.StatusConflict, "already_attempted", "You already tried this slot"}},
	{service.ErrAlreadySubmitted, errorResponse{http.StatusConflict, "already_submitted", "A question was already submitted for this slot"}},
	{service.ErrAlreadyVoted, errorResponse{http.StatusConflict, "already_voted", "You already voted on this question"}},
	{service.ErrNotWinner, errorResponse{http.StatusForbidden, "not_winner", "Only the winner of this slot can submit a question"}},
	{service.ErrNotEligible, errorResponse{http.StatusForbidden, "not_eligible", "You are not eligible to vote on this question"}},
	{service.ErrUnknownOption, errorResponse{http.StatusBadRequest, "unknown_option", "The option does not belong to this question"}},
	{service.ErrInvalidInput, errorResponse{http.StatusBadRequest, "invalid_input", "Invalid input"}},
	{service.ErrSlotNotFound, errorResponse{http.StatusNotFound, "slot_not_found", "Slot not found"}},
	{service.ErrQuestionNotFound, errorResponse{http.StatusNotFound, "question_not_found", "Question not found"}},
	{service.ErrQuestionRemoved, errorResponse{http.StatusGone, "question_removed", "This question has been removed"}},
}

// respondError 写入错误响应，extra中的字段会合并到响应体
func respondError(c *gin.Context, err error, extra gin.H) {
	body := gin.H{}
	for k, v := range extra {
		body[k] = v
	}

	for _, entry := range errorTable {
		if !errors.Is(err, entry.err) {
			continue
		}
		body["code"] = entry.resp.code
		body["error"] = entry.resp.message

		var ve *service.ValidationError
		if errors.As(err, &ve) {
			body["field"] = ve.Field
			body["error"] = ve.Error()
		}
		c.JSON(entry.resp.status, body)
		return
	}

	log.Printf("请求处理失败: %s %s: %v", c.Request.Method, c.FullPath(), err)
	body["code"] = "internal_error"
	body["error"] = "Internal server error"
	c.JSON(http.StatusInternalServerError, body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_input", "error": err.Error()})
}
