package service

import (
	"errors"
	"fmt"
)

var (
	// 时间类错误
	ErrSlotNotOpen      = errors.New("slot is not open")
	ErrSlotActive       = errors.New("slot window is still active")
	ErrSubmissionClosed = errors.New("question submission window has closed")

	// 重复操作
	ErrAlreadyAttempted = errors.New("user already attempted this slot")
	ErrAlreadySubmitted = errors.New("question already submitted for this slot")
	ErrAlreadyVoted     = errors.New("user already voted")

	// 权限
	ErrNotWinner   = errors.New("user is not the winner of this slot")
	ErrNotEligible = errors.New("user is not eligible to vote")

	// 参数校验
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnknownOption = errors.New("option does not belong to question")

	// 资源不存在
	ErrSlotNotFound     = errors.New("slot not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrQuestionRemoved  = errors.New("question has been removed")
)

// ValidationError 指出违反约束的字段
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is 使 errors.Is(err, ErrInvalidInput) 成立
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
