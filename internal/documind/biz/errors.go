package biz

import (
	"errors"
	"fmt"
)

// 业务层哨兵错误。调用方用 errors.Is 判定。
var (
	// ErrEmptyInput 摄取输入为空或仅含空白，不重试，调用方须修正输入。
	ErrEmptyInput = errors.New("输入文本为空")

	// ErrEmptyQuestion 问题为空。
	ErrEmptyQuestion = errors.New("问题为空")

	// ErrQuestionTooLong 问题超出长度上限。
	ErrQuestionTooLong = errors.New("问题超出长度上限")

	// ErrInvalidChunking 分块参数非法。
	ErrInvalidChunking = errors.New("分块参数非法")
)

// EmbeddingError 嵌入调用失败。瞬态错误，重试耗尽后相关文档块
// 标记为未嵌入，不使整批摄取失败。
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("嵌入失败: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// RetrievalError 两个检索后端都不可用。单侧失败会降级而非报错。
type RetrievalError struct {
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("检索失败: %v", e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// GenerationError 生成调用失败，重试一次后向调用方冒泡。
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("生成失败: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// PipelineError 标识流水线在哪个阶段失败。一次失败的运行对外
// 只暴露这一个类型化错误，绝不产生半成品答案。
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("流水线在 %s 阶段失败: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }
