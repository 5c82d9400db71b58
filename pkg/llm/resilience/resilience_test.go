package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/documind-io/documind/pkg/llm"
)

// fastRetry 测试用的快速重试配置。
func fastRetry(maxAttempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

// flakyEmbedder 前 failFirst 次调用返回 err，之后成功。
type flakyEmbedder struct {
	calls     int
	failFirst int
	err       error
}

func (f *flakyEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls <= f.failFirst {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func (f *flakyEmbedder) EmbedSingle(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.calls <= f.failFirst {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

func (f *flakyEmbedder) Name() string { return "flaky-embed" }

// flakyChat 同 flakyEmbedder，对话侧。
type flakyChat struct {
	calls     int
	failFirst int
	err       error
}

func (f *flakyChat) Chat(_ context.Context, _ []llm.Message) (string, error) {
	f.calls++
	if f.calls <= f.failFirst {
		return "", f.err
	}
	return "回答", nil
}

func (f *flakyChat) Generate(_ context.Context, _, _ string) (string, error) {
	f.calls++
	if f.calls <= f.failFirst {
		return "", f.err
	}
	return "回答", nil
}

func (f *flakyChat) Name() string { return "flaky-chat" }

func TestResilientEmbedderRetriesTransientFailure(t *testing.T) {
	embed := &flakyEmbedder{failFirst: 2, err: errors.New("status code 503: 上游过载")}
	provider := NewResilientEmbeddingProvider(embed, fastRetry(3), nil)

	vectors, err := provider.Embed(context.Background(), []string{"第一段", "第二段"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, 3, embed.calls, "前两次瞬时失败应被重试吸收")
	assert.Equal(t, "flaky-embed-resilient", provider.Name())
	assert.Equal(t, StateClosed, provider.CircuitBreaker().State())
}

func TestResilientEmbedderStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("invalid api key")
	embed := &flakyEmbedder{failFirst: 10, err: permanent}
	provider := NewResilientEmbeddingProvider(embed, fastRetry(3), nil)

	_, err := provider.EmbedSingle(context.Background(), "文本")
	require.Error(t, err)
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, embed.calls, "不可重试的错误只应调用一次")
}

func TestResilientChatOpensCircuitAfterRepeatedFailures(t *testing.T) {
	chat := &flakyChat{failFirst: 100, err: errors.New("状态码 429: 限流")}
	provider := NewResilientChatProvider(chat, fastRetry(2), &CircuitBreakerConfig{
		MaxFailures:      2,
		Timeout:          time.Minute,
		HalfOpenMaxCalls: 1,
	})

	_, err := provider.Generate(context.Background(), "问题", "系统提示")
	require.Error(t, err)
	assert.Equal(t, StateOpen, provider.CircuitBreaker().State())

	// 熔断器打开后直接拒绝，不再触达供应商
	callsWhenOpened := chat.calls
	_, err = provider.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "问题"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.Equal(t, callsWhenOpened, chat.calls)
}

func TestResilientChatRecoversAfterCircuitTimeout(t *testing.T) {
	chat := &flakyChat{failFirst: 2, err: errors.New("connection reset")}
	provider := NewResilientChatProvider(chat, fastRetry(1), &CircuitBreakerConfig{
		MaxFailures:      2,
		Timeout:          30 * time.Millisecond,
		HalfOpenMaxCalls: 1,
	})

	// 连续失败打开熔断器
	for i := 0; i < 2; i++ {
		_, err := provider.Generate(context.Background(), "问题", "")
		require.Error(t, err)
	}
	require.Equal(t, StateOpen, provider.CircuitBreaker().State())

	// 超时后半开探测，供应商已恢复，熔断器随之关闭
	time.Sleep(50 * time.Millisecond)
	answer, err := provider.Generate(context.Background(), "问题", "")
	require.NoError(t, err)
	assert.Equal(t, "回答", answer)
	assert.Equal(t, StateClosed, provider.CircuitBreaker().State())
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		MaxFailures:      1,
		Timeout:          time.Minute,
		HalfOpenMaxCalls: 1,
	})

	_ = cb.Execute(func() error { return errors.New("嵌入调用失败") })
	require.Equal(t, StateOpen, cb.State())
	assert.Equal(t, "open", cb.Stats().State)
	assert.Equal(t, 1, cb.Stats().Failures)

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	require.NoError(t, cb.Execute(func() error { return nil }))
}

func TestRetryWithBackoffExhaustsAttempts(t *testing.T) {
	config := fastRetry(3)
	config.RetryableErrors = func(error) bool { return true }

	calls := 0
	err := RetryWithBackoff(context.Background(), config, func() error {
		calls++
		return errors.New("embedding provider unavailable")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "max retry attempts")
}

func TestRetryWithBackoffStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := &RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		RetryableErrors: func(error) bool {
			return true
		},
	}

	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := RetryWithBackoff(ctx, config, func() error {
		calls++
		return errors.New("status code 500")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, calls, 2, "退避等待期间取消应立刻停止重试")
}

func TestIsRetryableError(t *testing.T) {
	retryable := []error{
		errors.New("status code 503: service unavailable"),
		errors.New("状态码 429: 限流"),
		errors.New("rate limit exceeded"),
		errors.New("unexpected EOF"),
		errors.New("read tcp: connection reset by peer"),
	}
	for _, err := range retryable {
		assert.True(t, IsRetryableError(err), "%v 应可重试", err)
	}

	permanent := []error{
		nil,
		ErrCircuitBreakerOpen,
		context.Canceled,
		context.DeadlineExceeded,
		errors.New("invalid api key"),
		errors.New("status code 400: bad request"),
	}
	for _, err := range permanent {
		assert.False(t, IsRetryableError(err), "%v 不应重试", err)
	}
}

func TestDefaultConfigs(t *testing.T) {
	retry := DefaultRetryConfig()
	assert.Equal(t, 3, retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, retry.InitialDelay)
	assert.Equal(t, 10*time.Second, retry.MaxDelay)
	assert.Equal(t, 2.0, retry.Multiplier)

	cb := DefaultCircuitBreakerConfig()
	assert.Equal(t, 5, cb.MaxFailures)
	assert.Equal(t, 60*time.Second, cb.Timeout)
	assert.Equal(t, 1, cb.HalfOpenMaxCalls)
}
