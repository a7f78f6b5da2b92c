package smsa

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"unibox/backend/internal/domain"
	"unibox/backend/internal/provider"
)

const testCreds = `{"accountSid":"AC123","authToken":"tok456"}`

func testAccount() *domain.SyncAccount {
	return &domain.SyncAccount{
		ID:                "acc-sms",
		UserID:            "user-1",
		Platform:          domain.AccountTypeSMSA,
		AccountIdentifier: "+15550001111",
	}
}

func newTestAdapter(t *testing.T, handler http.HandlerFunc) (*Adapter, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	adapter, err := New(testAccount(), testCreds, server.URL, zap.NewNop())
	require.NoError(t, err)
	return adapter, server
}

func TestNew_CredentialValidation(t *testing.T) {
	t.Run("非法JSON快速失败", func(t *testing.T) {
		_, err := New(testAccount(), "{not-json", "", zap.NewNop())
		assert.ErrorIs(t, err, provider.ErrCredential)
	})

	t.Run("缺少字段快速失败", func(t *testing.T) {
		_, err := New(testAccount(), `{"accountSid":"AC123"}`, "", zap.NewNop())
		assert.ErrorIs(t, err, provider.ErrCredential)
	})
}

func TestGetMessages_Success(t *testing.T) {
	adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "tok456", pass)
		assert.Equal(t, "+15559998888", r.URL.Query().Get("contact_number"))
		assert.Equal(t, "100", r.URL.Query().Get("before_id"))

		w.Header().Set("X-RateLimit-Remaining", "42")
		w.Header().Set("X-RateLimit-Limit", "60")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"messages":[
			{"sms_id":98,"conversation_id":"c-1","direction":"in","contact_number":"+15559998888","body":"hi","sent_at":"1704067200"},
			{"sms_id":97,"conversation_id":"c-1","direction":"out","own_number":"+15550001111","contact_number":"+15559998888","body":"yo","sent_at":"1704067100"}
		]}`))
	})

	result, err := adapter.GetMessages(context.Background(), provider.FetchOptions{
		ChatID: "+15559998888",
		Cursor: "100",
		Limit:  10,
	})
	require.NoError(t, err)

	assert.False(t, result.RateLimited)
	assert.Equal(t, "97", result.NextCursor)
	require.Len(t, result.Messages, 2)

	in := result.Messages[0]
	assert.Equal(t, domain.DirectionInbound, in.Direction)
	assert.Equal(t, "+15559998888", in.From.Address)
	assert.Equal(t, domain.AccountTypeSMSA, in.AccountType)

	out := result.Messages[1]
	assert.Equal(t, domain.DirectionOutbound, out.Direction)
	assert.Equal(t, "+15550001111", out.From.Address)

	// 往返支路共享会话，去重键靠方向区分
	assert.NotEqual(t, in.CompositeKey(), out.CompositeKey())

	assert.Equal(t, 42, result.RateLimit.Remaining)
	assert.False(t, result.RateLimit.IsRateLimited)
}

func TestGetMessages_RateLimited(t *testing.T) {
	t.Run("HTTP 429返回结构化限流", func(t *testing.T) {
		adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		})

		result, err := adapter.GetMessages(context.Background(), provider.FetchOptions{})
		require.NoError(t, err)

		assert.True(t, result.RateLimited)
		assert.Equal(t, 7*time.Second, result.RetryAfter)
		assert.Empty(t, result.Messages)
	})

	t.Run("配额头耗尽同样视为限流", func(t *testing.T) {
		adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Limit", "60")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"messages":[]}`))
		})

		result, err := adapter.GetMessages(context.Background(), provider.FetchOptions{})
		require.NoError(t, err)

		assert.True(t, result.RateLimited)
		assert.Greater(t, result.RetryAfter, time.Duration(0))
	})

	t.Run("配额耗尽时已送达的页不丢弃", func(t *testing.T) {
		adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Limit", "60")
			w.Header().Set("Retry-After", "15")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"messages":[
				{"sms_id":55,"contact_number":"+15559998888","body":"last one before limit","sent_at":"1704067200"}
			]}`))
		})

		result, err := adapter.GetMessages(context.Background(), provider.FetchOptions{})
		require.NoError(t, err)

		assert.True(t, result.RateLimited)
		assert.Equal(t, 15*time.Second, result.RetryAfter)
		require.Len(t, result.Messages, 1)
		assert.Equal(t, "55", result.Messages[0].ID)
		assert.Equal(t, "55", result.NextCursor)
	})
}

func TestGetMessages_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"401映射为凭证被拒", http.StatusUnauthorized, provider.ErrAuth},
		{"403映射为凭证被拒", http.StatusForbidden, provider.ErrAuth},
		{"404映射为资源不存在", http.StatusNotFound, provider.ErrNotFound},
		{"500映射为服务商故障", http.StatusInternalServerError, provider.ErrVendorOutage},
		{"503映射为服务商故障", http.StatusServiceUnavailable, provider.ErrVendorOutage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":"vendor says no"}`))
			})

			_, err := adapter.GetMessages(context.Background(), provider.FetchOptions{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "vendor says no")
		})
	}
}

func TestSendMessage(t *testing.T) {
	adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+15559998888", r.PostForm.Get("to"))
		assert.Equal(t, "hello", r.PostForm.Get("body"))

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sms_id":500,"own_number":"+15550001111","contact_number":"+15559998888","body":"hello","sent_at":"1704067300"}`))
	})

	msg, err := adapter.SendMessage(context.Background(), provider.SendInput{
		To:   "+15559998888",
		Body: "hello",
	})
	require.NoError(t, err)

	assert.Equal(t, "500", msg.ID)
	assert.Equal(t, domain.DirectionOutbound, msg.Direction)
	assert.Equal(t, "+15550001111", msg.From.Address)
	require.Len(t, msg.To, 1)
	assert.Equal(t, "+15559998888", msg.To[0].Address)
}

func TestProcessIncomingMessage(t *testing.T) {
	adapter, err := New(testAccount(), testCreds, "", zap.NewNop())
	require.NoError(t, err)

	t.Run("合法载荷映射为入站消息", func(t *testing.T) {
		msg, err := adapter.ProcessIncomingMessage([]byte(
			`{"sms_id":7,"contact_number":"+15557776666","body":"ping","date":"01/15/2024","time":"9:30"}`))
		require.NoError(t, err)
		require.NotNil(t, msg)

		assert.Equal(t, "7", msg.ID)
		assert.Equal(t, domain.DirectionInbound, msg.Direction)
		assert.Equal(t, "+15557776666", msg.From.Address)
		assert.Equal(t, time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC), msg.Date)
	})

	t.Run("缺少联系人号码静默丢弃", func(t *testing.T) {
		msg, err := adapter.ProcessIncomingMessage([]byte(`{"sms_id":8,"body":"no sender"}`))
		assert.NoError(t, err)
		assert.Nil(t, msg)
	})

	t.Run("缺少消息ID静默丢弃", func(t *testing.T) {
		msg, err := adapter.ProcessIncomingMessage([]byte(`{"contact_number":"+15557776666"}`))
		assert.NoError(t, err)
		assert.Nil(t, msg)
	})

	t.Run("非法JSON静默丢弃", func(t *testing.T) {
		msg, err := adapter.ProcessIncomingMessage([]byte(`{broken`))
		assert.NoError(t, err)
		assert.Nil(t, msg)
	})
}
