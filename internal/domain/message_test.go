package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompositeKey(t *testing.T) {
	t.Run("有线程ID时使用线程ID加消息ID", func(t *testing.T) {
		msg := Message{ID: "m-1", ThreadID: "t-9", AccountType: AccountTypeMail}
		assert.Equal(t, "t-9:m-1", msg.CompositeKey())
	})

	t.Run("短信服务商A附加方向区分往返支路", func(t *testing.T) {
		in := Message{ID: "m-1", ThreadID: "t-9", AccountType: AccountTypeSMSA, Direction: DirectionInbound}
		out := Message{ID: "m-1", ThreadID: "t-9", AccountType: AccountTypeSMSA, Direction: DirectionOutbound}

		assert.Equal(t, "t-9:inbound:m-1", in.CompositeKey())
		assert.Equal(t, "t-9:outbound:m-1", out.CompositeKey())
		assert.NotEqual(t, in.CompositeKey(), out.CompositeKey())
	})

	t.Run("无线程ID时退回平台类型加消息ID", func(t *testing.T) {
		msg := Message{ID: "m-1", AccountType: AccountTypeIMAP}
		assert.Equal(t, "imap:m-1", msg.CompositeKey())
	})

	t.Run("兜底裸消息ID", func(t *testing.T) {
		msg := Message{ID: "m-1"}
		assert.Equal(t, "m-1", msg.CompositeKey())
	})

	t.Run("不同平台同ID不冲突", func(t *testing.T) {
		a := Message{ID: "42", AccountType: AccountTypeSMSB}
		b := Message{ID: "42", AccountType: AccountTypeWhatsApp}
		assert.NotEqual(t, a.CompositeKey(), b.CompositeKey())
	})
}

func TestValidateMessage(t *testing.T) {
	valid := func() *Message {
		return &Message{
			ID:          "m-1",
			From:        Party{Address: "alice@example.com"},
			Subject:     "hello",
			AccountType: AccountTypeMail,
		}
	}

	t.Run("合法消息通过", func(t *testing.T) {
		assert.NoError(t, ValidateMessage(valid()))
	})

	t.Run("缺少ID拒绝", func(t *testing.T) {
		msg := valid()
		msg.ID = "  "
		assert.ErrorIs(t, ValidateMessage(msg), ErrMessageMissingID)
	})

	t.Run("缺少发送方拒绝", func(t *testing.T) {
		msg := valid()
		msg.From = Party{}
		assert.ErrorIs(t, ValidateMessage(msg), ErrMessageNoSender)
	})

	t.Run("邮件类消息必须有主题或正文", func(t *testing.T) {
		msg := valid()
		msg.Subject = ""
		msg.Body = "  "
		assert.ErrorIs(t, ValidateMessage(msg), ErrMessageNoContent)
	})

	t.Run("短信类消息允许空主题", func(t *testing.T) {
		msg := &Message{
			ID:          "s-1",
			From:        Party{Address: "+15550001111"},
			AccountType: AccountTypeSMSA,
		}
		assert.NoError(t, ValidateMessage(msg))
	})

	t.Run("空指针拒绝", func(t *testing.T) {
		assert.ErrorIs(t, ValidateMessage(nil), ErrMessageMissingID)
	})
}

func TestMessageNormalize(t *testing.T) {
	msg := Message{ID: "m-1"}
	msg.Normalize()

	assert.NotNil(t, msg.Labels)
	assert.Empty(t, msg.Labels)
	assert.False(t, msg.Date.IsZero())

	// 已有值不被覆盖
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg2 := Message{ID: "m-2", Date: at, Labels: []string{"inbox"}}
	msg2.Normalize()
	assert.Equal(t, at, msg2.Date)
	assert.Equal(t, []string{"inbox"}, msg2.Labels)
}

func TestInvolvesContact(t *testing.T) {
	msg := Message{
		ID:   "m-1",
		From: Party{Address: "Alice@Example.com"},
		To: []Party{
			{Address: "bob@example.com"},
			{Address: "+1 555 000 1111"},
		},
	}

	assert.True(t, msg.InvolvesContact("alice@example.com"))
	assert.True(t, msg.InvolvesContact("ALICE@EXAMPLE.COM"))
	assert.True(t, msg.InvolvesContact("bob@example.com"))
	assert.False(t, msg.InvolvesContact("carol@example.com"))
	assert.False(t, msg.InvolvesContact(""))
}
