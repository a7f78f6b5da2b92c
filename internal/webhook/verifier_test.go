package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerify(t *testing.T) {
	body := []byte(`{"id":"sms-1","contact_number":"+15550100"}`)
	secret := "webhook-secret"

	t.Run("合法签名通过", func(t *testing.T) {
		header := Sign(body, secret)
		assert.True(t, Verify(body, header, secret))
	})

	t.Run("请求体被篡改失败", func(t *testing.T) {
		header := Sign(body, secret)
		assert.False(t, Verify([]byte(`{"id":"sms-2"}`), header, secret))
	})

	t.Run("密钥不符失败", func(t *testing.T) {
		header := Sign(body, "other-secret")
		assert.False(t, Verify(body, header, secret))
	})

	t.Run("密钥未配置失败", func(t *testing.T) {
		header := Sign(body, secret)
		assert.False(t, Verify(body, header, ""))
	})

	t.Run("算法不是sha256失败", func(t *testing.T) {
		assert.False(t, Verify(body, "sha1=deadbeef", secret))
	})

	t.Run("签名头格式非法失败", func(t *testing.T) {
		assert.False(t, Verify(body, "garbage", secret))
		assert.False(t, Verify(body, "sha256=", secret))
		assert.False(t, Verify(body, "sha256=not-hex-at-all!", secret))
		assert.False(t, Verify(body, "", secret))
	})
}
