package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Verify 校验入站 Webhook 签名。
//
// 签名头格式 "sha256=<hex>"，只接受 HMAC-SHA256，对未解析的
// 原始请求体计算，并用常数时间比较。头格式非法、算法不符或
// 密钥未配置时一律返回 false，绝不降级为"视为已验证"。
func Verify(rawBody []byte, signatureHeader, secret string) bool {
	if secret == "" {
		return false
	}

	algo, expectedHex, found := strings.Cut(signatureHeader, "=")
	if !found || algo != "sha256" || expectedHex == "" {
		return false
	}

	expected, err := hex.DecodeString(expectedHex)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)

	return hmac.Equal(mac.Sum(nil), expected)
}

// Sign 为请求体生成签名头值（测试及出站投递使用）
func Sign(rawBody []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
