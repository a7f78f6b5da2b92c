package provider

import (
	"fmt"

	"unibox/backend/internal/domain"
)

// Factory 按平台类型构造适配器的工厂函数。
// credentialJSON 是解密后的凭证明文。
type Factory func(account *domain.SyncAccount, credentialJSON string) (Adapter, error)

// Registry 平台类型到适配器工厂的注册表。
//
// 凭证解密在 Build 内完成一次：密文非法或密钥不匹配立即返回
// ErrCredential，不推迟到首次请求。
type Registry struct {
	factories map[domain.AccountType]Factory
	decrypt   func(ciphertext string) (string, error)
}

// NewRegistry 创建注册表
func NewRegistry(decrypt func(string) (string, error)) *Registry {
	return &Registry{
		factories: make(map[domain.AccountType]Factory),
		decrypt:   decrypt,
	}
}

// Register 注册平台适配器工厂
func (r *Registry) Register(platform domain.AccountType, factory Factory) {
	r.factories[platform] = factory
}

// Build 为账户构造适配器
func (r *Registry) Build(account *domain.SyncAccount) (Adapter, error) {
	factory, ok := r.factories[account.Platform]
	if !ok {
		return nil, fmt.Errorf("unsupported platform: %s", account.Platform)
	}

	credentialJSON, err := r.decrypt(account.Credentials)
	if err != nil {
		return nil, fmt.Errorf("%w: account %s: %v", ErrCredential, account.ID, err)
	}

	return factory(account, credentialJSON)
}

// Platforms 返回已注册的平台列表
func (r *Registry) Platforms() []domain.AccountType {
	out := make([]domain.AccountType, 0, len(r.factories))
	for platform := range r.factories {
		out = append(out, platform)
	}
	return out
}
