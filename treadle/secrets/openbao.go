// an OpenBao backed secret manager, speaking the vault KV v2 API
package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
)

type OpenBaoManager struct {
	client    *vault.Client
	mountPath string
	roleID    string
	secretID  string
	stopCh    chan struct{}
	tokenMu   sync.RWMutex
	logger    *slog.Logger
}

type OpenBaoManagerOpt func(*OpenBaoManager)

func WithMountPath(mountPath string) OpenBaoManagerOpt {
	return func(v *OpenBaoManager) {
		v.mountPath = mountPath
	}
}

func NewOpenBaoManager(address, roleID, secretID string, logger *slog.Logger, opts ...OpenBaoManagerOpt) (*OpenBaoManager, error) {
	if address == "" {
		return nil, fmt.Errorf("address cannot be empty")
	}
	if roleID == "" {
		return nil, fmt.Errorf("role_id cannot be empty")
	}
	if secretID == "" {
		return nil, fmt.Errorf("secret_id cannot be empty")
	}

	config := vault.DefaultConfig()
	config.Address = address

	client, err := vault.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create openbao client: %w", err)
	}

	if err := authenticateAppRole(client, roleID, secretID); err != nil {
		return nil, fmt.Errorf("failed to authenticate with AppRole: %w", err)
	}

	manager := &OpenBaoManager{
		client:    client,
		mountPath: "treadle", // default KV v2 mount path
		roleID:    roleID,
		secretID:  secretID,
		stopCh:    make(chan struct{}),
		logger:    logger,
	}

	for _, opt := range opts {
		opt(manager)
	}

	go manager.tokenRenewalLoop()

	return manager, nil
}

func authenticateAppRole(client *vault.Client, roleID, secretID string) error {
	authData := map[string]any{
		"role_id":   roleID,
		"secret_id": secretID,
	}

	resp, err := client.Logical().Write("auth/approle/login", authData)
	if err != nil {
		return fmt.Errorf("failed to login with AppRole: %w", err)
	}

	if resp == nil || resp.Auth == nil {
		return fmt.Errorf("no auth info returned from AppRole login")
	}

	client.SetToken(resp.Auth.ClientToken)
	return nil
}

// Stop stops the token renewal goroutine.
func (v *OpenBaoManager) Stop() {
	close(v.stopCh)
}

// tokenRenewalLoop renews or re-authenticates the client token in the
// background so long-lived runners do not lose access mid-run.
func (v *OpenBaoManager) tokenRenewalLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-v.stopCh:
			return
		case <-ticker.C:
			if err := v.ensureValidToken(); err != nil {
				v.logger.Error("openbao token renewal failed", "error", err)
			}
		}
	}
}

func (v *OpenBaoManager) ensureValidToken() error {
	v.tokenMu.Lock()
	defer v.tokenMu.Unlock()

	tokenInfo, err := v.client.Auth().Token().LookupSelf()
	if err != nil {
		v.logger.Warn("token lookup failed, re-authenticating", "error", err)
		return authenticateAppRole(v.client, v.roleID, v.secretID)
	}

	if tokenInfo == nil || tokenInfo.Data == nil {
		return authenticateAppRole(v.client, v.roleID, v.secretID)
	}

	ttl, err := tokenInfo.TokenTTL()
	if err != nil {
		return authenticateAppRole(v.client, v.roleID, v.secretID)
	}

	// renew when less than 5 minutes remain
	if ttl < 5*time.Minute {
		v.logger.Info("token ttl low, attempting renewal", "ttl", ttl)

		renewResp, err := v.client.Auth().Token().RenewSelf(3600) // 1h
		if err != nil || renewResp == nil || renewResp.Auth == nil {
			v.logger.Warn("token renewal failed, re-authenticating", "error", err)
			return authenticateAppRole(v.client, v.roleID, v.secretID)
		}
	}

	return nil
}

func (v *OpenBaoManager) buildSecretPath(repo RepoPath, key string) string {
	return path.Join(string(repo), key)
}

func (v *OpenBaoManager) AddSecret(ctx context.Context, secret UnlockedSecret) error {
	v.tokenMu.RLock()
	defer v.tokenMu.RUnlock()

	if err := ValidateKey(secret.Key); err != nil {
		return err
	}

	secretPath := v.buildSecretPath(secret.Repo, secret.Key)

	existing, err := v.client.KVv2(v.mountPath).Get(ctx, secretPath)
	if err == nil && existing != nil {
		return ErrKeyAlreadyPresent
	}

	secretData := map[string]any{
		"value":      secret.Value,
		"repo":       string(secret.Repo),
		"key":        secret.Key,
		"created_at": secret.CreatedAt.Format(time.RFC3339),
		"created_by": secret.CreatedBy,
	}

	_, err = v.client.KVv2(v.mountPath).Put(ctx, secretPath, secretData)
	if err != nil {
		return fmt.Errorf("failed to store secret in openbao: %w", err)
	}

	return nil
}

func (v *OpenBaoManager) RemoveSecret(ctx context.Context, secret Secret[any]) error {
	v.tokenMu.RLock()
	defer v.tokenMu.RUnlock()

	secretPath := v.buildSecretPath(secret.Repo, secret.Key)

	existing, err := v.client.KVv2(v.mountPath).Get(ctx, secretPath)
	if err != nil || existing == nil {
		return ErrKeyNotFound
	}

	err = v.client.KVv2(v.mountPath).Delete(ctx, secretPath)
	if err != nil {
		return fmt.Errorf("failed to delete secret from openbao: %w", err)
	}

	return nil
}

func (v *OpenBaoManager) GetSecretsLocked(ctx context.Context, repo RepoPath) ([]LockedSecret, error) {
	unlocked, err := v.GetSecretsUnlocked(ctx, repo)
	if err != nil {
		return nil, err
	}

	ls := make([]LockedSecret, 0, len(unlocked))
	for _, u := range unlocked {
		ls = append(ls, LockedSecret{
			Key:       u.Key,
			Repo:      u.Repo,
			CreatedAt: u.CreatedAt,
			CreatedBy: u.CreatedBy,
		})
	}

	return ls, nil
}

func (v *OpenBaoManager) GetSecretsUnlocked(ctx context.Context, repo RepoPath) ([]UnlockedSecret, error) {
	v.tokenMu.RLock()
	defer v.tokenMu.RUnlock()

	listPath := path.Join(v.mountPath, "metadata", string(repo))
	listing, err := v.client.Logical().ListWithContext(ctx, listPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets in openbao: %w", err)
	}

	if listing == nil || listing.Data == nil {
		return nil, nil
	}

	keysRaw, ok := listing.Data["keys"].([]any)
	if !ok {
		return nil, nil
	}

	var secrets []UnlockedSecret
	for _, kr := range keysRaw {
		key, ok := kr.(string)
		if !ok {
			continue
		}

		kv, err := v.client.KVv2(v.mountPath).Get(ctx, v.buildSecretPath(repo, key))
		if err != nil || kv == nil {
			continue
		}

		secret := UnlockedSecret{
			Key:  key,
			Repo: repo,
		}
		if val, ok := kv.Data["value"].(string); ok {
			secret.Value = val
		}
		if by, ok := kv.Data["created_by"].(string); ok {
			secret.CreatedBy = by
		}
		if at, ok := kv.Data["created_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339, at); err == nil {
				secret.CreatedAt = t
			}
		}

		secrets = append(secrets, secret)
	}

	return secrets, nil
}
