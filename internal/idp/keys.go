package idp

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// defaultKeyTTL はCache-Controlが無い場合の公開鍵キャッシュ期間。
	defaultKeyTTL = time.Hour
	// minRefreshInterval は未知のkidによる再取得の最短間隔。
	minRefreshInterval = time.Minute
	// maxKeyResponseSize は公開鍵レスポンスの最大サイズ。
	maxKeyResponseSize = 1 << 20
)

// publicKeyCache はkid→X.509証明書のJSONマップを配布するエンドポイントから
// RSA公開鍵を取得し、Cache-Controlのmax-ageに従ってキャッシュする。
type publicKeyCache struct {
	url    string
	client *http.Client
	now    func() time.Time

	mu          sync.Mutex
	keys        map[string]*rsa.PublicKey
	expiresAt   time.Time
	lastFetched time.Time
}

func newPublicKeyCache(url string, client *http.Client, now func() time.Time) *publicKeyCache {
	return &publicKeyCache{
		url:    url,
		client: client,
		now:    now,
	}
}

// Key はkidに対応する公開鍵を返す。
// キャッシュ期限切れ、または未知のkidの場合はエンドポイントから再取得する。
func (c *publicKeyCache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.keys != nil && now.Before(c.expiresAt) {
		if key, ok := c.keys[kid]; ok {
			return key, nil
		}
		// 鍵ローテーション直後の可能性があるため、間隔を空けて再取得する
		if now.Sub(c.lastFetched) < minRefreshInterval {
			return nil, fmt.Errorf("%w: unknown key id %q", ErrInvalidToken, kid)
		}
	}

	if err := c.refreshLocked(ctx); err != nil {
		return nil, err
	}

	key, ok := c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key id %q", ErrInvalidToken, kid)
	}
	return key, nil
}

// Refresh はキャッシュ状態に関わらず公開鍵を再取得する。
func (c *publicKeyCache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *publicKeyCache) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create public key request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: public key request failed: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeyResponseSize))
	if err != nil {
		return fmt.Errorf("%w: failed to read public keys: %v", ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: public key fetch failed with status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var certs map[string]string
	if err := json.Unmarshal(body, &certs); err != nil {
		return fmt.Errorf("%w: failed to parse public keys: %v", ErrUpstreamUnavailable, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(certs))
	for kid, certPEM := range certs {
		key, err := parseCertificateKey(certPEM)
		if err != nil {
			return fmt.Errorf("%w: key %q: %v", ErrUpstreamUnavailable, kid, err)
		}
		keys[kid] = key
	}

	now := c.now()
	c.keys = keys
	c.lastFetched = now
	c.expiresAt = now.Add(parseMaxAge(resp.Header.Get("Cache-Control")))
	return nil
}

// parseCertificateKey はPEM形式のX.509証明書からRSA公開鍵を取り出す。
func parseCertificateKey(certPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return nil, fmt.Errorf("certificate is not PEM encoded")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certificate does not contain an RSA public key")
	}
	return key, nil
}

// parseMaxAge はCache-Controlヘッダーからmax-ageを取り出す。
func parseMaxAge(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		directive = strings.TrimSpace(directive)
		v, ok := strings.CutPrefix(directive, "max-age=")
		if !ok {
			continue
		}
		sec, err := strconv.Atoi(v)
		if err != nil || sec <= 0 {
			break
		}
		return time.Duration(sec) * time.Second
	}
	return defaultKeyTTL
}
