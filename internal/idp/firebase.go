package idp

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	sajwt "golang.org/x/oauth2/jwt"

	"github.com/hitoshi/pagegate/internal/model"
)

const (
	DefaultIDTokenCertsURL       = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"
	DefaultSessionCookieCertsURL = "https://www.googleapis.com/identitytoolkit/v3/relyingparty/publicKeys"
	DefaultIdentityToolkitURL    = "https://identitytoolkit.googleapis.com/v1"
	DefaultTokenURL              = "https://oauth2.googleapis.com/token"

	idTokenIssuerPrefix       = "https://securetoken.google.com/"
	sessionCookieIssuerPrefix = "https://session.firebase.google.com/"

	// IdPが受け付けるセッションCookie有効期間の範囲
	minSessionDuration = 5 * time.Minute
	maxSessionDuration = 14 * 24 * time.Hour

	maxSubjectLength = 128
	maxResponseSize  = 1 << 20
)

var firebaseScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/identitytoolkit",
}

// FirebaseConfig はFirebaseClientの生成パラメータ。
// URLとNowは空の場合に本番の値が使われる。
type FirebaseConfig struct {
	ProjectID   string
	ClientEmail string
	PrivateKey  string // PEM（PKCS#8またはPKCS#1）

	HTTPClient *http.Client
	Observer   LatencyObserver

	IDTokenCertsURL       string
	SessionCookieCertsURL string
	IdentityToolkitURL    string
	TokenURL              string
	Now                   func() time.Time
}

// FirebaseClient はFirebase AuthenticationのProvider実装。
type FirebaseClient struct {
	projectID   string
	toolkitURL  string
	now         func() time.Time
	observer    LatencyObserver
	tokenSource oauth2.TokenSource
	authClient  *http.Client

	idTokenKeys *publicKeyCache
	sessionKeys *publicKeyCache
}

var _ Provider = (*FirebaseClient)(nil)

// firebaseClaims はFirebaseが発行するIDトークンとセッションCookieに共通のクレーム。
type firebaseClaims struct {
	AuthTime int64  `json:"auth_time"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// NewFirebaseClient は新しいFirebaseClientを生成する。
// 資格情報が不足・不正な場合はmodel.ErrConfigurationFatalをラップしたエラーを返す。
func NewFirebaseClient(cfg FirebaseConfig) (*FirebaseClient, error) {
	if cfg.ProjectID == "" || cfg.ClientEmail == "" {
		return nil, fmt.Errorf("%w: firebase project id and client email are required", model.ErrConfigurationFatal)
	}
	if _, err := parsePrivateKey(cfg.PrivateKey); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrConfigurationFatal, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	tokenURL := withDefault(cfg.TokenURL, DefaultTokenURL)
	conf := &sajwt.Config{
		Email:      cfg.ClientEmail,
		PrivateKey: []byte(cfg.PrivateKey),
		Scopes:     firebaseScopes,
		TokenURL:   tokenURL,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
	tokenSource := conf.TokenSource(tokenCtx)

	return &FirebaseClient{
		projectID:   cfg.ProjectID,
		toolkitURL:  withDefault(cfg.IdentityToolkitURL, DefaultIdentityToolkitURL),
		now:         now,
		observer:    cfg.Observer,
		tokenSource: tokenSource,
		authClient: &http.Client{
			Transport: &oauth2.Transport{Source: tokenSource, Base: httpClient.Transport},
			Timeout:   httpClient.Timeout,
		},
		idTokenKeys: newPublicKeyCache(withDefault(cfg.IDTokenCertsURL, DefaultIDTokenCertsURL), httpClient, now),
		sessionKeys: newPublicKeyCache(withDefault(cfg.SessionCookieCertsURL, DefaultSessionCookieCertsURL), httpClient, now),
	}, nil
}

// VerifyIDToken はIDトークンを検証し、主体を返す。
func (c *FirebaseClient) VerifyIDToken(ctx context.Context, idToken string) (*model.Principal, error) {
	defer c.observe("verify_id_token", time.Now())
	return c.verify(ctx, idToken, c.idTokenKeys, idTokenIssuerPrefix+c.projectID)
}

// VerifySessionCookie はセッションCookieを検証し、主体を返す。
func (c *FirebaseClient) VerifySessionCookie(ctx context.Context, cookie string, checkRevoked bool) (*model.Principal, error) {
	defer c.observe("verify_session_cookie", time.Now())

	principal, err := c.verify(ctx, cookie, c.sessionKeys, sessionCookieIssuerPrefix+c.projectID)
	if err != nil {
		return nil, err
	}
	if checkRevoked {
		if err := c.checkRevoked(ctx, principal); err != nil {
			return nil, err
		}
	}
	return principal, nil
}

// CreateSessionCookie はIDトークンと引き換えにセッションCookieを発行する。
func (c *FirebaseClient) CreateSessionCookie(ctx context.Context, idToken string, expiresIn time.Duration) (string, error) {
	defer c.observe("create_session_cookie", time.Now())

	if idToken == "" {
		return "", fmt.Errorf("%w: empty id token", ErrInvalidToken)
	}
	if expiresIn < minSessionDuration || expiresIn > maxSessionDuration {
		return "", fmt.Errorf("session duration %s is out of range [%s, %s]", expiresIn, minSessionDuration, maxSessionDuration)
	}

	reqBody := map[string]any{
		"idToken":       idToken,
		"validDuration": int64(expiresIn / time.Second),
	}
	var resp struct {
		SessionCookie string `json:"sessionCookie"`
	}
	if err := c.post(ctx, fmt.Sprintf("/projects/%s:createSessionCookie", c.projectID), reqBody, &resp); err != nil {
		return "", fmt.Errorf("create session cookie: %w", err)
	}
	if resp.SessionCookie == "" {
		return "", fmt.Errorf("%w: empty session cookie in response", ErrUpstreamUnavailable)
	}
	return resp.SessionCookie, nil
}

// Warmup は両方の公開鍵セットとサービスアカウントのアクセストークンを取得する。
func (c *FirebaseClient) Warmup(ctx context.Context) error {
	if err := c.idTokenKeys.Refresh(ctx); err != nil {
		return fmt.Errorf("fetch id token keys: %w", err)
	}
	if err := c.sessionKeys.Refresh(ctx); err != nil {
		return fmt.Errorf("fetch session cookie keys: %w", err)
	}
	if _, err := c.tokenSource.Token(); err != nil {
		return fmt.Errorf("obtain access token: %w", classifyTokenError(err))
	}
	return nil
}

// classifyTokenError はトークンエンドポイントのエラーを分類する。
// 4xx（invalid_grant, invalid_clientなど）はサービスアカウントの資格情報が不正なため再試行しない。
func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		status := re.Response.StatusCode
		if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
			return fmt.Errorf("%w: service account rejected: %v", model.ErrConfigurationFatal, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}

func (c *FirebaseClient) verify(ctx context.Context, token string, keys *publicKeyCache, issuer string) (*model.Principal, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(c.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)

	claims := &firebaseClaims{}
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: missing key id", ErrInvalidToken)
		}
		return keys.Key(ctx, kid)
	})
	if err != nil {
		if errors.Is(err, ErrUpstreamUnavailable) {
			return nil, err
		}
		if errors.Is(err, ErrInvalidToken) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" || len(claims.Subject) > maxSubjectLength {
		return nil, fmt.Errorf("%w: invalid subject", ErrInvalidToken)
	}

	p := &model.Principal{
		Subject:   claims.Subject,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	if claims.AuthTime > 0 {
		p.AuthTime = time.Unix(claims.AuthTime, 0)
	}
	return p, nil
}

// checkRevoked はユーザーの無効化状態とセッション失効時刻を確認する。
func (c *FirebaseClient) checkRevoked(ctx context.Context, p *model.Principal) error {
	reqBody := map[string]any{"localId": []string{p.Subject}}
	var resp struct {
		Users []struct {
			LocalID    string `json:"localId"`
			Disabled   bool   `json:"disabled"`
			ValidSince int64  `json:"validSince,string"`
		} `json:"users"`
	}
	if err := c.post(ctx, fmt.Sprintf("/projects/%s/accounts:lookup", c.projectID), reqBody, &resp); err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if len(resp.Users) == 0 {
		return fmt.Errorf("%w: user not found", ErrInvalidToken)
	}

	user := resp.Users[0]
	if user.Disabled {
		return ErrUserDisabled
	}
	if user.ValidSince > 0 && p.AuthTime.Unix() < user.ValidSince {
		return ErrRevoked
	}
	return nil
}

// post はIdentity Toolkit APIへサービスアカウントの認可付きでJSONをPOSTする。
func (c *FirebaseClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.toolkitURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.authClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", ErrUpstreamUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// ゲートウェイ自身の認可が拒否されたもので、利用者の入力とは無関係
		return fmt.Errorf("%w: gateway credentials rejected: %s", ErrUpstreamUnavailable, toolkitErrorMessage(respBody, resp.StatusCode))
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: %s", ErrInvalidToken, toolkitErrorMessage(respBody, resp.StatusCode))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", ErrUpstreamUnavailable, err)
	}
	return nil
}

func (c *FirebaseClient) observe(operation string, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveIdPRequest(operation, time.Since(start))
	}
}

// toolkitErrorMessage はIdentity Toolkitのエラーレスポンスからメッセージを取り出す。
func toolkitErrorMessage(body []byte, status int) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return fmt.Sprintf("status %d", status)
}

// parsePrivateKey はPEM形式のRSA秘密鍵を読み込む。
func parsePrivateKey(pemKey string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, errors.New("private key is not PEM encoded")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("private key is not an RSA key")
		}
		return rsaKey, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
