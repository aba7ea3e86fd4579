package engine

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/patrice-hue/indexrelay/internal/tokencache"
)

const (
	// NotifyURLUpdated and NotifyURLDeleted are the notification types the
	// Indexing API accepts. A single Submit call carries exactly one type.
	NotifyURLUpdated = "URL_UPDATED"
	NotifyURLDeleted = "URL_DELETED"

	defaultTokenURL   = "https://oauth2.googleapis.com/token"
	defaultPublishURL = "https://indexing.googleapis.com/v3/urlNotifications:publish"
	indexingScope     = "https://www.googleapis.com/auth/indexing"

	// Tokens expire after an hour; cache slightly under that.
	tokenTTL = 55 * time.Minute

	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// ServiceAccount is the subset of a Google service-account credential file
// the client needs.
type ServiceAccount struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// ParseServiceAccount decodes a service-account JSON blob and checks the
// required fields are present.
func ParseServiceAccount(raw []byte) (ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return ServiceAccount{}, fmt.Errorf("ParseServiceAccount: %w", err)
	}

	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return ServiceAccount{}, errors.New("ParseServiceAccount: missing client_email or private_key in credentials")
	}

	return sa, nil
}

// GoogleIndexing submits URLs to the Indexing API one request per URL,
// authenticated with a bearer token obtained through the JWT-bearer grant.
type GoogleIndexing struct {
	tokenURL   string
	publishURL string
	client     *http.Client
	tokens     *tokencache.Cache
	now        func() time.Time
	logger     *zap.Logger
}

type GoogleOption func(*GoogleIndexing)

func WithGoogleEndpoints(tokenURL, publishURL string) GoogleOption {
	return func(c *GoogleIndexing) {
		c.tokenURL = tokenURL
		c.publishURL = publishURL
	}
}

func WithGoogleHTTPClient(client *http.Client) GoogleOption {
	return func(c *GoogleIndexing) { c.client = client }
}

func WithGoogleClock(now func() time.Time) GoogleOption {
	return func(c *GoogleIndexing) { c.now = now }
}

func WithTokenCache(cache *tokencache.Cache) GoogleOption {
	return func(c *GoogleIndexing) { c.tokens = cache }
}

func NewGoogleIndexing(logger *zap.Logger, opts ...GoogleOption) *GoogleIndexing {
	c := &GoogleIndexing{
		tokenURL:   defaultTokenURL,
		publishURL: defaultPublishURL,
		client:     &http.Client{Timeout: requestTimeoutSeconds * time.Second},
		tokens:     tokencache.New(),
		now:        time.Now,
		logger:     logger,
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

// Submit notifies the Indexing API about every URL, one request each.
// notifyType must be NotifyURLUpdated or NotifyURLDeleted and applies to the
// whole batch. A token failure short-circuits the call: every URL gets a
// failure result and no publish request is made.
func (c *GoogleIndexing) Submit(ctx context.Context, urls []string, account ServiceAccount, notifyType string) []URLResult {
	results := make([]URLResult, 0, len(urls))

	token, err := c.accessToken(ctx, account)
	if err != nil {
		c.logger.Warn("google token unavailable", zap.Error(err))
		for _, u := range urls {
			results = append(results, URLResult{URL: u, Response: err.Error()})
		}
		return results
	}

	for _, u := range urls {
		results = append(results, c.publish(ctx, u, notifyType, token))
	}

	return results
}

func (c *GoogleIndexing) publish(ctx context.Context, rawURL, notifyType, token string) URLResult {
	payload, err := json.Marshal(map[string]string{
		"url":  rawURL,
		"type": notifyType,
	})
	if err != nil {
		return URLResult{URL: rawURL, Response: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.publishURL, bytes.NewReader(payload))
	if err != nil {
		return URLResult{URL: rawURL, Response: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return URLResult{URL: rawURL, Response: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return URLResult{URL: rawURL, HTTPCode: resp.StatusCode, Response: err.Error()}
	}

	return URLResult{
		URL:      rawURL,
		HTTPCode: resp.StatusCode,
		Response: string(body),
		Success:  resp.StatusCode >= 200 && resp.StatusCode < 300,
	}
}

func (c *GoogleIndexing) accessToken(ctx context.Context, account ServiceAccount) (string, error) {
	if token, ok := c.tokens.Get(); ok {
		return token, nil
	}

	assertion, err := signAssertion(account, c.tokenURL, c.now())
	if err != nil {
		return "", err
	}

	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {assertion},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		AccessToken      string `json:"access_token"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || body.AccessToken == "" {
		msg := body.ErrorDescription
		if msg == "" {
			msg = body.Error
		}
		if msg == "" {
			msg = "unknown token error"
		}
		return "", errors.New(msg)
	}

	c.tokens.Set(body.AccessToken, tokenTTL)

	return body.AccessToken, nil
}

type jwtClaims struct {
	Iss   string `json:"iss"`
	Scope string `json:"scope"`
	Aud   string `json:"aud"`
	Iat   int64  `json:"iat"`
	Exp   int64  `json:"exp"`
}

// signAssertion builds the RS256-signed JWT exchanged for a bearer token:
// base64url(header).base64url(claims).base64url(signature).
func signAssertion(account ServiceAccount, audience string, now time.Time) (string, error) {
	if account.ClientEmail == "" || account.PrivateKey == "" {
		return "", errors.New("missing client_email or private_key in credentials")
	}

	header, err := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT"})
	if err != nil {
		return "", err
	}

	claims, err := json.Marshal(jwtClaims{
		Iss:   account.ClientEmail,
		Scope: indexingScope,
		Aud:   audience,
		Iat:   now.Unix(),
		Exp:   now.Add(time.Hour).Unix(),
	})
	if err != nil {
		return "", err
	}

	enc := base64.RawURLEncoding
	signingInput := enc.EncodeToString(header) + "." + enc.EncodeToString(claims)

	key, err := parsePrivateKey(account.PrivateKey)
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256([]byte(signingInput))
	signature, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}

	return signingInput + "." + enc.EncodeToString(signature), nil
}

func parsePrivateKey(pemKey string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, errors.New("invalid private key in credentials")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("invalid private key in credentials: not an RSA key")
		}
		return rsaKey, nil
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.New("invalid private key in credentials")
	}

	return key, nil
}
