// Package ehr connects the exchange core to external EHR systems (Epic,
// Cerner, Allscripts) over their FHIR R4 APIs, with OAuth2 client-credentials
// authentication including SMART backend-services private-key JWT assertions.
package ehr

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/healthflow/healthflow/pkg/rxerr"
)

// assertionLifetime bounds the SMART client assertion exp claim.
const assertionLifetime = 5 * time.Minute

// expirySkew refreshes tokens slightly before their reported expiry.
const expirySkew = 30 * time.Second

// Credentials holds what a connector needs to authenticate against one EHR
// tenant. When PrivateKey is set the token request carries a SMART
// backend-services client assertion (RS384); otherwise the client secret is
// posted directly.
type Credentials struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	PrivateKey   *rsa.PrivateKey
	KeyID        string
}

// TokenManager caches one access token per EHR tenant and refreshes it lazily
// on expiry. Refresh is serialized so concurrent callers never race a
// half-updated token.
type TokenManager struct {
	creds Credentials
	httpc *http.Client
	now   func() time.Time

	mu    sync.Mutex
	token *oauth2.Token
}

// NewTokenManager returns a TokenManager for the given tenant credentials.
func NewTokenManager(creds Credentials, httpc *http.Client) *TokenManager {
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	return &TokenManager{creds: creds, httpc: httpc, now: time.Now}
}

// Token returns a valid bearer token, fetching a fresh one when the cached
// token is missing or about to expire.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != nil && m.token.Expiry.After(m.now().Add(expirySkew)) {
		return m.token.AccessToken, nil
	}

	tok, err := m.fetch(ctx)
	if err != nil {
		return "", err
	}
	m.token = tok
	return tok.AccessToken, nil
}

// Invalidate drops the cached token so the next Token call fetches a new one.
// Connectors call it after a 401 from the resource server.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.token = nil
	m.mu.Unlock()
}

func (m *TokenManager) fetch(ctx context.Context) (*oauth2.Token, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	if len(m.creds.Scopes) > 0 {
		form.Set("scope", strings.Join(m.creds.Scopes, " "))
	}

	if m.creds.PrivateKey != nil {
		assertion, err := m.clientAssertion()
		if err != nil {
			return nil, rxerr.Wrap(rxerr.KindAuth, "client assertion signing failed", err)
		}
		form.Set("client_assertion_type", "urn:ietf:params:oauth:client-assertion-type:jwt-bearer")
		form.Set("client_assertion", assertion)
	} else {
		form.Set("client_id", m.creds.ClientID)
		form.Set("client_secret", m.creds.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.creds.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, rxerr.Wrap(rxerr.KindAuth, "token request build failed", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpc.Do(req)
	if err != nil {
		return nil, rxerr.Wrap(rxerr.KindTransport, "token endpoint unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, rxerr.Newf(rxerr.KindAuth, "token endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, rxerr.Wrap(rxerr.KindAuth, "token response malformed", err)
	}
	if body.AccessToken == "" {
		return nil, rxerr.New(rxerr.KindAuth, "token response missing access_token")
	}

	expiresIn := body.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return &oauth2.Token{
		AccessToken: body.AccessToken,
		TokenType:   body.TokenType,
		Expiry:      m.now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// clientAssertion builds the SMART backend-services JWT: RS384, iss and sub
// both the client ID, aud the token endpoint.
func (m *TokenManager) clientAssertion() (string, error) {
	now := m.now()
	claims := jwt.RegisteredClaims{
		Issuer:    m.creds.ClientID,
		Subject:   m.creds.ClientID,
		Audience:  jwt.ClaimStrings{m.creds.TokenURL},
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS384, claims)
	if m.creds.KeyID != "" {
		tok.Header["kid"] = m.creds.KeyID
	}
	return tok.SignedString(m.creds.PrivateKey)
}
