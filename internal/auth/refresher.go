package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/facebookgo/clock"

	"github.com/vietddude/apiclient/internal/classify"
	"github.com/vietddude/apiclient/internal/core/domain"
	"github.com/vietddude/apiclient/internal/infra/transport"
)

// HTTPRefresherConfig configures an OAuth2 refresh_token grant.
type HTTPRefresherConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
}

// HTTPRefresher refreshes tokens against an OAuth2 token endpoint.
// It sends through the raw Transport so a refresh never re-enters the
// authenticated pipeline.
type HTTPRefresher struct {
	cfg        HTTPRefresherConfig
	transport  transport.Transport
	classifier *classify.Classifier
	clock      clock.Clock
}

// NewHTTPRefresher creates a refresher.
func NewHTTPRefresher(cfg HTTPRefresherConfig, t transport.Transport, clk clock.Clock) *HTTPRefresher {
	if clk == nil {
		clk = clock.New()
	}
	return &HTTPRefresher{
		cfg:        cfg,
		transport:  t,
		classifier: classify.New(classify.WithClock(clk)),
		clock:      clk,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Refresh implements Refresher.
func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (domain.Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	if r.cfg.Scope != "" {
		form.Set("scope", r.cfg.Scope)
	}
	if r.cfg.ClientID != "" && r.cfg.ClientSecret == "" {
		form.Set("client_id", r.cfg.ClientID)
	}

	req := domain.NewRequest(http.MethodPost, r.cfg.TokenURL, []byte(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if r.cfg.ClientSecret != "" {
		hr := http.Request{Header: make(http.Header)}
		hr.SetBasicAuth(url.QueryEscape(r.cfg.ClientID), url.QueryEscape(r.cfg.ClientSecret))
		req.Header.Set("Authorization", hr.Header.Get("Authorization"))
	}

	resp, err := r.transport.Send(ctx, req)
	if err != nil {
		return domain.Credential{}, r.classifier.Classify(err)
	}
	if f := r.classifier.ClassifyResponse(resp); f != nil {
		// invalid_grant and friends come back as 400/401.
		return domain.Credential{}, f
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		return domain.Credential{}, domain.NewFailure(domain.KindValidation, "decode token response", err)
	}
	if tr.AccessToken == "" {
		return domain.Credential{}, domain.NewFailure(domain.KindValidation, "token response has no access_token", nil)
	}

	now := r.clock.Now()
	cred := domain.Credential{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		IssuedAt:     now,
	}
	if tr.ExpiresIn > 0 {
		cred.ExpiresAt = now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return cred, nil
}
