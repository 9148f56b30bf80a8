package broker

import (
	"context"

	"golang.org/x/oauth2"
)

// tokenSource adapts a TokenBroker to oauth2.TokenSource so Google API
// clients can authorize through the broker's cache.
type tokenSource struct {
	ctx    context.Context
	broker *TokenBroker
}

// TokenSource returns an oauth2.TokenSource backed by the broker. The context
// is used for every exchange the source triggers; it should outlive the
// client it is handed to.
func (b *TokenBroker) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, broker: b}
}

// Token implements oauth2.TokenSource.
func (s *tokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.broker.getToken(s.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: tok.value,
		TokenType:   "Bearer",
		Expiry:      tok.expiresAt,
	}, nil
}
