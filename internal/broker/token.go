package broker

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"storefront/server/internal/auth"
	"storefront/server/internal/observability"
)

const (
	// DefaultTokenURL is Google's OAuth 2.0 token endpoint.
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
	// GrantTypeJWTBearer is the RFC 7523 grant type used for service accounts.
	GrantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// DefaultRefreshSkew is how long before expiry a cached token stops being served.
	DefaultRefreshSkew = 60 * time.Second
	// DefaultExchangeTimeout bounds a single call to the token endpoint.
	DefaultExchangeTimeout = 10 * time.Second

	maxTokenResponseBytes = 1 << 20
	refreshKey            = "access_token"
)

// AssertionSigner signs a JWT-bearer assertion issued at the given unix second.
// *auth.Signer implements it.
type AssertionSigner interface {
	Sign(issuedAt int64) (string, error)
}

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// TokenBroker exchanges service account assertions for OAuth access tokens
// and caches the result until shortly before it expires.
//
// A broker is constructed once per process and shared by every component
// that talks to Google APIs. Concurrent callers that find the cache empty or
// stale share a single in-flight exchange.
type TokenBroker struct {
	signer   AssertionSigner
	tokenURL string
	client   *http.Client
	timeout  time.Duration
	skew     time.Duration
	now      Clock
	tracer   trace.Tracer
	metrics  *brokerMetrics

	mu    sync.RWMutex
	token *cachedToken

	group singleflight.Group
}

// Option customises a TokenBroker.
type Option func(*brokerOptions)

type brokerOptions struct {
	signer         AssertionSigner
	tokenURL       string
	client         *http.Client
	timeout        time.Duration
	skew           time.Duration
	now            Clock
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// WithTokenURL overrides the token endpoint.
func WithTokenURL(u string) Option { return func(o *brokerOptions) { o.tokenURL = u } }

// WithHTTPClient sets the client used for the exchange.
func WithHTTPClient(c *http.Client) Option { return func(o *brokerOptions) { o.client = c } }

// WithExchangeTimeout bounds each exchange.
func WithExchangeTimeout(d time.Duration) Option { return func(o *brokerOptions) { o.timeout = d } }

// WithRefreshSkew changes how early a token is refreshed.
func WithRefreshSkew(d time.Duration) Option { return func(o *brokerOptions) { o.skew = d } }

// WithClock replaces time.Now.
func WithClock(c Clock) Option { return func(o *brokerOptions) { o.now = c } }

// WithSigner replaces the signer built from the identity.
func WithSigner(s AssertionSigner) Option { return func(o *brokerOptions) { o.signer = s } }

// WithTracerProvider sets the OpenTelemetry tracer provider (default: global).
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *brokerOptions) { o.tracerProvider = tp }
}

// WithMeterProvider sets the OpenTelemetry meter provider (default: global).
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *brokerOptions) { o.meterProvider = mp }
}

// NewTokenBroker creates a broker for the given service account. The identity
// is validated and its private key decoded up front, so configuration and key
// errors surface before any network call.
func NewTokenBroker(identity auth.Identity, opts ...Option) (*TokenBroker, error) {
	o := brokerOptions{
		tokenURL: DefaultTokenURL,
		timeout:  DefaultExchangeTimeout,
		skew:     DefaultRefreshSkew,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.signer == nil {
		signer, err := auth.NewSigner(identity)
		if err != nil {
			return nil, err
		}
		o.signer = signer
	}
	if o.client == nil {
		o.client = &http.Client{}
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}
	if o.meterProvider == nil {
		o.meterProvider = otel.GetMeterProvider()
	}

	log.Printf("[broker] TokenBroker initialized (endpoint: %s)", o.tokenURL)
	return &TokenBroker{
		signer:   o.signer,
		tokenURL: o.tokenURL,
		client:   o.client,
		timeout:  o.timeout,
		skew:     o.skew,
		now:      o.now,
		tracer:   o.tracerProvider.Tracer(instrumentationName),
		metrics:  newBrokerMetrics(o.meterProvider),
	}, nil
}

// GetAccessToken returns a bearer token for the service account, exchanging a
// freshly signed assertion when the cache is empty or within the refresh skew
// of expiry. A failed exchange never falls back to a stale token.
func (b *TokenBroker) GetAccessToken(ctx context.Context) (string, error) {
	tok, err := b.getToken(ctx)
	if err != nil {
		return "", err
	}
	return tok.value, nil
}

// Invalidate drops the cached token so the next request exchanges again.
func (b *TokenBroker) Invalidate() {
	b.mu.Lock()
	b.token = nil
	b.mu.Unlock()
	log.Printf("[broker] Cached token invalidated")
}

func (b *TokenBroker) getToken(ctx context.Context) (cachedToken, error) {
	if tok, ok := b.cached(); ok {
		b.metrics.recordRequest(ctx, "hit")
		return tok, nil
	}
	b.metrics.recordRequest(ctx, "miss")

	// The exchange runs detached from the first caller's cancellation so the
	// other callers sharing it are not failed by it.
	exchangeCtx := context.WithoutCancel(ctx)
	ch := b.group.DoChan(refreshKey, func() (any, error) {
		if tok, ok := b.cached(); ok {
			return tok, nil
		}
		return b.refresh(exchangeCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return cachedToken{}, res.Err
		}
		return res.Val.(cachedToken), nil
	case <-ctx.Done():
		return cachedToken{}, errors.Wrap(ctx.Err(), "wait for token refresh")
	}
}

// cached returns the cached token if it is still outside the refresh skew.
func (b *TokenBroker) cached() (cachedToken, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.token == nil {
		return cachedToken{}, false
	}
	if !b.now().Before(b.token.expiresAt.Add(-b.skew)) {
		return cachedToken{}, false
	}
	return *b.token, true
}

func (b *TokenBroker) refresh(ctx context.Context) (cachedToken, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	ctx, span := b.tracer.Start(ctx, "broker.exchange",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.url", b.tokenURL)))
	defer span.End()

	started := time.Now()
	tok, status, err := b.signAndExchange(ctx)
	elapsed := time.Since(started)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token exchange failed")
		b.metrics.recordExchange(ctx, "error", elapsed)
		observability.LogTokenExchange("error", status, elapsed.Milliseconds(), err.Error())
		log.Printf("[broker] Token exchange failed: %v", err)
		return cachedToken{}, err
	}

	b.mu.Lock()
	b.token = &tok
	b.mu.Unlock()

	b.metrics.recordExchange(ctx, "ok", elapsed)
	observability.LogTokenExchange("ok", status, elapsed.Milliseconds(), "")
	log.Printf("[broker] Access token refreshed, expires at %s", tok.expiresAt.UTC().Format(time.RFC3339))
	return tok, nil
}

// signAndExchange signs a new assertion and trades it for an access token.
// The returned status is the HTTP status of the exchange, or 0 if no response
// was received.
func (b *TokenBroker) signAndExchange(ctx context.Context) (cachedToken, int, error) {
	assertion, err := b.signer.Sign(b.now().Unix())
	if err != nil {
		return cachedToken{}, 0, err
	}

	form := url.Values{}
	form.Set("grant_type", GrantTypeJWTBearer)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return cachedToken{}, 0, errors.Wrap(err, "create token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return cachedToken{}, 0, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return cachedToken{}, resp.StatusCode, classifyTransportError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return cachedToken{}, resp.StatusCode, &AuthExchangeError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	tr, err := decodeTokenResponse(body)
	if err != nil {
		return cachedToken{}, resp.StatusCode, &AuthExchangeError{StatusCode: resp.StatusCode, Body: string(body), Err: err}
	}

	return cachedToken{
		value:     tr.AccessToken,
		expiresAt: b.now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, resp.StatusCode, nil
}

func classifyTransportError(ctx context.Context, err error) error {
	// Both the sentinel and the cause stay matchable with errors.Is/As.
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrExchangeTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrExchangeTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrExchangeTransport, err)
}

type tokenResponse struct {
	AccessToken string
	ExpiresIn   int64
	TokenType   string
}

func decodeTokenResponse(data []byte) (tokenResponse, error) {
	var tr tokenResponse
	d := jx.DecodeBytes(data)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "access_token":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "access_token")
			}
			tr.AccessToken = v
		case "expires_in":
			v, err := d.Int64()
			if err != nil {
				return errors.Wrap(err, "expires_in")
			}
			tr.ExpiresIn = v
		case "token_type":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "token_type")
			}
			tr.TokenType = v
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return tokenResponse{}, errors.Wrap(err, "decode token response")
	}
	if tr.AccessToken == "" {
		return tokenResponse{}, errors.New("token response missing access_token")
	}
	if tr.ExpiresIn <= 0 {
		return tokenResponse{}, errors.Errorf("token response has no usable expires_in (%d)", tr.ExpiresIn)
	}
	return tr, nil
}
