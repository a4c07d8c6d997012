package payments

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const (
	mpesaTokenPath         = "/oauth/v1/generate?grant_type=client_credentials"
	mpesaPushPath          = "/mpesa/stkpush/v1/processrequest"
	mpesaQueryPath         = "/mpesa/stkpushquery/v1/query"
	mpesaTimestampLayout   = "20060102150405"
	mpesaProcessingCode    = "500.001.1001"
	mpesaTokenRefreshSlack = time.Minute
	defaultMpesaTimeout    = 30 * time.Second
	defaultMpesaTxnDesc    = "Payment for goods"
	mpesaPushFailedMessage = "Failed to send STK push. Please try again."
	maxMpesaResponseBytes  = 1 << 20
)

// Daraja expects timestamps in East Africa Time.
var mpesaZone = time.FixedZone("EAT", 3*60*60)

const mpesaInstrumentation = "github.com/hanko-field/checkout/internal/payments/mpesa"

var mpesaTracer = otel.Tracer(mpesaInstrumentation)

// MpesaConfig holds the Daraja credentials and STK push parameters.
type MpesaConfig struct {
	BaseURL          string
	ConsumerKey      string
	ConsumerSecret   string
	ShortCode        string
	Passkey          string
	CallbackURL      string
	TransactionType  string
	AccountReference string
	Timeout          time.Duration
}

// MpesaProvider talks to the Safaricom Daraja API (OAuth, STK push and STK query).
// Calls go through a circuit breaker so a failing gateway is not hammered by every poll tick.
type MpesaProvider struct {
	cfg     MpesaConfig
	client  *http.Client
	now     func() time.Time
	logger  func(ctx context.Context, event string, fields map[string]any)
	breaker *gobreaker.CircuitBreaker[mpesaResponse]
	meter   metric.Meter
	// transitions counts breaker state changes by target state.
	transitions metric.Int64Counter

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

// MpesaOption customises the provider.
type MpesaOption func(*MpesaProvider)

// WithMpesaHTTPClient overrides the HTTP client.
func WithMpesaHTTPClient(client *http.Client) MpesaOption {
	return func(p *MpesaProvider) {
		if client != nil {
			p.client = client
		}
	}
}

// WithMpesaClock overrides the clock used for timestamps and token expiry.
func WithMpesaClock(now func() time.Time) MpesaOption {
	return func(p *MpesaProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithMpesaLogger sets the event logger.
func WithMpesaLogger(logger func(ctx context.Context, event string, fields map[string]any)) MpesaOption {
	return func(p *MpesaProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMpesaMeter sets the meter for the breaker transition counter.
func WithMpesaMeter(meter metric.Meter) MpesaOption {
	return func(p *MpesaProvider) {
		if meter != nil {
			p.meter = meter
		}
	}
}

// WithMpesaBreakerSettings replaces the default breaker settings. Name and OnStateChange are filled in when empty.
func WithMpesaBreakerSettings(settings gobreaker.Settings) MpesaOption {
	return func(p *MpesaProvider) {
		p.breaker = p.newBreaker(settings)
	}
}

// NewMpesaProvider validates cfg and builds a Daraja client.
func NewMpesaProvider(cfg MpesaConfig, opts ...MpesaOption) (*MpesaProvider, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	switch {
	case cfg.BaseURL == "":
		return nil, errors.New("mpesa provider: base url is required")
	case cfg.ConsumerKey == "" || cfg.ConsumerSecret == "":
		return nil, errors.New("mpesa provider: consumer credentials are required")
	case cfg.ShortCode == "" || cfg.Passkey == "":
		return nil, errors.New("mpesa provider: shortcode and passkey are required")
	case cfg.CallbackURL == "":
		return nil, errors.New("mpesa provider: callback url is required")
	}
	if cfg.TransactionType == "" {
		cfg.TransactionType = "CustomerPayBillOnline"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultMpesaTimeout
	}

	p := &MpesaProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
		logger: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.meter == nil {
		p.meter = otel.GetMeterProvider().Meter(mpesaInstrumentation)
	}
	transitions, err := p.meter.Int64Counter(
		"payments.mpesa.breaker.transitions",
		metric.WithDescription("Daraja circuit breaker state changes"),
	)
	if err != nil {
		return nil, fmt.Errorf("mpesa provider: breaker metric: %w", err)
	}
	p.transitions = transitions
	if p.breaker == nil {
		p.breaker = p.newBreaker(gobreaker.Settings{
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}
	return p, nil
}

func (p *MpesaProvider) newBreaker(settings gobreaker.Settings) *gobreaker.CircuitBreaker[mpesaResponse] {
	if settings.Name == "" {
		settings.Name = "mpesa"
	}
	if settings.OnStateChange == nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			if p.transitions != nil {
				p.transitions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("state", to.String())))
			}
			p.logger(context.Background(), "payments.mpesa.breaker", map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		}
	}
	return gobreaker.NewCircuitBreaker[mpesaResponse](settings)
}

// Check reports ErrGatewayUnavailable while the breaker is open. It does not call Daraja.
func (p *MpesaProvider) Check(context.Context) error {
	if p.breaker.State() == gobreaker.StateOpen {
		return ErrGatewayUnavailable
	}
	return nil
}

type mpesaResponse struct {
	status int
	body   []byte
}

type mpesaErrorBody struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	mpesaErrorBody
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode        string      `json:"ResponseCode"`
	ResponseDescription string      `json:"ResponseDescription"`
	CheckoutRequestID   string      `json:"CheckoutRequestID"`
	ResultCode          json.Number `json:"ResultCode"`
	ResultDesc          string      `json:"ResultDesc"`
	mpesaErrorBody
}

// InitiatePush sends an STK push. Daraja-level rejections come back as Success=false with the
// gateway's message; transport and server failures are returned as errors.
func (p *MpesaProvider) InitiatePush(ctx context.Context, req PushRequest) (PushInitiation, error) {
	ctx, span := mpesaTracer.Start(ctx, "mpesa.stk_push")
	defer span.End()

	amount := req.Amount.Ceil().IntPart()
	if amount <= 0 {
		return PushInitiation{Success: false, Message: "Amount must be greater than zero"}, nil
	}
	reference := req.AccountReference
	if reference == "" {
		reference = p.cfg.AccountReference
	}
	if reference == "" {
		reference = req.CartID
	}
	desc := req.Description
	if desc == "" {
		desc = defaultMpesaTxnDesc
	}
	password, timestamp := p.password()
	body := stkPushRequest{
		BusinessShortCode: p.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   p.cfg.TransactionType,
		Amount:            amount,
		PartyA:            req.PhoneNumber,
		PartyB:            p.cfg.ShortCode,
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       p.cfg.CallbackURL,
		AccountReference:  truncate(reference, 12),
		TransactionDesc:   truncate(desc, 13),
	}
	span.SetAttributes(attribute.Int64("mpesa.amount", amount), attribute.String("mpesa.cart_id", req.CartID))

	resp, err := p.call(ctx, mpesaPushPath, body)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return PushInitiation{}, err
	}
	var decoded stkPushResponse
	if err := json.Unmarshal(resp.body, &decoded); err != nil {
		return PushInitiation{}, fmt.Errorf("mpesa provider: decode push response: %w", err)
	}
	if resp.status >= 300 || decoded.ResponseCode != "0" || decoded.CheckoutRequestID == "" {
		message := decoded.ErrorMessage
		if message == "" {
			message = mpesaPushFailedMessage
		}
		p.logger(ctx, "payments.mpesa.push.rejected", map[string]any{
			"status":    resp.status,
			"errorCode": decoded.ErrorCode,
			"message":   message,
		})
		return PushInitiation{Success: false, Message: message}, nil
	}

	p.logger(ctx, "payments.mpesa.push.sent", map[string]any{
		"checkoutRequestId": decoded.CheckoutRequestID,
		"amount":            amount,
	})
	return PushInitiation{
		Success:           true,
		Handle:            decoded.CheckoutRequestID,
		MerchantRequestID: decoded.MerchantRequestID,
		Message:           decoded.CustomerMessage,
	}, nil
}

// QueryPush asks Daraja for the result of an STK push. While the shopper has not answered,
// Daraja reports a processing error which is mapped to a nil ResultCode.
func (p *MpesaProvider) QueryPush(ctx context.Context, handle string) (PushStatus, error) {
	ctx, span := mpesaTracer.Start(ctx, "mpesa.stk_query")
	defer span.End()

	if strings.TrimSpace(handle) == "" {
		return PushStatus{}, errors.New("mpesa provider: checkout request id is required")
	}
	password, timestamp := p.password()
	resp, err := p.call(ctx, mpesaQueryPath, stkQueryRequest{
		BusinessShortCode: p.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		CheckoutRequestID: handle,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return PushStatus{}, err
	}
	var decoded stkQueryResponse
	if err := json.Unmarshal(resp.body, &decoded); err != nil {
		return PushStatus{}, fmt.Errorf("mpesa provider: decode query response: %w", err)
	}
	status := PushStatus{Handle: handle, ResultDesc: decoded.ResultDesc}
	if decoded.ErrorCode == mpesaProcessingCode {
		status.ResultDesc = decoded.ErrorMessage
		return status, nil
	}
	if resp.status >= 300 || decoded.ErrorCode != "" {
		return PushStatus{}, fmt.Errorf("mpesa provider: query rejected (%d %s): %s", resp.status, decoded.ErrorCode, decoded.ErrorMessage)
	}
	if decoded.ResultCode != "" {
		code, err := strconv.Atoi(decoded.ResultCode.String())
		if err != nil {
			return PushStatus{}, fmt.Errorf("mpesa provider: invalid result code %q", decoded.ResultCode)
		}
		status.ResultCode = &code
		span.SetAttributes(attribute.Int("mpesa.result_code", code))
	}
	return status, nil
}

// call posts payload through the breaker. 5xx responses other than the processing notice count as failures.
func (p *MpesaProvider) call(ctx context.Context, path string, payload any) (mpesaResponse, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return mpesaResponse{}, fmt.Errorf("mpesa provider: encode request: %w", err)
	}
	resp, err := p.breaker.Execute(func() (mpesaResponse, error) {
		token, err := p.accessToken(ctx)
		if err != nil {
			return mpesaResponse{}, err
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(encoded))
		if err != nil {
			return mpesaResponse{}, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
		httpReq.Header.Set("Content-Type", "application/json")
		resp, err := p.do(httpReq)
		if err != nil {
			return mpesaResponse{}, err
		}
		if resp.status == http.StatusUnauthorized {
			p.invalidateToken()
		}
		if resp.status >= http.StatusInternalServerError && !bytes.Contains(resp.body, []byte(mpesaProcessingCode)) {
			return resp, fmt.Errorf("mpesa provider: gateway returned %d", resp.status)
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return mpesaResponse{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if err != nil {
		return mpesaResponse{}, err
	}
	return resp, nil
}

func (p *MpesaProvider) accessToken(ctx context.Context) (string, error) {
	p.tokenMu.Lock()
	defer p.tokenMu.Unlock()

	if p.token != "" && p.now().Before(p.tokenExpiry) {
		return p.token, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+mpesaTokenPath, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(p.cfg.ConsumerKey, p.cfg.ConsumerSecret)
	resp, err := p.do(req)
	if err != nil {
		return "", err
	}
	if resp.status != http.StatusOK {
		return "", fmt.Errorf("mpesa provider: token request returned %d", resp.status)
	}
	var decoded struct {
		AccessToken string      `json:"access_token"`
		ExpiresIn   json.Number `json:"expires_in"`
	}
	if err := json.Unmarshal(resp.body, &decoded); err != nil {
		return "", fmt.Errorf("mpesa provider: decode token: %w", err)
	}
	if decoded.AccessToken == "" {
		return "", errors.New("mpesa provider: access token missing in response")
	}
	ttl := time.Hour
	if seconds, err := decoded.ExpiresIn.Int64(); err == nil && seconds > 0 {
		ttl = time.Duration(seconds) * time.Second
	}
	if ttl > mpesaTokenRefreshSlack {
		ttl -= mpesaTokenRefreshSlack
	}
	p.token = decoded.AccessToken
	p.tokenExpiry = p.now().Add(ttl)
	return p.token, nil
}

func (p *MpesaProvider) invalidateToken() {
	p.tokenMu.Lock()
	p.token = ""
	p.tokenMu.Unlock()
}

func (p *MpesaProvider) do(req *http.Request) (mpesaResponse, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return mpesaResponse{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMpesaResponseBytes))
	if err != nil {
		return mpesaResponse{}, fmt.Errorf("mpesa provider: read response: %w", err)
	}
	return mpesaResponse{status: resp.StatusCode, body: body}, nil
}

// password returns base64(shortcode + passkey + timestamp) and the timestamp it was built with.
func (p *MpesaProvider) password() (string, string) {
	timestamp := p.now().In(mpesaZone).Format(mpesaTimestampLayout)
	raw := p.cfg.ShortCode + p.cfg.Passkey + timestamp
	return base64.StdEncoding.EncodeToString([]byte(raw)), timestamp
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
