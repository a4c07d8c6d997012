package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyBatchSize = 200
	defaultMpesaBaseURL         = "https://sandbox.safaricom.co.ke"
	defaultMpesaTransactionType = "CustomerPayBillOnline"
	defaultMpesaAccountRef      = "Storefront"
	defaultMpesaCountryCode     = "254"
	defaultMpesaRequestTimeout  = 30 * time.Second
	defaultCurrency             = "KES"
	defaultPollInterval         = 5 * time.Second
	defaultPollTimeout          = 120 * time.Second
	defaultPollMaxAttempts      = 24
	defaultPollQueryTimeout     = 10 * time.Second
	defaultDraftTTL             = 24 * time.Hour
	defaultSessionIdleTTL       = 2 * time.Hour
	defaultSweepInterval        = 15 * time.Minute
	defaultPaymentRateLimit     = 5
	defaultPaymentRateWindow    = time.Minute
	defaultDraftStore           = DraftStoreFirestore
	defaultOrderEventsTopic     = "checkout-events"
)

var (
	defaultPollCancelCodes  = []int{1032}
	defaultPollFailureCodes = []int{17}
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Mpesa       MpesaConfig
	PSP         PSPConfig
	Checkout    CheckoutConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	// CheckRevoked rejects ID tokens whose session was revoked. Costs one Admin API call per request.
	CheckRevoked bool
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig names the topic checkout events are published to. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
}

// MpesaConfig holds Daraja credentials and STK push parameters.
type MpesaConfig struct {
	BaseURL          string
	ConsumerKey      string
	ConsumerSecret   string
	Passkey          string
	ShortCode        string
	CallbackURL      string
	CallbackToken    string
	TransactionType  string
	AccountReference string
	CountryCode      string
	RequestTimeout   time.Duration
}

// Enabled reports whether enough credentials are present to talk to Daraja.
func (c MpesaConfig) Enabled() bool {
	return c.ConsumerKey != "" && c.ConsumerSecret != "" && c.ShortCode != "" && c.Passkey != ""
}

// PSPConfig collects card payment provider settings.
type PSPConfig struct {
	StripeAPIKey     string
	StripeSuccessURL string
	StripeCancelURL  string
	Currency         string
}

// CheckoutConfig tunes payment polling, draft retention and session lifetime.
type CheckoutConfig struct {
	PollInterval     time.Duration
	PollTimeout      time.Duration
	PollMaxAttempts  int
	PollQueryTimeout time.Duration
	CancelCodes      []int
	FailureCodes     []int
	DraftTTL         time.Duration
	SessionIdleTTL   time.Duration
	SweepInterval    time.Duration

	// PaymentRateLimit caps push initiations per shopper within PaymentRateWindow. Zero disables it.
	PaymentRateLimit  int
	PaymentRateWindow time.Duration

	// DraftStore selects where checkout drafts live: "firestore" or "memory".
	DraftStore string
}

// Draft store backends.
const (
	DraftStoreFirestore = "firestore"
	DraftStoreMemory    = "memory"
)

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for scheduler calls.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
// Names are reported hashed so the error can be logged as-is.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.names) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns hashed identifiers of the missing secrets.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

// Names returns the config field names of the missing secrets.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

func defaultLoaderOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
}

// EnvironmentValues returns the effective key/value environment map after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map). main uses it to build the secret fetcher before Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}

	values, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// WithEnvFile overrides the .env file path used for local overrides. An empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map that takes precedence over the system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (e.g. "Mpesa.Passkey") that must resolve to a non-empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnvValues[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "CHECKOUT_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "CHECKOUT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "CHECKOUT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "CHECKOUT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "CHECKOUT_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "CHECKOUT_FIREBASE_CREDENTIALS_FILE", ""),
			CheckRevoked:    boolWithDefault(lookup, "CHECKOUT_FIREBASE_CHECK_REVOKED", false),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "CHECKOUT_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "CHECKOUT_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:        stringWithDefault(lookup, "CHECKOUT_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: stringWithDefault(lookup, "CHECKOUT_PUBSUB_EVENTS_TOPIC", defaultOrderEventsTopic),
		},
		Mpesa: MpesaConfig{
			BaseURL:          strings.TrimRight(stringWithDefault(lookup, "CHECKOUT_MPESA_BASE_URL", defaultMpesaBaseURL), "/"),
			ConsumerKey:      stringWithDefault(lookup, "CHECKOUT_MPESA_CONSUMER_KEY", ""),
			ConsumerSecret:   stringWithDefault(lookup, "CHECKOUT_MPESA_CONSUMER_SECRET", ""),
			Passkey:          stringWithDefault(lookup, "CHECKOUT_MPESA_PASSKEY", ""),
			ShortCode:        stringWithDefault(lookup, "CHECKOUT_MPESA_SHORTCODE", ""),
			CallbackURL:      stringWithDefault(lookup, "CHECKOUT_MPESA_CALLBACK_URL", ""),
			CallbackToken:    stringWithDefault(lookup, "CHECKOUT_MPESA_CALLBACK_TOKEN", ""),
			TransactionType:  stringWithDefault(lookup, "CHECKOUT_MPESA_TRANSACTION_TYPE", defaultMpesaTransactionType),
			AccountReference: stringWithDefault(lookup, "CHECKOUT_MPESA_ACCOUNT_REFERENCE", defaultMpesaAccountRef),
			CountryCode:      stringWithDefault(lookup, "CHECKOUT_MPESA_COUNTRY_CODE", defaultMpesaCountryCode),
			RequestTimeout:   durationWithDefault(lookup, "CHECKOUT_MPESA_REQUEST_TIMEOUT", defaultMpesaRequestTimeout),
		},
		PSP: PSPConfig{
			StripeAPIKey:     stringWithDefault(lookup, "CHECKOUT_PSP_STRIPE_API_KEY", ""),
			StripeSuccessURL: stringWithDefault(lookup, "CHECKOUT_PSP_STRIPE_SUCCESS_URL", ""),
			StripeCancelURL:  stringWithDefault(lookup, "CHECKOUT_PSP_STRIPE_CANCEL_URL", ""),
			Currency:         strings.ToUpper(stringWithDefault(lookup, "CHECKOUT_PSP_CURRENCY", defaultCurrency)),
		},
		Checkout: CheckoutConfig{
			PollInterval:     durationWithDefault(lookup, "CHECKOUT_POLL_INTERVAL", defaultPollInterval),
			PollTimeout:      durationWithDefault(lookup, "CHECKOUT_POLL_TIMEOUT", defaultPollTimeout),
			PollMaxAttempts:  intWithDefault(lookup, "CHECKOUT_POLL_MAX_ATTEMPTS", defaultPollMaxAttempts),
			PollQueryTimeout: durationWithDefault(lookup, "CHECKOUT_POLL_QUERY_TIMEOUT", defaultPollQueryTimeout),
			CancelCodes:      intsWithDefault(lookup, "CHECKOUT_POLL_CANCEL_CODES", defaultPollCancelCodes),
			FailureCodes:     intsWithDefault(lookup, "CHECKOUT_POLL_FAILURE_CODES", defaultPollFailureCodes),
			DraftTTL:         durationWithDefault(lookup, "CHECKOUT_DRAFT_TTL", defaultDraftTTL),
			SessionIdleTTL:   durationWithDefault(lookup, "CHECKOUT_SESSION_IDLE_TTL", defaultSessionIdleTTL),
			SweepInterval:    durationWithDefault(lookup, "CHECKOUT_SWEEP_INTERVAL", defaultSweepInterval),

			PaymentRateLimit:  intWithDefault(lookup, "CHECKOUT_PAYMENT_RATE_LIMIT", defaultPaymentRateLimit),
			PaymentRateWindow: durationWithDefault(lookup, "CHECKOUT_PAYMENT_RATE_WINDOW", defaultPaymentRateWindow),
			DraftStore:        strings.ToLower(stringWithDefault(lookup, "CHECKOUT_DRAFT_STORE", defaultDraftStore)),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "CHECKOUT_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:   stringWithDefault(lookup, "CHECKOUT_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  stringWithDefault(lookup, "CHECKOUT_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: mapWithDefault(lookup, "CHECKOUT_SECURITY_OIDC_AUDIENCES"),
				Issuers:   csvWithDefault(lookup, "CHECKOUT_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "CHECKOUT_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "CHECKOUT_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupBatchSize: intWithDefault(lookup, "CHECKOUT_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		if audience, ok := cfg.Security.OIDC.Audiences[cfg.Security.Environment]; ok {
			cfg.Security.OIDC.Audience = audience
		}
	}

	resolvedSecrets := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Mpesa.ConsumerKey", &cfg.Mpesa.ConsumerKey},
		{"Mpesa.ConsumerSecret", &cfg.Mpesa.ConsumerSecret},
		{"Mpesa.Passkey", &cfg.Mpesa.Passkey},
		{"Mpesa.CallbackToken", &cfg.Mpesa.CallbackToken},
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if cfg.Mpesa.Enabled() && cfg.Mpesa.CallbackURL == "" {
		missing = append(missing, "Mpesa.CallbackURL")
	}
	if len(cfg.Mpesa.CountryCode) == 0 || !isDigits(cfg.Mpesa.CountryCode) {
		missing = append(missing, "Mpesa.CountryCode")
	}
	if cfg.Checkout.PollInterval <= 0 {
		missing = append(missing, "Checkout.PollInterval")
	}
	if cfg.Checkout.PollTimeout < cfg.Checkout.PollInterval {
		missing = append(missing, "Checkout.PollTimeout")
	}
	if cfg.Checkout.PollMaxAttempts <= 0 {
		missing = append(missing, "Checkout.PollMaxAttempts")
	}
	if cfg.Checkout.DraftTTL <= 0 {
		missing = append(missing, "Checkout.DraftTTL")
	}
	if cfg.Checkout.SweepInterval <= 0 {
		missing = append(missing, "Checkout.SweepInterval")
	}
	if cfg.Checkout.DraftStore != DraftStoreFirestore && cfg.Checkout.DraftStore != DraftStoreMemory {
		missing = append(missing, "Checkout.DraftStore")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if resolved[trimmed] == "" {
			missing = append(missing, trimmed)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	values, err := godotenv.Read(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	return values, nil
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

// intsWithDefault parses a comma separated list of integers. Any malformed entry falls back to the default.
func intsWithDefault(lookup func(string) (string, bool), key string, fallback []int) []int {
	parts := csvWithDefault(lookup, key)
	if len(parts) == 0 {
		return append([]int(nil), fallback...)
	}
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		parsed, err := strconv.Atoi(part)
		if err != nil {
			return append([]int(nil), fallback...)
		}
		out = append(out, parsed)
	}
	return out
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func mapWithDefault(lookup func(string) (string, bool), key string) map[string]string {
	values := make(map[string]string)
	for _, entry := range csvWithDefault(lookup, key) {
		name, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if name == "" || value == "" {
			continue
		}
		values[name] = value
	}
	return values
}
