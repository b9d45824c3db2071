package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Cypherspark/bulk-sms/internal/apperr"
)

const (
	DefaultSMSAPIURL = "https://api.smsapi.com/sms.do"
	DefaultTimeout   = 30 * time.Second

	// PersonalizationMarker is where SMSAPI substitutes the recipient's param1 value.
	PersonalizationMarker = "[%1%]"
)

// Known SMSAPI error codes.
const (
	CodeMessageInvalid      = 11
	CodeNoValidNumbers      = 13
	CodeInvalidSender       = 14
	CodeInvalidAuth         = 101
	CodeInsufficientCredits = 103
	CodeIPNotAllowed        = 105
	CodeCountryRestricted   = 112
	CodeRateLimited         = 203
)

var errorMessages = map[int]string{
	CodeMessageInvalid:      "message is too long or has no content",
	CodeNoValidNumbers:      "no valid phone numbers among recipients",
	CodeInvalidSender:       "sender name is not valid or not registered",
	CodeInvalidAuth:         "invalid authorization token",
	CodeInsufficientCredits: "insufficient credits on the provider account",
	CodeIPNotAllowed:        "server IP address is not allowed by the provider",
	CodeCountryRestricted:   "sending to this country is restricted",
	CodeRateLimited:         "provider rate limit exceeded, try again later",
}

// ErrorMessage maps a provider error code to a readable message. Unknown codes
// keep the provider's own text.
func ErrorMessage(code int, providerMsg string) string {
	if m, ok := errorMessages[code]; ok {
		return m
	}
	return providerMsg
}

type SMSAPIOptions struct {
	Token   string
	BaseURL string
	Timeout time.Duration
	// QPS and Burst bound outbound calls for the whole process. QPS <= 0
	// disables limiting.
	QPS    float64
	Burst  int
	Client *http.Client
	Logger zerolog.Logger
}

// SMSAPI is the Gateway backed by the SMSAPI REST endpoint.
type SMSAPI struct {
	token   string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

func NewSMSAPI(opt SMSAPIOptions) *SMSAPI {
	if opt.BaseURL == "" {
		opt.BaseURL = DefaultSMSAPIURL
	}
	if opt.Timeout <= 0 {
		opt.Timeout = DefaultTimeout
	}
	client := opt.Client
	if client == nil {
		client = &http.Client{Timeout: opt.Timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opt.QPS > 0 {
		burst := opt.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opt.QPS), burst)
	}
	return &SMSAPI{
		token:   opt.Token,
		baseURL: opt.BaseURL,
		client:  client,
		limiter: limiter,
		log:     opt.Logger.With().Str("component", "smsapi").Logger(),
	}
}

func (s *SMSAPI) Check() error {
	if strings.TrimSpace(s.token) == "" {
		return apperr.Configuration("SMSAPI_TOKEN", "provider auth token is not set")
	}
	return nil
}

type smsapiResponse struct {
	Error   *int   `json:"error"`
	Message string `json:"message"`
	Count   int    `json:"count"`
	List    []struct {
		ID     string  `json:"id"`
		Points float64 `json:"points"`
		Number string  `json:"number"`
		Status string  `json:"status"`
	} `json:"list"`
	InvalidNumbers []struct {
		Number          string `json:"number"`
		SubmittedNumber string `json:"submitted_number"`
		Message         string `json:"message"`
	} `json:"invalid_numbers"`
}

func (s *SMSAPI) Send(ctx context.Context, req SendRequest) (res *SendResult, err error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	if err := s.Check(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { observe(start, err) }()

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("smsapi: rate limiter: %w", err)
	}

	form := url.Values{}
	form.Set("to", strings.Join(req.Recipients, ","))
	form.Set("message", req.Message)
	form.Set("from", req.Sender)
	form.Set("format", "json")
	form.Set("encoding", "utf-8")
	if len(req.Links) > 0 {
		form.Set("param1", strings.Join(req.Links, "|"))
	}
	if req.Test {
		form.Set("test", "1")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("smsapi: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, &apperr.GatewayTimeoutError{Err: err}
		}
		return nil, fmt.Errorf("smsapi: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, &apperr.GatewayTimeoutError{Err: err}
		}
		return nil, fmt.Errorf("smsapi: read response: %w", err)
	}

	var parsed smsapiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		s.log.Error().Int("status", resp.StatusCode).Str("body", truncate(string(body), 512)).Msg("unparseable provider response")
		return nil, &apperr.GatewayParseError{Status: resp.StatusCode, Body: string(body), Err: err}
	}
	if parsed.Error != nil && *parsed.Error != 0 {
		code := *parsed.Error
		s.log.Warn().Int("code", code).Str("provider_message", parsed.Message).Msg("provider rejected request")
		return nil, &apperr.GatewayError{Code: code, Message: ErrorMessage(code, parsed.Message)}
	}
	if resp.StatusCode >= 300 {
		return nil, &apperr.GatewayParseError{Status: resp.StatusCode, Body: string(body), Err: errors.New("non-2xx status without error code")}
	}

	out := &SendResult{
		MessageIDs:     make([]string, 0, len(parsed.List)),
		Results:        make([]NumberResult, 0, len(parsed.List)),
		InvalidNumbers: make([]InvalidNumber, 0, len(parsed.InvalidNumbers)),
	}
	for _, item := range parsed.List {
		out.MessageIDs = append(out.MessageIDs, item.ID)
		out.TotalCost += item.Points
		out.Results = append(out.Results, NumberResult{ID: item.ID, Number: item.Number, Status: item.Status, Points: item.Points})
	}
	out.SentCount = len(parsed.List)
	for _, inv := range parsed.InvalidNumbers {
		n := inv.SubmittedNumber
		if n == "" {
			n = inv.Number
		}
		out.InvalidNumbers = append(out.InvalidNumbers, InvalidNumber{Number: n, Reason: inv.Message})
	}

	s.log.Debug().
		Int("recipients", len(req.Recipients)).
		Int("sent", out.SentCount).
		Int("invalid", len(out.InvalidNumbers)).
		Float64("cost", out.TotalCost).
		Bool("test", req.Test).
		Msg("provider accepted request")
	return out, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
