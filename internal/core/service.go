package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Cypherspark/bulk-sms/internal/apperr"
	"github.com/Cypherspark/bulk-sms/internal/metrics"
	"github.com/Cypherspark/bulk-sms/internal/provider"
)

const (
	// MaxBatchSize is the provider's limit for personalized sends.
	MaxBatchSize  = 100
	DefaultSender = "BulkComm"
	Currency      = "EUR"
)

type SendRequest struct {
	Recipients []string `json:"recipients"`
	Message    string   `json:"message"`
	Sender     string   `json:"sender,omitempty"`
	CampaignID string   `json:"campaignId,omitempty"`
	Test       bool     `json:"test,omitempty"`
}

type SendResult struct {
	Success         bool                     `json:"success"`
	SentCount       int                      `json:"sentCount"`
	TotalRecipients int                      `json:"totalRecipients"`
	MessageIDs      []string                 `json:"messageIds"`
	Cost            float64                  `json:"cost"`
	Currency        string                   `json:"currency"`
	Batches         int                      `json:"batches"`
	InvalidNumbers  []provider.InvalidNumber `json:"invalidNumbers"`
	Errors          []string                 `json:"errors"`
	Error           string                   `json:"error,omitempty"`
	// ErrorCode is the provider code behind Error, when there is one.
	ErrorCode int `json:"errorCode,omitempty"`
}

// ProgressFunc receives the completion percentage after each batch.
type ProgressFunc func(percent int)

type Options struct {
	PublicBaseURL string
	DefaultSender string
	BatchSize     int
}

// Service is the bulk personalization orchestrator. One SendSMS call runs
// sequentially: recipients are resolved and batches are sent one at a time.
type Service struct {
	Gateway  provider.Gateway
	Store    Store
	Resolver *Resolver
	Auditor  *Auditor
	Log      zerolog.Logger

	publicBaseURL string
	defaultSender string
	batchSize     int
}

func NewService(gw provider.Gateway, store Store, opt Options, log zerolog.Logger) *Service {
	if opt.DefaultSender == "" {
		opt.DefaultSender = DefaultSender
	}
	if opt.BatchSize <= 0 || opt.BatchSize > MaxBatchSize {
		opt.BatchSize = MaxBatchSize
	}
	return &Service{
		Gateway:       gw,
		Store:         store,
		Resolver:      NewResolver(store, log),
		Auditor:       &Auditor{Store: store, Log: log},
		Log:           log,
		publicBaseURL: opt.PublicBaseURL,
		defaultSender: opt.DefaultSender,
		batchSize:     opt.BatchSize,
	}
}

// CleanRecipients drops empty entries and the literal "null" / "undefined"
// strings browsers produce from missing values.
func CleanRecipients(in []string) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" || r == "null" || r == "undefined" {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ValidateRequest checks the input rules of a send and returns the cleaned
// recipient list.
func ValidateRequest(req SendRequest) ([]string, error) {
	recipients := CleanRecipients(req.Recipients)
	if len(recipients) == 0 {
		return nil, apperr.Validation("recipients", "at least one recipient is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, apperr.Validation("message", "must not be empty")
	}
	return recipients, nil
}

// SendSMS validates the request and sends it either as one plain gateway call
// or as personalized batches. A returned error means nothing was attempted:
// bad input, missing configuration or an unreadable campaign. Delivery
// outcomes, including total failure, are reported in the result.
func (s *Service) SendSMS(ctx context.Context, req SendRequest, progress ProgressFunc) (*SendResult, error) {
	log := s.logger(ctx)
	if progress == nil {
		progress = func(int) {}
	}

	recipients, err := ValidateRequest(req)
	if err != nil {
		return nil, err
	}
	sender := strings.TrimSpace(req.Sender)
	if sender == "" {
		sender = s.defaultSender
	}
	if c, ok := s.Gateway.(provider.Checker); ok {
		if err := c.Check(); err != nil {
			return nil, err
		}
	}

	personalize := HasPlaceholder(req.Message)
	res := &SendResult{
		TotalRecipients: len(recipients),
		MessageIDs:      []string{},
		Currency:        Currency,
		InvalidNumbers:  []provider.InvalidNumber{},
		Errors:          []string{},
	}

	if !personalize && req.CampaignID == "" {
		s.sendPlain(ctx, recipients, req, sender, res)
		progress(100)
	} else {
		if personalize && strings.TrimSpace(s.publicBaseURL) == "" {
			return nil, apperr.Configuration("PUBLIC_BASE_URL", "required to build personalized links")
		}
		shortID, err := s.shortID(ctx, req.CampaignID)
		if err != nil {
			return nil, err
		}
		s.sendPersonalized(ctx, recipients, req, sender, shortID, personalize, res, progress)
	}

	res.Success = res.SentCount > 0
	if !res.Success {
		res.Error = "no messages sent"
		if len(res.Errors) > 0 {
			res.Error = res.Errors[0]
		}
		log.Warn().Int("recipients", res.TotalRecipients).Str("error", res.Error).Msg("bulk send delivered nothing")
		return res, nil
	}

	if !req.Test {
		s.Auditor.Record(ctx, AuditEntry{
			Type:           MessageTypeSMS,
			Content:        req.Message,
			RecipientCount: res.TotalRecipients,
			SentCount:      res.SentCount,
			Status:         LogCompleted,
			Cost:           res.Cost,
			CampaignID:     req.CampaignID,
		})
	}
	log.Info().
		Int("recipients", res.TotalRecipients).
		Int("sent", res.SentCount).
		Int("batches", res.Batches).
		Int("invalid", len(res.InvalidNumbers)).
		Int("errors", len(res.Errors)).
		Bool("test", req.Test).
		Msg("bulk send finished")
	return res, nil
}

func (s *Service) sendPlain(ctx context.Context, recipients []string, req SendRequest, sender string, res *SendResult) {
	res.Batches = 1
	out, err := s.Gateway.Send(ctx, provider.SendRequest{
		Recipients: recipients,
		Message:    req.Message,
		Sender:     sender,
		Test:       req.Test,
	})
	if err != nil {
		s.recordError(res, err)
		return
	}
	s.accumulate(res, out, "plain")
}

func (s *Service) sendPersonalized(ctx context.Context, recipients []string, req SendRequest, sender, shortID string, personalize bool, res *SendResult, progress ProgressFunc) {
	log := s.logger(ctx)
	message := req.Message
	if personalize {
		message = SubstitutePlaceholder(message, provider.PersonalizationMarker)
	}

	batches := chunk(recipients, s.batchSize)
	res.Batches = len(batches)
	for i, batch := range batches {
		var links []string
		if personalize {
			links = make([]string, len(batch))
		}
		userIDs := make([]string, 0, len(batch))
		for j, rcpt := range batch {
			r, err := s.Resolver.Resolve(ctx, rcpt, req.CampaignID, personalize)
			if err != nil {
				// The recipient still gets the message, just without a link.
				log.Warn().Err(err).Str("recipient", rcpt).Msg("recipient resolution failed")
				res.Errors = append(res.Errors, fmt.Sprintf("recipient %s: %v", rcpt, err))
				continue
			}
			if r.UserID != "" {
				userIDs = append(userIDs, r.UserID)
			}
			if personalize && r.Token != "" {
				links[j] = BuildLink(s.publicBaseURL, shortID, r.Token)
			}
		}

		metrics.BatchSize.Observe(float64(len(batch)))
		out, err := s.Gateway.Send(ctx, provider.SendRequest{
			Recipients: batch,
			Message:    message,
			Sender:     sender,
			Test:       req.Test,
			Links:      links,
		})
		if err != nil {
			metrics.BatchTotal.WithLabelValues("failed").Inc()
			log.Error().Err(err).Int("batch", i+1).Int("batches", len(batches)).Msg("batch send failed")
			s.recordError(res, &apperr.PartialBatchError{Batch: i + 1, Total: len(batches), Err: err})
			s.markFailed(ctx, req.CampaignID, userIDs)
		} else {
			metrics.BatchTotal.WithLabelValues("ok").Inc()
			s.accumulate(res, out, "personalized")
		}
		progress(Progress(i+1, len(batches)))
	}
}

func (s *Service) accumulate(res *SendResult, out *provider.SendResult, mode string) {
	res.SentCount += out.SentCount
	res.MessageIDs = append(res.MessageIDs, out.MessageIDs...)
	res.Cost += out.TotalCost
	res.InvalidNumbers = append(res.InvalidNumbers, out.InvalidNumbers...)
	metrics.MessagesSent.WithLabelValues(mode).Add(float64(out.SentCount))
}

func (s *Service) recordError(res *SendResult, err error) {
	res.Errors = append(res.Errors, err.Error())
	var ge *apperr.GatewayError
	if res.ErrorCode == 0 && errors.As(err, &ge) {
		res.ErrorCode = ge.Code
	}
}

func (s *Service) markFailed(ctx context.Context, campaignID string, userIDs []string) {
	if campaignID == "" {
		return
	}
	log := s.logger(ctx)
	for _, uid := range userIDs {
		if err := s.Store.UpdateCampaignRecipientStatus(ctx, campaignID, uid, RecipientFailed); err != nil {
			log.Warn().Err(err).Str("user_id", uid).Msg("mark recipient failed")
		}
	}
}

// shortID looks up the campaign's public id. Any linked campaign must exist,
// links or not, so nothing is sent or recorded against an unknown one.
func (s *Service) shortID(ctx context.Context, campaignID string) (string, error) {
	if campaignID == "" {
		return "", nil
	}
	id, err := s.Store.GetCampaignShortID(ctx, campaignID)
	if errors.Is(err, apperr.ErrNotFound) {
		return "", apperr.Validation("campaignId", "unknown campaign")
	}
	if err != nil {
		return "", apperr.Persistence("get campaign short id", err)
	}
	return id, nil
}

func (s *Service) logger(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return s.Log
}

// Progress is round(100*done/total), held at 90 until the last batch.
func Progress(done, total int) int {
	if total <= 0 || done >= total {
		return 100
	}
	p := int(math.Round(100 * float64(done) / float64(total)))
	if p > 90 {
		p = 90
	}
	return p
}

func chunk(in []string, size int) [][]string {
	out := make([][]string, 0, (len(in)+size-1)/size)
	for start := 0; start < len(in); start += size {
		end := min(start+size, len(in))
		out = append(out, in[start:end])
	}
	return out
}
