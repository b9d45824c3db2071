package provider

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Cypherspark/bulk-sms/internal/apperr"
	"github.com/Cypherspark/bulk-sms/internal/metrics"
)

// Gateway sends one message body to a list of recipients in a single
// provider call. Batching is the caller's job.
type Gateway interface {
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
}

// Checker is implemented by gateways that can verify their configuration
// without touching the network.
type Checker interface {
	Check() error
}

type SendRequest struct {
	Recipients []string
	Message    string
	Sender     string
	Test       bool
	// Links is the per-recipient personalization parameter. When set it must
	// have one entry per recipient, in the same order.
	Links []string
}

type SendResult struct {
	SentCount      int             `json:"sentCount"`
	MessageIDs     []string        `json:"messageIds"`
	TotalCost      float64         `json:"totalCost"`
	Results        []NumberResult  `json:"results"`
	InvalidNumbers []InvalidNumber `json:"invalidNumbers"`
}

type NumberResult struct {
	ID     string  `json:"id"`
	Number string  `json:"number"`
	Status string  `json:"status"`
	Points float64 `json:"points"`
}

type InvalidNumber struct {
	Number string `json:"number"`
	Reason string `json:"reason"`
}

// Validate checks the input constraints every gateway shares.
func Validate(req SendRequest) error {
	if len(req.Recipients) == 0 {
		return apperr.Validation("recipients", "must not be empty")
	}
	if strings.TrimSpace(req.Message) == "" {
		return apperr.Validation("message", "must not be empty")
	}
	if req.Links != nil && len(req.Links) != len(req.Recipients) {
		return apperr.Validation("param1", "must have one link per recipient")
	}
	return nil
}

// observe records the outcome and latency of one gateway call.
func observe(start time.Time, err error) {
	metrics.GatewaySendDuration.Observe(time.Since(start).Seconds())
	var (
		ge *apperr.GatewayError
		pe *apperr.GatewayParseError
		te *apperr.GatewayTimeoutError
	)
	outcome := "ok"
	switch {
	case err == nil:
	case errors.As(err, &ge):
		outcome = "gateway_error"
	case errors.As(err, &pe):
		outcome = "parse_error"
	case errors.As(err, &te):
		outcome = "timeout"
	default:
		outcome = "error"
	}
	metrics.GatewaySendTotal.WithLabelValues(outcome).Inc()
}
