package provider

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Cypherspark/bulk-sms/internal/phone"
)

// Dummy simulates the provider in-process. Recipients that do not normalize
// to an international number are reported invalid; the rest are accepted.
type Dummy struct {
	// Latency is added to every call; zero means none.
	Latency time.Duration
	// PointsPerMessage is charged per accepted message outside test mode.
	PointsPerMessage float64

	calls atomic.Int64
}

func NewDummy() *Dummy { return &Dummy{PointsPerMessage: 0.16} }

// Calls reports how many Send calls reached the simulated provider.
func (d *Dummy) Calls() int64 { return d.calls.Load() }

func (d *Dummy) Send(ctx context.Context, req SendRequest) (res *SendResult, err error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { observe(start, err) }()

	if d.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.Latency):
		}
	}
	d.calls.Add(1)

	out := &SendResult{MessageIDs: []string{}, Results: []NumberResult{}, InvalidNumbers: []InvalidNumber{}}
	for i, to := range req.Recipients {
		n := phone.Normalize(to)
		if !strings.HasPrefix(n, "+") {
			out.InvalidNumbers = append(out.InvalidNumbers, InvalidNumber{Number: to, Reason: "Invalid phone number"})
			continue
		}
		points := d.PointsPerMessage
		if req.Test {
			points = 0
		}
		id := "dummy-" + uuid.NewString()
		status := "QUEUE"
		if req.Links != nil && strings.Contains(req.Message, PersonalizationMarker) {
			// Carry the substituted link in the status for local debugging.
			status = "QUEUE " + req.Links[i]
		}
		out.MessageIDs = append(out.MessageIDs, id)
		out.Results = append(out.Results, NumberResult{ID: id, Number: strings.TrimPrefix(n, "+"), Status: status, Points: points})
		out.TotalCost += points
		out.SentCount++
	}
	return out, nil
}
