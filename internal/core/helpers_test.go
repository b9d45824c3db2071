package core_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Cypherspark/bulk-sms/internal/apperr"
	"github.com/Cypherspark/bulk-sms/internal/core"
	database "github.com/Cypherspark/bulk-sms/internal/db"
	"github.com/Cypherspark/bulk-sms/internal/provider"
)

// fakeGateway records every call and accepts every recipient unless told
// otherwise.
type fakeGateway struct {
	mu    sync.Mutex
	calls []provider.SendRequest
	// failOn makes the n-th call (1-based) fail with err.
	failOn map[int]error
	// invalid recipients are reported as invalid numbers instead of sent.
	invalid  map[string]bool
	points   float64
	checkErr error
}

func (g *fakeGateway) Check() error { return g.checkErr }

func (g *fakeGateway) Send(_ context.Context, req provider.SendRequest) (*provider.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if err, ok := g.failOn[len(g.calls)]; ok {
		return nil, err
	}
	out := &provider.SendResult{}
	for _, r := range req.Recipients {
		if g.invalid[r] {
			out.InvalidNumbers = append(out.InvalidNumbers, provider.InvalidNumber{Number: r, Reason: "Invalid phone number"})
			continue
		}
		out.SentCount++
		out.MessageIDs = append(out.MessageIDs, "id-"+r)
		if !req.Test {
			out.TotalCost += g.points
		}
	}
	return out, nil
}

func (g *fakeGateway) Calls() []provider.SendRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]provider.SendRequest(nil), g.calls...)
}

// faultyStore fails selected operations on top of the in-memory store.
type faultyStore struct {
	*database.Memory
	failInsertUserFor map[string]bool
	failLogs          bool
	// raceOnce inserts a competing row right before the first user insert.
	raceOnce bool
}

var errBoom = errors.New("boom")

func (s *faultyStore) InsertUser(ctx context.Context, u core.User) (*core.User, error) {
	if s.failInsertUserFor[u.PhoneNumber] {
		return nil, errBoom
	}
	if s.raceOnce {
		s.raceOnce = false
		if _, err := s.Memory.InsertUser(ctx, u); err != nil {
			return nil, err
		}
	}
	return s.Memory.InsertUser(ctx, u)
}

func (s *faultyStore) InsertBulkMessageLog(ctx context.Context, l core.BulkMessageLog) error {
	if s.failLogs {
		return errBoom
	}
	return s.Memory.InsertBulkMessageLog(ctx, l)
}

func newService(t *testing.T, gw provider.Gateway, store core.Store) *core.Service {
	t.Helper()
	return core.NewService(gw, store, core.Options{PublicBaseURL: "https://sms.example.com/"}, zerolog.Nop())
}

func seedCampaign(t *testing.T, m *database.Memory, short string) string {
	t.Helper()
	c, err := m.InsertCampaign(context.Background(), core.Campaign{ShortID: short, Name: short})
	require.NoError(t, err)
	return c.ID
}

func phones(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "+42077" + leftPad(i, 7)
	}
	return out
}

func leftPad(n, width int) string {
	s := strings.Repeat("0", width)
	d := []byte(s)
	for i := width - 1; i >= 0 && n > 0; i-- {
		d[i] = byte('0' + n%10)
		n /= 10
	}
	return string(d)
}

func requireKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, apperr.KindOf(err), "error: %v", err)
}
