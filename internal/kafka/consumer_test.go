package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rewards-ledger/internal/domain"
)

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{name: "valid", value: `{"user_id":"u1","report":{"activity_id":"a1","is_full_completion":true,"total_coins":10}}`},
		{name: "not json", value: `{`, wantErr: true},
		{name: "missing user", value: `{"report":{"activity_id":"a1"}}`, wantErr: true},
		{name: "missing activity", value: `{"user_id":"u1","report":{}}`, wantErr: true},
		{name: "negative coins", value: `{"user_id":"u1","report":{"activity_id":"a1","total_coins":-1}}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeMessage([]byte(tt.value))
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidRequest) {
					t.Fatalf("want ErrInvalidRequest, got=%v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeMessage: %v", err)
			}
			if msg.UserID != "u1" || msg.Report.ActivityID != "a1" || msg.Report.TotalCoins != 10 {
				t.Fatalf("decoded: %+v", msg)
			}
		})
	}
}

type call struct {
	actor, user, activity string
}

type fakeProcessor struct {
	mu     sync.Mutex
	calls  []call
	failN  map[string]int
	failBy error
}

func (f *fakeProcessor) ProcessCompletion(_ context.Context, actorID, userID string, r domain.CompletionReport) (domain.CompletionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{actorID, userID, r.ActivityID})
	if f.failN[r.ActivityID] > 0 {
		f.failN[r.ActivityID]--
		return domain.CompletionResult{}, f.failBy
	}
	return domain.CompletionResult{Outcome: domain.OutcomeNewProgress}, nil
}

func (f *fakeProcessor) callsFor(user string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if c.user == user {
			out = append(out, c.activity)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func msg(user, activity string) CompletionMessage {
	return CompletionMessage{UserID: user, Report: domain.CompletionReport{ActivityID: activity}}
}

func TestBatchKeepsPerUserOrderAndActsAsUser(t *testing.T) {
	p := &fakeProcessor{}
	b := newBatchProcessor(p, 1, 0, testLogger())

	b.process(context.Background(), []CompletionMessage{
		msg("u1", "a1"), msg("u2", "b1"), msg("u1", "a2"), msg("u2", "b2"), msg("u1", "a3"),
	})

	got := p.callsFor("u1")
	if len(got) != 3 || got[0] != "a1" || got[1] != "a2" || got[2] != "a3" {
		t.Fatalf("u1 order: %v", got)
	}
	if got := p.callsFor("u2"); len(got) != 2 || got[0] != "b1" || got[1] != "b2" {
		t.Fatalf("u2 order: %v", got)
	}
	for _, c := range p.calls {
		if c.actor != c.user {
			t.Fatalf("actor %q processed for %q", c.actor, c.user)
		}
	}
}

func TestBatchRetriesTransientErrors(t *testing.T) {
	p := &fakeProcessor{failN: map[string]int{"a1": 2}, failBy: domain.ErrConflict}
	b := newBatchProcessor(p, 3, time.Millisecond, testLogger())

	b.process(context.Background(), []CompletionMessage{msg("u1", "a1")})

	if n := len(p.callsFor("u1")); n != 3 {
		t.Fatalf("want 3 attempts, got=%d", n)
	}
}

func TestBatchDoesNotRetryValidationErrors(t *testing.T) {
	p := &fakeProcessor{failN: map[string]int{"a1": 5}, failBy: domain.ErrInvalidRequest}
	b := newBatchProcessor(p, 3, time.Millisecond, testLogger())

	b.process(context.Background(), []CompletionMessage{msg("u1", "a1"), msg("u1", "a2")})

	got := p.callsFor("u1")
	if len(got) != 2 || got[0] != "a1" || got[1] != "a2" {
		t.Fatalf("calls: %v", got)
	}
}

func TestRetryableMessageError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{domain.ErrConflict, true},
		{errors.New("connection reset"), true},
		{domain.ErrInvalidRequest, false},
		{domain.ErrInsufficientFunds, false},
		{domain.ErrUnauthorizedActor, false},
		{domain.ErrProgressNotFound, false},
	}
	for _, tt := range tests {
		if got := retryableMessageError(tt.err); got != tt.want {
			t.Fatalf("%v: want=%v got=%v", tt.err, tt.want, got)
		}
	}
}
