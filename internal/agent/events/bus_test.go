package events

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"tokenwatch/pkg/model"
)

type recorder struct {
	mu     sync.Mutex
	events []model.TokenEvent
	err    error
}

func (r *recorder) Deliver(e model.TokenEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func expired(id string) model.TokenEvent {
	now := time.Now()
	return NewExpired(id, id, now, now)
}

func TestBus_NoSinkKeepsHistory(t *testing.T) {
	b := NewBus(3, zap.NewNop())
	for i := 0; i < 5; i++ {
		b.Emit(expired(fmt.Sprintf("s%d", i)))
	}
	h := b.History()
	if len(h) != 3 {
		t.Fatalf("history len = %d; want 3", len(h))
	}
	for i, want := range []string{"s2", "s3", "s4"} {
		if h[i].SystemID != want {
			t.Errorf("history[%d] = %s; want %s", i, h[i].SystemID, want)
		}
	}
	if _, dropped := b.Stats(); dropped != 5 {
		t.Errorf("dropped = %d; want 5", dropped)
	}
}

func TestBus_SingleSinkReplace(t *testing.T) {
	b := NewBus(10, zap.NewNop())
	first, second := &recorder{}, &recorder{}

	unsubFirst := b.Subscribe(first)
	b.Emit(expired("a"))
	b.Subscribe(second)
	b.Emit(expired("b"))

	if first.Len() != 1 || second.Len() != 1 {
		t.Fatalf("first=%d second=%d; want 1/1", first.Len(), second.Len())
	}

	// 旧订阅的取消不能影响新消费者
	unsubFirst()
	if !b.HasSink() {
		t.Fatal("stale unsubscribe removed the current sink")
	}
	b.Emit(expired("c"))
	if second.Len() != 2 {
		t.Errorf("second = %d; want 2", second.Len())
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus(10, zap.NewNop())
	r := &recorder{}
	unsub := b.Subscribe(r)
	unsub()
	b.Emit(expired("a"))
	if r.Len() != 0 {
		t.Error("unsubscribed sink must not receive events")
	}
}

func TestBus_UnsubscribeRestoresReplacedSink(t *testing.T) {
	b := NewBus(10, zap.NewNop())
	report, ws := &recorder{}, &recorder{}

	b.Subscribe(report)
	unsubWS := b.Subscribe(ws)
	b.Emit(expired("a"))
	unsubWS()
	unsubWS()
	b.Emit(expired("b"))

	if !b.HasSink() {
		t.Fatal("replaced sink was not restored")
	}
	if report.Len() != 1 || ws.Len() != 1 {
		t.Errorf("report=%d ws=%d; want 1/1", report.Len(), ws.Len())
	}
	if _, dropped := b.Stats(); dropped != 0 {
		t.Errorf("dropped = %d; want 0", dropped)
	}
}

func TestBus_RestoreSkipsCancelledSinks(t *testing.T) {
	b := NewBus(10, zap.NewNop())
	base, first, second := &recorder{}, &recorder{}, &recorder{}

	b.Subscribe(base)
	unsubFirst := b.Subscribe(first)
	unsubSecond := b.Subscribe(second)

	// first 已被顶替时取消，之后不能再被恢复
	unsubFirst()
	unsubSecond()
	b.Emit(expired("a"))

	if base.Len() != 1 || first.Len() != 0 || second.Len() != 0 {
		t.Errorf("base=%d first=%d second=%d; want 1/0/0", base.Len(), first.Len(), second.Len())
	}
}

func TestBus_DeliveryFailureIsNonFatal(t *testing.T) {
	var seen []string
	b := NewBus(10, zap.NewNop(),
		func(e model.TokenEvent) { panic("boom") },
		func(e model.TokenEvent) { seen = append(seen, e.SystemID) },
	)
	b.Subscribe(&recorder{err: errors.New("closed")})
	b.Emit(expired("a"))
	b.Emit(expired("b"))

	if len(seen) != 2 {
		t.Errorf("observer after a panicking one saw %v", seen)
	}
	if delivered, dropped := b.Stats(); delivered != 0 || dropped != 2 {
		t.Errorf("delivered=%d dropped=%d", delivered, dropped)
	}
	if len(b.History()) != 2 {
		t.Error("history must keep undelivered events")
	}
}

func TestNewAcquired(t *testing.T) {
	now := time.Now()
	e := NewAcquired("user_center", "用户中心", "tok", now, now.Add(2*time.Hour), "http://user.example.com/api")
	if e.ID == "" || e.Kind != model.EventAcquired {
		t.Fatalf("event = %+v", e)
	}
	if e.ExpiresAt.Sub(*e.AcquiredAt) != 2*time.Hour {
		t.Errorf("expires-acquired = %v", e.ExpiresAt.Sub(*e.AcquiredAt))
	}
	if other := NewAcquired("x", "x", "t", now, now, ""); other.ID == e.ID {
		t.Error("event ids must be unique")
	}
}
