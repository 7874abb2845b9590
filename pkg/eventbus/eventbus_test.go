package eventbus

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/iota-fleet/pkg/logging"
)

type args struct {
	data any
}

func bufferLogger(level logrus.Level) (*logrus.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	log := logrus.New()
	log.SetOutput(buf)
	log.SetLevel(level)
	return log, buf
}

func TestPublisher_Publish_NoMatch(t *testing.T) {
	type other struct{}
	log, buf := bufferLogger(logrus.WarnLevel)
	publisher := NewEventPublisher(log)
	publisher.Subscribe(func(e *args) {
		t.Error("should not be called")
	})
	publisher.Publish(&other{})

	if !strings.Contains(buf.String(), "eventbus.Publish: no matching subscribers") {
		t.Errorf("expected no-subscriber warning, got: %q", buf.String())
	}
}

func TestPublisher_Subscribe(t *testing.T) {
	publisher := NewEventPublisher(logging.ConsoleLogger(logrus.WarnLevel))
	var got any
	publisher.Subscribe(func(e *args) {
		got = e.data
	})
	publisher.Publish(&args{data: "test"})
	if got != "test" {
		t.Errorf("expected: %v, got: %v", "test", got)
	}
}

func TestMatchSignature(t *testing.T) {
	type other struct{}
	cases := []struct {
		name    string
		handler any
		args    []any
		want    bool
	}{
		{name: "exact pointer", handler: func(e *args) {}, args: []any{&args{}}, want: true},
		{name: "wrong type", handler: func(e *args) {}, args: []any{&other{}}, want: false},
		{name: "too few", handler: func(e *args) {}, args: []any{}, want: false},
		{name: "too many", handler: func(e *args) {}, args: []any{&args{}, &args{}}, want: false},
		{name: "interface param", handler: func(ctx context.Context) {}, args: []any{context.Background()}, want: true},
		{name: "nil into pointer", handler: func(e *args) {}, args: []any{nil}, want: true},
		{name: "nil into value", handler: func(n int) {}, args: []any{nil}, want: false},
		{name: "not a func", handler: 42, args: []any{}, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MatchSignature(tc.handler, tc.args); got != tc.want {
				t.Fatalf("MatchSignature=%v, want %v", got, tc.want)
			}
		})
	}
}

func TestPublisher_PanicRecovery(t *testing.T) {
	t.Parallel()

	log, buf := bufferLogger(logrus.ErrorLevel)
	publisher := NewEventPublisher(log)

	before, after := false, false
	publisher.Subscribe(func(e *args) { before = true })
	publisher.Subscribe(func(e *args) { panic("intentional panic for testing") })
	publisher.Subscribe(func(e *args) { after = true })

	publisher.Publish(&args{data: "important-data"})

	if !before || !after {
		t.Fatalf("non-panicking handlers must run: before=%v after=%v", before, after)
	}
	output := buf.String()
	if !strings.Contains(output, "panicked") || !strings.Contains(output, "intentional panic for testing") {
		t.Errorf("panic should have been logged, got: %q", output)
	}
}

func TestPublisher_PublishE(t *testing.T) {
	t.Parallel()

	t.Run("returns ErrNoSubscribers when none match", func(t *testing.T) {
		publisher := NewEventPublisher(logrus.New())
		if err := publisher.PublishE(&args{data: "x"}); !errors.Is(err, ErrNoSubscribers) {
			t.Fatalf("expected ErrNoSubscribers, got: %v", err)
		}
	})

	t.Run("returns joined errors from multiple handlers", func(t *testing.T) {
		publisher := NewEventPublisher(logrus.New())
		err1 := errors.New("err1")
		err2 := errors.New("err2")
		publisher.Subscribe(func(e *args) error { return err1 })
		publisher.Subscribe(func(e *args) error { return err2 })

		err := publisher.PublishE(&args{data: "x"})
		if !errors.Is(err, err1) || !errors.Is(err, err2) {
			t.Fatalf("expected joined errors, got: %v", err)
		}
	})

	t.Run("nil error return is success", func(t *testing.T) {
		publisher := NewEventPublisher(nil)
		publisher.Subscribe(func(e *args) error { return nil })
		if err := publisher.PublishE(&args{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("panic is surfaced as error and other handlers still run", func(t *testing.T) {
		publisher := NewEventPublisher(nil)
		called := false
		publisher.Subscribe(func(e *args) error { panic("boom") })
		publisher.Subscribe(func(e *args) error { called = true; return nil })

		if err := publisher.PublishE(&args{data: "x"}); err == nil {
			t.Fatalf("expected error")
		}
		if !called {
			t.Fatalf("expected non-panicking handler to be called")
		}
	})

	t.Run("invalid handler return is surfaced as ErrInvalidHandlerReturn", func(t *testing.T) {
		publisher := NewEventPublisher(nil)
		publisher.Subscribe(func(e *args) int { return 1 })

		if err := publisher.PublishE(&args{data: "x"}); !errors.Is(err, ErrInvalidHandlerReturn) {
			t.Fatalf("expected ErrInvalidHandlerReturn, got: %v", err)
		}
	})
}

func TestPublisher_UnsubscribeAndClear(t *testing.T) {
	publisher := NewEventPublisher(nil)
	h1 := func(e *args) {}
	h2 := func(e *args) {}
	publisher.Subscribe(h1)
	publisher.Subscribe(h2)
	if publisher.SubscribersCount() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", publisher.SubscribersCount())
	}
	publisher.Unsubscribe(h1)
	if publisher.SubscribersCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", publisher.SubscribersCount())
	}
	publisher.Clear()
	if publisher.SubscribersCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", publisher.SubscribersCount())
	}
}

func TestPublisher_ConcurrentPublish(t *testing.T) {
	publisher := NewEventPublisher(nil)
	var mu sync.Mutex
	count := 0
	publisher.Subscribe(func(e *args) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = publisher.PublishE(&args{})
		}()
	}
	wg.Wait()
	if count != 20 {
		t.Fatalf("expected 20 deliveries, got %d", count)
	}
}
