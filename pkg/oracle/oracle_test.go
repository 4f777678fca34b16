package oracle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeSource struct {
	name  string
	price float64
	err   error
	calls int
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Fetch(_ context.Context) (float64, error) {
	s.calls++
	return s.price, s.err
}

func TestFallbackOrder(t *testing.T) {
	down := &fakeSource{name: "pool", err: errors.New("rpc down")}
	feed := &fakeSource{name: "feed", price: 3000}
	last := &fakeSource{name: "static", price: 1}

	o := New(nil, down, feed, last)

	price, err := o.CurrentPrice(context.Background())
	if err != nil {
		t.Fatalf("CurrentPrice: %v", err)
	}
	if price != 3000 {
		t.Errorf("price = %v, want 3000", price)
	}
	if down.calls != 1 {
		t.Errorf("failed source tried %d times, want 1", down.calls)
	}
	if last.calls != 0 {
		t.Error("later source tried after success")
	}
}

func TestExhaustionReturnsErrNoPrice(t *testing.T) {
	a := &fakeSource{name: "a", err: errors.New("down")}
	b := &fakeSource{name: "b", err: errors.New("down")}

	o := New(nil, a, b)

	_, err := o.CurrentPrice(context.Background())
	if !errors.Is(err, ErrNoPrice) {
		t.Errorf("err = %v, want ErrNoPrice", err)
	}
}

func TestHTTPSource(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		want    float64
		wantErr bool
	}{
		{"numeric price", `{"price": 2950.5}`, 200, 2950.5, false},
		{"string price", `{"price": "3100"}`, 200, 3100, false},
		{"missing field", `{"px": 1}`, 200, 0, true},
		{"server error", `{}`, 500, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			src := NewFeedSource(srv.URL)
			got, err := src.Fetch(context.Background())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if got != tt.want {
				t.Errorf("price = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStaticSourceNeverFails(t *testing.T) {
	src := &StaticSource{Price: 42}
	got, err := src.Fetch(context.Background())
	if err != nil || got != 42 {
		t.Errorf("Fetch() = %v, %v; want 42, nil", got, err)
	}
}

func TestRandomWalkStaysPositive(t *testing.T) {
	src := NewRandomWalkSource(100, 60)
	for i := 0; i < 200; i++ {
		p, err := src.Fetch(context.Background())
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if p <= 0 {
			t.Fatalf("price went non-positive: %v", p)
		}
	}
}
