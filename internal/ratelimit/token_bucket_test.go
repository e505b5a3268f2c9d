package ratelimit

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestNewRedisTokenBucketValidates(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	invalid := []struct {
		name   string
		client redis.UniversalClient
		cfg    Config
	}{
		{name: "nil client", cfg: Config{Capacity: 10, Window: time.Minute}},
		{name: "zero capacity", client: client, cfg: Config{Window: time.Minute}},
		{name: "zero window", client: client, cfg: Config{Capacity: 10}},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRedisTokenBucket(tc.client, tc.cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	l, err := NewRedisTokenBucket(client, Config{Capacity: 10, Window: time.Minute, KeyPrefix: " "})
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}
	if got := l.key("  "); got != DefaultKeyPrefix+":anonymous" {
		t.Fatalf("unexpected key %q", got)
	}
	if l.ttl != 2*time.Minute {
		t.Fatalf("expected ttl of two windows, got %s", l.ttl)
	}
}

func TestClampCost(t *testing.T) {
	cases := []struct {
		cost int
		want int64
	}{
		{cost: -3, want: 1},
		{cost: 0, want: 1},
		{cost: 7, want: 7},
		{cost: 500, want: 60},
	}
	for _, tc := range cases {
		if got := clampCost(tc.cost, 60); got != tc.want {
			t.Fatalf("clampCost(%d): expected %d, got %d", tc.cost, tc.want, got)
		}
	}
}

func TestParseReply(t *testing.T) {
	d, err := parseReply([]any{int64(0), int64(2), int64(1500)})
	if err != nil {
		t.Fatalf("parse reply: %v", err)
	}
	if d.Allowed || d.Remaining != 2 || d.RetryAfter != 1500*time.Millisecond {
		t.Fatalf("unexpected decision %+v", d)
	}

	if _, err := parseReply([]any{int64(1), "x", int64(0)}); err == nil {
		t.Fatal("expected error for non-numeric field")
	}
	if _, err := parseReply("OK"); err == nil {
		t.Fatal("expected error for malformed reply")
	}
}

func TestToInt64(t *testing.T) {
	for _, in := range []any{int64(4), 4, float64(4), "4"} {
		got, err := toInt64(in)
		if err != nil || got != 4 {
			t.Fatalf("toInt64(%T): got %d err=%v", in, got, err)
		}
	}
	if _, err := toInt64([]byte("4")); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}
