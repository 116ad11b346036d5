package memory

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

func TestConversation_AppendTruncate(t *testing.T) {
	c := NewConversation("s1", "preamble")
	c.Append(RoleUser, "hello")
	c.Append(RoleModel, `{"type":"output","output":"hi"}`)

	if c.Len() != 3 || c.Messages[0].Role != RoleSystem {
		t.Fatalf("messages = %+v", c.Messages)
	}

	c.Truncate(1)
	if c.Len() != 1 || c.Messages[0].Content != "preamble" {
		t.Errorf("after Truncate(1) = %+v", c.Messages)
	}
	c.Truncate(5) // no-op past the end
	if c.Len() != 1 {
		t.Errorf("Truncate past end changed length to %d", c.Len())
	}
}

func TestConversation_CloneIsDeep(t *testing.T) {
	c := NewConversation("s1", "preamble")
	cp := c.Clone()
	cp.Append(RoleUser, "x")
	cp.Messages[0].Content = "mutated"

	if c.Len() != 1 || c.Messages[0].Content != "preamble" {
		t.Errorf("original changed: %+v", c.Messages)
	}
}

func TestConversation_TrimKeepsSystem(t *testing.T) {
	c := NewConversation("s1", "preamble")
	for i := range 30 {
		c.Append(RoleUser, fmt.Sprintf("m%d", i))
	}

	c.Trim(15)
	if c.Len() != 15 {
		t.Fatalf("len = %d, want 15", c.Len())
	}
	if c.Messages[0].Role != RoleSystem {
		t.Error("system preamble was trimmed")
	}
	if last := c.Messages[c.Len()-1].Content; last != "m29" {
		t.Errorf("last = %q, want m29", last)
	}

	c.Trim(3) // floor of ten recent messages
	if c.Len() != 11 {
		t.Errorf("len = %d, want 11 (system + 10)", c.Len())
	}
}

func TestConversation_TrimStartsAtUserTurn(t *testing.T) {
	tests := []struct {
		name      string
		build     func(c *Conversation)
		max       int
		wantFirst string
		wantLen   int
	}{
		{
			name: "drops orphaned observation and reply",
			build: func(c *Conversation) {
				for i := range 4 {
					c.Append(RoleUser, fmt.Sprintf("u%d", i))
					c.Append(RoleModel, "action")
					c.AppendObservation("obs")
					c.Append(RoleModel, "output")
				}
			},
			// 16 messages, keep 10: window opens on u1's observation.
			max:       11,
			wantFirst: "u2",
			wantLen:   1 + 8,
		},
		{
			name: "failed turn leaves odd count",
			build: func(c *Conversation) {
				for i := range 6 {
					c.Append(RoleUser, fmt.Sprintf("u%d", i))
					c.Append(RoleModel, "output")
				}
				c.Append(RoleUser, "u6") // no reply
			},
			// 13 messages, keep 10: window would open on u1's reply.
			max:       11,
			wantFirst: "u2",
			wantLen:   1 + 9,
		},
		{
			name: "window already aligned",
			build: func(c *Conversation) {
				for i := range 6 {
					c.Append(RoleUser, fmt.Sprintf("u%d", i))
					c.Append(RoleModel, "output")
				}
			},
			max:       11,
			wantFirst: "u1",
			wantLen:   11,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConversation("s1", "preamble")
			tt.build(c)
			c.Trim(tt.max)

			if c.Messages[0].Role != RoleSystem {
				t.Fatal("system preamble was trimmed")
			}
			if c.Len() != tt.wantLen {
				t.Errorf("len = %d, want %d", c.Len(), tt.wantLen)
			}
			first := c.Messages[1]
			if first.Role != RoleUser || first.Observation || first.Content != tt.wantFirst {
				t.Errorf("first kept = %+v, want user turn %q", first, tt.wantFirst)
			}
		})
	}
}

func TestMemStore_GetPutDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(time.Hour, 0, nil)

	got, err := s.Get(ctx, "missing")
	if err != nil || got != nil {
		t.Fatalf("Get(missing) = %v, %v; want nil, nil", got, err)
	}

	c := NewConversation("s1", "preamble")
	c.Append(RoleUser, "hello")
	if err := s.Put(ctx, c); err != nil {
		t.Fatal(err)
	}

	c.Append(RoleUser, "not saved")
	got, _ = s.Get(ctx, "s1")
	if got == nil || got.Len() != 2 {
		t.Fatalf("Get(s1) = %+v, want 2 messages", got)
	}

	got.Append(RoleUser, "local only")
	again, _ := s.Get(ctx, "s1")
	if again.Len() != 2 {
		t.Error("mutating a returned conversation leaked into the store")
	}

	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	s.Delete(ctx, "s1")
	if got, _ := s.Get(ctx, "s1"); got != nil {
		t.Error("conversation survived Delete")
	}
}

func TestMemStore_TTLEviction(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemStore(time.Hour, 0, nil)
	s.now = func() time.Time { return now }

	s.Put(ctx, NewConversation("old", "p"))
	now = now.Add(50 * time.Minute)
	s.Put(ctx, NewConversation("fresh", "p"))
	now = now.Add(20 * time.Minute)

	if got, _ := s.Get(ctx, "old"); got != nil {
		t.Error("expired session still returned by Get")
	}
	if got, _ := s.Get(ctx, "fresh"); got == nil {
		t.Error("live session missing")
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	if n := s.Evict(); n != 1 {
		t.Errorf("Evict = %d, want 1", n)
	}
	if len(s.conversations) != 1 {
		t.Errorf("map size = %d after eviction", len(s.conversations))
	}
}

func TestMemStore_RunStopsOnCancel(t *testing.T) {
	s := NewMemStore(time.Hour, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("TODOAGENT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("TODOAGENT_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	s, err := NewRedisStore(ctx, url, time.Minute, 0)
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	defer s.Close()

	id := fmt.Sprintf("test-%d", time.Now().UnixNano())
	defer s.Delete(ctx, id)

	c := NewConversation(id, "preamble")
	c.Append(RoleUser, "hello")
	if err := s.Put(ctx, c); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if got.Len() != 2 || got.Messages[1].Content != "hello" {
		t.Errorf("round trip lost messages: %+v", got.Messages)
	}
	ttl, err := s.client.TTL(ctx, redisKey(id)).Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, %v; want within 1m", ttl, err)
	}
}
