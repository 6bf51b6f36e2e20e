package ctxutil

import (
	"context"
	"log/slog"
	"testing"
)

func TestRequestID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		setup  func() context.Context
		wantID string
		wantOK bool
	}{
		{
			name:   "empty context",
			setup:  context.Background,
			wantID: "",
			wantOK: false,
		},
		{
			name: "with request ID",
			setup: func() context.Context {
				return WithRequestID(context.Background(), "req-123")
			},
			wantID: "req-123",
			wantOK: true,
		},
		{
			name: "overwrite request ID",
			setup: func() context.Context {
				ctx := WithRequestID(context.Background(), "req-123")
				return WithRequestID(ctx, "req-456")
			},
			wantID: "req-456",
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := tt.setup()
			gotID, gotOK := RequestID(ctx)
			if gotID != tt.wantID {
				t.Errorf("RequestID() id = %v, want %v", gotID, tt.wantID)
			}
			if gotOK != tt.wantOK {
				t.Errorf("RequestID() ok = %v, want %v", gotOK, tt.wantOK)
			}
		})
	}
}

func TestIdentity(t *testing.T) {
	t.Parallel()

	if _, ok := GetIdentity(context.Background()); ok {
		t.Error("GetIdentity() on empty context should report false")
	}

	want := Identity{Subject: "user-1", Email: "alice@example.com", Audience: "my-service"}
	got, ok := GetIdentity(WithIdentity(context.Background(), want))
	if !ok {
		t.Fatal("GetIdentity() ok = false, want true")
	}
	if got != want {
		t.Errorf("GetIdentity() = %+v, want %+v", got, want)
	}
}

func TestLogAttrs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		setup    func() context.Context
		wantKeys []string
	}{
		{
			name:     "empty context",
			setup:    context.Background,
			wantKeys: nil,
		},
		{
			name: "request ID only",
			setup: func() context.Context {
				return WithRequestID(context.Background(), "req-1")
			},
			wantKeys: []string{"request_id"},
		},
		{
			name: "request ID and partial identity",
			setup: func() context.Context {
				ctx := WithRequestID(context.Background(), "req-1")
				return WithIdentity(ctx, Identity{Email: "alice@example.com"})
			},
			wantKeys: []string{"request_id", "email"},
		},
		{
			name: "full identity",
			setup: func() context.Context {
				return WithIdentity(context.Background(), Identity{Subject: "s", Email: "e", Audience: "a"})
			},
			wantKeys: []string{"subject", "email", "audience"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			attrs := LogAttrs(tt.setup())
			if len(attrs) != len(tt.wantKeys) {
				t.Fatalf("LogAttrs() returned %d attrs, want %d", len(attrs), len(tt.wantKeys))
			}
			for i, a := range attrs {
				attr, ok := a.(slog.Attr)
				if !ok {
					t.Fatalf("attr %d has type %T, want slog.Attr", i, a)
				}
				if attr.Key != tt.wantKeys[i] {
					t.Errorf("attr %d key = %q, want %q", i, attr.Key, tt.wantKeys[i])
				}
			}
		})
	}
}
