package activitymap_test

import (
	"context"
	"testing"
	"time"

	auth "github.com/goliatone/go-session-auth"
	"github.com/goliatone/go-session-auth/activitymap"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := auth.ActivityEvent{
		EventType: auth.ActivityEventLogout,
		UserID:    "100",
		TokenID:   "jti-1",
		Metadata: map[string]any{
			"type": "access",
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	if out.ActorID != "100" {
		t.Fatalf("expected actor_id 100, got %q", out.ActorID)
	}
	if out.Verb != string(auth.ActivityEventLogout) {
		t.Fatalf("expected verb %q, got %q", auth.ActivityEventLogout, out.Verb)
	}
	if out.ObjectType != "user" {
		t.Fatalf("expected object_type user, got %q", out.ObjectType)
	}
	if out.ObjectID != "100" {
		t.Fatalf("expected object_id 100, got %q", out.ObjectID)
	}
	if out.Channel != "auth" {
		t.Fatalf("expected channel auth, got %q", out.Channel)
	}
	if !out.OccurredAt.Equal(ts) {
		t.Fatalf("expected occurred_at %v, got %v", ts, out.OccurredAt)
	}
	if out.Metadata["type"] != "access" {
		t.Fatalf("expected metadata type access, got %#v", out.Metadata["type"])
	}
	if out.Metadata[activitymap.MetadataKeyTokenID] != "jti-1" {
		t.Fatalf("expected metadata jti jti-1, got %#v", out.Metadata[activitymap.MetadataKeyTokenID])
	}

	if len(event.Metadata) != 1 {
		t.Fatalf("expected source metadata to remain unchanged, got %+v", event.Metadata)
	}
}

func TestNormalizeOptionOverrides(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	event := auth.ActivityEvent{
		EventType: auth.ActivityEventUserDeleted,
		UserID:    "200",
		Metadata: map[string]any{
			activitymap.MetadataKeyActorID: "1",
			"email_domain":                 "example.com",
		},
	}

	out := activitymap.Normalize(
		event,
		activitymap.WithDefaultChannel("security"),
		activitymap.WithDefaultObjectType("account"),
		activitymap.WithClock(func() time.Time { return now }),
		activitymap.WithObjectIDResolver(func(e auth.ActivityEvent) string {
			return "account-" + e.UserID
		}),
	)

	if out.ActorID != "1" {
		t.Fatalf("expected actor from metadata, got %q", out.ActorID)
	}
	if out.Channel != "security" {
		t.Fatalf("expected channel security, got %q", out.Channel)
	}
	if out.ObjectType != "account" {
		t.Fatalf("expected object_type account, got %q", out.ObjectType)
	}
	if out.ObjectID != "account-200" {
		t.Fatalf("expected object_id account-200, got %q", out.ObjectID)
	}
	if _, ok := out.Metadata[activitymap.MetadataKeyActorID]; ok {
		t.Fatalf("expected actor_id to be lifted out of metadata, got %+v", out.Metadata)
	}
	if !out.OccurredAt.Equal(now) {
		t.Fatalf("expected occurred_at from clock, got %v", out.OccurredAt)
	}
}

func TestNormalizeActorFallbackChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		event  auth.ActivityEvent
		opts   []activitymap.Option
		expect string
	}{
		{
			name: "uses metadata actor when present",
			event: auth.ActivityEvent{
				UserID:   "2",
				Metadata: map[string]any{activitymap.MetadataKeyActorID: "1"},
			},
			expect: "1",
		},
		{
			name:   "uses user id when actor missing",
			event:  auth.ActivityEvent{UserID: "2"},
			expect: "2",
		},
		{
			name:   "uses default fallback when actor and user missing",
			event:  auth.ActivityEvent{},
			expect: "system",
		},
		{
			name:   "uses configured fallback when actor and user missing",
			event:  auth.ActivityEvent{},
			opts:   []activitymap.Option{activitymap.WithActorFallback("job")},
			expect: "job",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out := activitymap.Normalize(tc.event, tc.opts...)
			if out.ActorID != tc.expect {
				t.Fatalf("expected actor_id %q, got %q", tc.expect, out.ActorID)
			}
		})
	}
}

func TestNewSink(t *testing.T) {
	t.Parallel()

	var got []activitymap.Normalized
	sink := activitymap.NewSink(func(_ context.Context, record activitymap.Normalized) error {
		got = append(got, record)
		return nil
	}, activitymap.WithDefaultChannel("audit"))

	err := sink.Record(context.Background(), auth.ActivityEvent{
		EventType: auth.ActivityEventUserRegistered,
		UserID:    "7",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Verb != string(auth.ActivityEventUserRegistered) || got[0].Channel != "audit" {
		t.Fatalf("unexpected records %+v", got)
	}
	if got[0].Metadata != nil {
		t.Fatalf("expected nil metadata, got %+v", got[0].Metadata)
	}
}
