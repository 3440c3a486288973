package pubsub

import (
	"context"
	"testing"

	"github.com/angelmondragon/settlement-engine/pkg/config"
)

func TestConfiguredNamesSkipsBlank(t *testing.T) {
	cfg := config.PubSubConfig{
		OrdersSubscription:     " orders-sub ",
		SettlementSubscription: "",
		NotificationTopic:      "notifications",
		SettlementTopic:        "  ",
	}

	subs := configuredNames(cfg, kindSubscription)
	if len(subs) != 1 || subs[0] != "orders-sub" {
		t.Fatalf("unexpected subscriptions %v", subs)
	}
	topics := configuredNames(cfg, kindTopic)
	if len(topics) != 1 || topics[0] != "notifications" {
		t.Fatalf("unexpected topics %v", topics)
	}
}

func TestResourceName(t *testing.T) {
	c := &Client{projectID: "proj"}

	cases := []struct {
		kind resourceKind
		in   string
		want string
	}{
		{kindSubscription, "orders-sub", "projects/proj/subscriptions/orders-sub"},
		{kindSubscription, "projects/other/subscriptions/x", "projects/other/subscriptions/x"},
		{kindTopic, "settlement-events", "projects/proj/topics/settlement-events"},
		{kindTopic, "projects/other/subscriptions/x", "projects/proj/topics/projects/other/subscriptions/x"},
		{kindTopic, "  ", ""},
	}
	for _, tc := range cases {
		if got := c.resourceName(tc.kind, tc.in); got != tc.want {
			t.Fatalf("resourceName(%s, %q) = %q, want %q", tc.kind, tc.in, got, tc.want)
		}
	}

	if got := (&Client{}).resourceName(kindTopic, "t"); got != "" {
		t.Fatalf("expected empty name without project, got %q", got)
	}
}

func TestNilClientHandles(t *testing.T) {
	var c *Client
	if c.Publisher("t") != nil || c.Subscription("s") != nil {
		t.Fatalf("expected nil handles from nil client")
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping error from nil client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close nil client: %v", err)
	}
}
