package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentSubscription_GrantsAccess(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name string
		sub  AgentSubscription
		want bool
	}{
		{name: "active", sub: AgentSubscription{Status: SubscriptionActive}, want: true},
		{name: "trialing", sub: AgentSubscription{Status: SubscriptionTrialing}, want: true},
		{name: "past due without trial", sub: AgentSubscription{Status: SubscriptionPastDue}, want: false},
		{name: "canceled with future trial end", sub: AgentSubscription{Status: SubscriptionCanceled, TrialEnd: &future}, want: true},
		{name: "canceled with expired trial end", sub: AgentSubscription{Status: SubscriptionCanceled, TrialEnd: &past}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.GrantsAccess(now))
		})
	}
}

func TestParseSubscriptionStatus(t *testing.T) {
	assert.Equal(t, SubscriptionActive, ParseSubscriptionStatus("active"))
	assert.Equal(t, SubscriptionTrialing, ParseSubscriptionStatus("trialing"))
	assert.Equal(t, SubscriptionPastDue, ParseSubscriptionStatus("unpaid"))
	assert.Equal(t, SubscriptionPastDue, ParseSubscriptionStatus("incomplete"))
	assert.Equal(t, SubscriptionCanceled, ParseSubscriptionStatus("incomplete_expired"))
	assert.Equal(t, SubscriptionCanceled, ParseSubscriptionStatus("paused"))
}

func TestUser_TrialAndGrants(t *testing.T) {
	now := time.Now()
	trial := now.Add(24 * time.Hour)
	u := User{SubscribedAgents: []string{"crisp-write"}, TrialEndsAt: &trial}

	assert.True(t, u.HasGrant("crisp-write"))
	assert.False(t, u.HasGrant("sop-assistant"))
	assert.True(t, u.InTrial(now))
	assert.False(t, u.InTrial(trial.Add(time.Second)))

	u.TrialEndsAt = nil
	assert.False(t, u.InTrial(now))
}

func TestOrder_CartItems(t *testing.T) {
	o := Order{Items: `[{"id":"crisp-write","name":"CrispWrite","price":"24.00","quantity":2}]`}
	items, err := o.CartItems()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "crisp-write", items[0].ID)
	assert.Equal(t, 2, items[0].Quantity)

	o.Items = "not-json"
	_, err = o.CartItems()
	assert.Error(t, err)
}
