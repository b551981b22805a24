package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePushPayloadMalformed(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(DefaultPushPayload(), ParsePushPayload(nil))
	assert.Equal(DefaultPushPayload(), ParsePushPayload([]byte(`{{{`)))
}

func TestParsePushPayloadFillsDefaults(t *testing.T) {
	assert := assert.New(t)

	p := ParsePushPayload([]byte(`{"title":"Campaign sent","silent":true}`))
	assert.Equal("Campaign sent", p.Title)
	assert.True(p.Silent)
	assert.Equal("You have a new update", p.Body)
	assert.Equal("/icons/icon-192.png", p.Icon)
	assert.Equal("/icons/badge-72.png", p.Badge)
	assert.Equal([]int{100, 50, 100}, p.Vibrate)
}

func TestParsePushPayloadKeepsGivenFields(t *testing.T) {
	assert := assert.New(t)

	p := ParsePushPayload([]byte(`{
		"title": "New lead",
		"body": "Someone filled the funnel form",
		"icon": "/custom.png",
		"requireInteraction": true,
		"vibrate": [200],
		"data": {"url": "/crm/leads/7"},
		"actions": [{"action": "view", "title": "View lead"}]
	}`))

	assert.Equal("New lead", p.Title)
	assert.Equal("/custom.png", p.Icon)
	assert.True(p.RequireInteraction)
	assert.Equal([]int{200}, p.Vibrate)
	assert.Equal("/crm/leads/7", p.Data["url"])
	assert.Equal("view", p.Actions[0].Action)
}

func TestRouteNotificationClick(t *testing.T) {
	assert := assert.New(t)

	p := &PushPayload{Data: map[string]interface{}{"url": "/crm/leads/7"}}

	// dismiss closes without navigation
	assert.Equal(ClickDecision{Dismiss: true}, RouteNotificationClick("dismiss", p, nil))

	// a matching open client gets focused
	got := RouteNotificationClick("view", p, []string{"/dashboard", "/crm/leads/7"})
	assert.Equal(ClickDecision{FocusExisting: true, TargetURL: "/crm/leads/7"}, got)

	// no matching client opens a new window
	got = RouteNotificationClick("view", p, []string{"/dashboard"})
	assert.Equal(ClickDecision{TargetURL: "/crm/leads/7"}, got)

	// missing data falls back to the root
	got = RouteNotificationClick("", &PushPayload{}, nil)
	assert.Equal(ClickDecision{TargetURL: "/"}, got)
}
