package worker

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"
)

// PushPayload represents a push notification payload
// All fields are optional, missing ones get defaults
type PushPayload struct {
	Title              string                 `json:"title"`
	Body               string                 `json:"body"`
	Icon               string                 `json:"icon"`
	Badge              string                 `json:"badge"`
	Image              string                 `json:"image,omitempty"`
	Data               map[string]interface{} `json:"data,omitempty"`
	Actions            []NotificationAction   `json:"actions,omitempty"`
	RequireInteraction bool                   `json:"requireInteraction,omitempty"`
	Silent             bool                   `json:"silent,omitempty"`
	Vibrate            []int                  `json:"vibrate,omitempty"`
}

// NotificationAction represents a button on a displayed notification
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// DefaultPushPayload returns the notification shown for empty or
// malformed push payloads
func DefaultPushPayload() *PushPayload {
	return &PushPayload{
		Title:   "New notification",
		Body:    "You have a new update",
		Icon:    "/icons/icon-192.png",
		Badge:   "/icons/badge-72.png",
		Vibrate: []int{100, 50, 100},
	}
}

// ParsePushPayload parses a push payload defensively
// Malformed JSON falls back to the default notification, parsed payloads
// get defaults filled in for missing fields
func ParsePushPayload(raw []byte) *PushPayload {
	def := DefaultPushPayload()
	if len(raw) == 0 {
		return def
	}

	var p PushPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Warnf("malformed push payload, using default notification: %s", err)
		return def
	}
	if p.Title == "" {
		p.Title = def.Title
	}
	if p.Body == "" {
		p.Body = def.Body
	}
	if p.Icon == "" {
		p.Icon = def.Icon
	}
	if p.Badge == "" {
		p.Badge = def.Badge
	}
	if p.Vibrate == nil {
		p.Vibrate = def.Vibrate
	}

	return &p
}

// ClickDecision represents how a notification click gets routed
type ClickDecision struct {
	// Dismiss means the click closed the notification without navigation
	Dismiss bool `json:"dismiss,omitempty"`
	// FocusExisting means a client window already shows the target URL
	FocusExisting bool `json:"focusExisting,omitempty"`
	// TargetURL is the URL to focus or open
	TargetURL string `json:"targetUrl,omitempty"`
}

// RouteNotificationClick dispatches a notification click by its action
// discriminator: dismiss closes, anything else focuses an existing client
// window on the target URL or opens a new one
func RouteNotificationClick(action string, p *PushPayload, openClients []string) ClickDecision {
	if action == "dismiss" {
		return ClickDecision{Dismiss: true}
	}

	target := "/"
	if p != nil {
		if u, ok := p.Data["url"].(string); ok && u != "" {
			target = u
		}
	}
	for _, client := range openClients {
		if client == target {
			return ClickDecision{FocusExisting: true, TargetURL: target}
		}
	}

	return ClickDecision{TargetURL: target}
}
