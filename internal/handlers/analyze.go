// ABOUTME: analyze task handler reviewing a configuration scope of the device
// ABOUTME: Gathers scope-specific device data and asks the LLM for findings and recommendations

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const analyzeSystemPrompt = "You are a MikroTik network analyst. Analyze the RouterOS data and provide: " +
	"(1) key findings, (2) anomalies/risks, (3) specific recommendations. Be concise and specific."

var analyzeScopes = map[string][]query{
	"performance": {
		{"system_resource", "/rest/system/resource"},
		{"system_health", "/rest/system/health"},
		{"interfaces", "/rest/interface"},
		{"queues", "/rest/queue/simple"},
	},
	"security": {
		{"fw_filter", "/rest/ip/firewall/filter"},
		{"ip_services", "/rest/ip/service"},
		{"users", "/rest/user"},
		{"logs", "/rest/log"},
	},
	"firewall": {
		{"fw_filter", "/rest/ip/firewall/filter"},
		{"fw_nat", "/rest/ip/firewall/nat"},
		{"fw_conn", "/rest/ip/firewall/connection"},
		{"fw_addr_list", "/rest/ip/firewall/address-list"},
	},
	"routing": {
		{"routes", "/rest/ip/route"},
		{"arp", "/rest/ip/arp"},
		{"neighbors", "/rest/ip/neighbor"},
		{"dns", "/rest/ip/dns"},
	},
	"full": {
		{"system_resource", "/rest/system/resource"},
		{"system_health", "/rest/system/health"},
		{"interfaces", "/rest/interface"},
		{"fw_filter", "/rest/ip/firewall/filter"},
		{"fw_nat", "/rest/ip/firewall/nat"},
		{"routes", "/rest/ip/route"},
		{"dns", "/rest/ip/dns"},
		{"logs", "/rest/log"},
	},
}

var analyzeFallback = []query{
	{"system_resource", "/rest/system/resource"},
	{"interfaces", "/rest/interface"},
	{"logs", "/rest/log"},
}

// Analyze reviews one scope of device configuration.
// Params: {"scope": "performance|security|firewall|routing|full"}; default performance.
type Analyze struct {
	Device Device
	Chat   Chatter
}

// Handle implements tasks.Handler.
func (h *Analyze) Handle(ctx context.Context, params json.RawMessage) (string, error) {
	if h.Device == nil {
		return "", errors.New("error: device unavailable")
	}
	if h.Chat == nil {
		return "", errors.New("error: llm unavailable")
	}

	scope := stringParam(params, "scope", "performance")
	queries, ok := analyzeScopes[scope]
	if !ok {
		queries = analyzeFallback
	}

	data := gather(ctx, h.Device, queries)

	user := fmt.Sprintf("Scope: %s\n\nRouterOS Data:\n%s", scope, data)
	reply, err := h.Chat.Chat(ctx, analyzeSystemPrompt, user)
	if err != nil {
		return "", fmt.Errorf("error: analyze llm call failed: %w", err)
	}
	return reply, nil
}
