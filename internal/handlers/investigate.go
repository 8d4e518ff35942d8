// ABOUTME: investigate task handler diagnosing one target from live device data
// ABOUTME: Picks device queries by target kind and asks the LLM for a diagnosis

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const investigateSystemPrompt = "You are a MikroTik network engineer. Diagnose the target based on live RouterOS data. " +
	"Reference exact values. Identify likely cause and recommended fix in concise bullet points."

// Investigate diagnoses an issue with a target (interface, address, or subsystem).
// Params: {"target": "ether1", "issue": "link flapping"}.
type Investigate struct {
	Device Device
	Chat   Chatter
}

// Handle implements tasks.Handler.
func (h *Investigate) Handle(ctx context.Context, params json.RawMessage) (string, error) {
	if h.Device == nil {
		return "", errors.New("error: device unavailable")
	}
	if h.Chat == nil {
		return "", errors.New("error: llm unavailable")
	}

	target := stringParam(params, "target", "system")
	issue := stringParam(params, "issue", "(not provided)")

	data := gather(ctx, h.Device, investigateQueries(target))

	user := fmt.Sprintf("Target: %s\nIssue: %s\n\nRouterOS Data:\n%s", target, issue, data)
	reply, err := h.Chat.Chat(ctx, investigateSystemPrompt, user)
	if err != nil {
		return "", fmt.Errorf("error: investigate llm call failed: %w", err)
	}
	return reply, nil
}

// investigateQueries returns the device reads relevant to target.
func investigateQueries(target string) []query {
	queries := []query{
		{"system", "/rest/system/resource"},
		{"logs", "/rest/log"},
	}

	switch {
	case containsAny(target, "ether", "wlan", "bridge", "vlan"):
		queries = append(queries,
			query{"interfaces", "/rest/interface"},
			query{"ip_addresses", "/rest/ip/address"},
		)
	case strings.Contains(target, "."):
		queries = append(queries,
			query{"arp", "/rest/ip/arp"},
			query{"dhcp_leases", "/rest/ip/dhcp-server/lease"},
			query{"routes", "/rest/ip/route"},
		)
	case strings.Contains(target, "firewall"):
		queries = append(queries,
			query{"fw_filter", "/rest/ip/firewall/filter"},
			query{"fw_conn", "/rest/ip/firewall/connection"},
		)
	case strings.Contains(target, "dhcp"):
		queries = append(queries,
			query{"dhcp_leases", "/rest/ip/dhcp-server/lease"},
			query{"ip_addresses", "/rest/ip/address"},
		)
	case strings.Contains(target, "routing"):
		queries = append(queries,
			query{"routes", "/rest/ip/route"},
			query{"arp", "/rest/ip/arp"},
			query{"neighbors", "/rest/ip/neighbor"},
		)
	default:
		queries = append(queries, query{"health", "/rest/system/health"})
	}
	return queries
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
