// Package ipselect picks a preferred network address for a guest from the
// addresses reported by its agent.
package ipselect

import (
	"sort"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/narvanalabs/pve-monitor/internal/models"
)

const prefix192168 = "192.168."

// Select returns the preferred address among candidates for the given mode.
// Candidate order is preserved, so the first match within a tier wins.
// A custom prefix that matches nothing falls back to prefer_192168; a blank
// one selects like any.
// It returns false only when candidates is empty.
func Select(candidates []string, mode models.IPMode, prefix string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}

	prefix = strings.TrimSpace(prefix)
	if mode == models.IPModeCustomPrefix && prefix != "" {
		if ip, ok := firstMatch(candidates, func(c string) bool { return strings.HasPrefix(c, prefix) }); ok {
			return ip, true
		}
		mode = models.IPModePrefer192168
	}

	switch mode {
	case models.IPModePrefer192168:
		if ip, ok := firstMatch(candidates, func(c string) bool { return strings.HasPrefix(c, prefix192168) }); ok {
			return ip, true
		}
		if ip, ok := firstMatch(candidates, IsPrivateIPv4); ok {
			return ip, true
		}
	case models.IPModePreferPrivate:
		if ip, ok := firstMatch(candidates, IsPrivateIPv4); ok {
			return ip, true
		}
	}

	if ip, ok := firstMatch(candidates, looksLikeIPv4); ok {
		return ip, true
	}
	return candidates[0], true
}

// IsPrivateIPv4 classifies 10/8, 192.168/16 and 172.16/12 by prefix.
// A malformed second octet after "172." is not private.
func IsPrivateIPv4(ip string) bool {
	switch {
	case strings.HasPrefix(ip, "10."), strings.HasPrefix(ip, prefix192168):
		return true
	case strings.HasPrefix(ip, "172."):
		parts := strings.Split(ip, ".")
		if len(parts) < 2 {
			return false
		}
		second, err := strconv.Atoi(parts[1])
		if err != nil {
			return false
		}
		return second >= 16 && second <= 31
	default:
		return false
	}
}

// Collect filters loopback and link-local addresses out of raw, removes
// duplicates and returns the rest sorted lexicographically.
func Collect(raw []string) []string {
	kept := mapset.NewThreadUnsafeSet[string]()
	for _, addr := range raw {
		if addr == "" || excluded(addr) {
			continue
		}
		kept.Add(addr)
	}
	out := kept.ToSlice()
	sort.Strings(out)
	return out
}

func excluded(addr string) bool {
	return strings.HasPrefix(addr, "127.") || strings.HasPrefix(addr, "fe80:") || addr == "::1"
}

func looksLikeIPv4(ip string) bool {
	return strings.Contains(ip, ".")
}

func firstMatch(candidates []string, match func(string) bool) (string, bool) {
	for _, c := range candidates {
		if match(c) {
			return c, true
		}
	}
	return "", false
}
