package ipselect

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/narvanalabs/pve-monitor/internal/models"
	"github.com/stretchr/testify/assert"
)

// **Feature: pve-monitor, Property 2: Address selection is total and closed**
// For any candidate list and any mode, Select is deterministic and returns
// an element of the input, or nothing iff the input is empty.

func genIPMode() gopter.Gen {
	return gen.OneConstOf(
		models.IPModePrefer192168,
		models.IPModePreferPrivate,
		models.IPModeAny,
		models.IPModeCustomPrefix,
		models.IPMode("unknown"),
	)
}

func genOctet() gopter.Gen {
	return gen.IntRange(0, 255)
}

func genIPv4() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf(10, 172, 192, 8, 203, 100),
		genOctet(), genOctet(), genOctet(),
	).Map(func(vals []interface{}) string {
		first := vals[0].(int)
		second := vals[1].(int)
		if first == 192 && second%2 == 0 {
			second = 168
		}
		return fmt.Sprintf("%d.%d.%d.%d", first, second, vals[2].(int), vals[3].(int))
	})
}

func genCandidate() gopter.Gen {
	return gen.Weighted([]gen.WeightedGen{
		{Weight: 6, Gen: genIPv4()},
		{Weight: 2, Gen: gen.OneConstOf("2001:db8::1", "fd00::10", "2a01:4f8::2")},
		{Weight: 1, Gen: gen.AlphaString()},
	})
}

func genCandidates() gopter.Gen {
	return gen.SliceOf(genCandidate())
}

func genPrefix() gopter.Gen {
	return gen.OneConstOf("", "  ", "10.", " 172.16.", "192.168.", "203.")
}

func TestSelectProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("result is an element of the input, none iff empty", prop.ForAll(
		func(candidates []string, mode models.IPMode, prefix string) bool {
			ip, ok := Select(candidates, mode, prefix)
			if len(candidates) == 0 {
				return !ok && ip == ""
			}
			if !ok {
				return false
			}
			for _, c := range candidates {
				if c == ip {
					return true
				}
			}
			return false
		},
		genCandidates(), genIPMode(), genPrefix(),
	))

	properties.Property("selection is deterministic", prop.ForAll(
		func(candidates []string, mode models.IPMode, prefix string) bool {
			a, okA := Select(candidates, mode, prefix)
			b, okB := Select(candidates, mode, prefix)
			return a == b && okA == okB
		},
		genCandidates(), genIPMode(), genPrefix(),
	))

	properties.Property("prefer_private picks a private address whenever one exists", prop.ForAll(
		func(candidates []string) bool {
			ip, _ := Select(candidates, models.IPModePreferPrivate, "")
			for _, c := range candidates {
				if IsPrivateIPv4(c) {
					return IsPrivateIPv4(ip)
				}
			}
			return true
		},
		genCandidates(),
	))

	properties.Property("custom prefix match wins over every other tier", prop.ForAll(
		func(candidates []string, prefix string) bool {
			ip, _ := Select(candidates, models.IPModeCustomPrefix, prefix)
			for _, c := range candidates {
				if len(prefix) > 0 && len(c) >= len(prefix) && c[:len(prefix)] == prefix {
					return ip == c
				}
			}
			return true
		},
		genCandidates(), gen.OneConstOf("10.", "172.16.", "203."),
	))

	properties.Property("Collect output is sorted, unique and excludes loopback/link-local", prop.ForAll(
		func(raw []string) bool {
			out := Collect(append(raw, "127.0.0.1", "::1", "fe80::1", ""))
			for i, addr := range out {
				if excluded(addr) || addr == "" {
					return false
				}
				if i > 0 && out[i-1] >= addr {
					return false
				}
			}
			return true
		},
		genCandidates(),
	))

	properties.TestingRun(t)
}

func TestSelectExamples(t *testing.T) {
	tests := []struct {
		name       string
		candidates []string
		mode       models.IPMode
		prefix     string
		want       string
		wantOK     bool
	}{
		{"empty", nil, models.IPModeAny, "", "", false},
		{"192.168 tier falls through to private", []string{"10.0.0.5", "8.8.8.8"}, models.IPModePrefer192168, "", "10.0.0.5", true},
		{"192.168 preferred", []string{"10.0.0.5", "192.168.1.2"}, models.IPModePrefer192168, "", "192.168.1.2", true},
		{"private falls to dotted", []string{"203.0.113.9"}, models.IPModePreferPrivate, "", "203.0.113.9", true},
		{"custom prefix", []string{"10.0.0.5", "192.168.1.2"}, models.IPModeCustomPrefix, "192.168.", "192.168.1.2", true},
		{"custom prefix is trimmed", []string{"10.0.0.5", "192.168.1.2"}, models.IPModeCustomPrefix, " 10.0. ", "10.0.0.5", true},
		{"custom prefix miss behaves like prefer_192168", []string{"8.8.8.8", "172.20.0.4"}, models.IPModeCustomPrefix, "100.64.", "172.20.0.4", true},
		{"empty custom prefix behaves like any", []string{"8.8.8.8", "10.0.0.1"}, models.IPModeCustomPrefix, "", "8.8.8.8", true},
		{"blank custom prefix behaves like any", []string{"2001:db8::1", "203.0.113.9", "192.168.0.9"}, models.IPModeCustomPrefix, "   ", "203.0.113.9", true},
		{"any prefers dotted", []string{"2001:db8::1", "203.0.113.9"}, models.IPModeAny, "", "203.0.113.9", true},
		{"unknown mode behaves like any", []string{"2001:db8::1", "10.0.0.1"}, models.IPMode("fastest"), "", "10.0.0.1", true},
		{"no dotted falls back to first", []string{"2001:db8::1", "fd00::1"}, models.IPModePreferPrivate, "", "2001:db8::1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Select(tt.candidates, tt.mode, tt.prefix)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsPrivateIPv4(t *testing.T) {
	for second := 16; second <= 31; second++ {
		assert.True(t, IsPrivateIPv4(fmt.Sprintf("172.%d.0.1", second)))
	}
	assert.True(t, IsPrivateIPv4("172.31.255.255"))
	assert.True(t, IsPrivateIPv4("10.1.2.3"))
	assert.True(t, IsPrivateIPv4("192.168.0.1"))

	assert.False(t, IsPrivateIPv4("172.32.0.1"))
	assert.False(t, IsPrivateIPv4("172.15.0.1"))
	assert.False(t, IsPrivateIPv4("172.bad.0.1"))
	assert.False(t, IsPrivateIPv4("172."))
	assert.False(t, IsPrivateIPv4("8.8.8.8"))
	assert.False(t, IsPrivateIPv4("fd00::1"))
}

func TestCollect(t *testing.T) {
	raw := []string{"192.168.1.5", "127.0.0.1", "::1", "fe80::a00:27ff", "10.0.0.2", "192.168.1.5", "2001:db8::5"}
	assert.Equal(t, []string{"10.0.0.2", "192.168.1.5", "2001:db8::5"}, Collect(raw))
	assert.Empty(t, Collect(nil))
}
