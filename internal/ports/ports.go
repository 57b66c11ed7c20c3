// Package ports normalizes user supplied port and port-range tokens.
package ports

import (
	"errors"
	"slices"
	"strconv"
	"strings"
)

const (
	MinPort = 0
	MaxPort = 65535
)

// Result is a normalized port set
type Result struct {
	Ports    []int // Deduplicated, ascending
	Modified bool  // The output differs from what the user typed
}

// Normalize expands literal ports and "start-end" ranges into a sorted set.
// Malformed tokens are dropped. Modified is set whenever the caller should
// redisplay the normalized form: a token was dropped, a range was expanded,
// duplicates were removed, or the order changed.
func Normalize(tokens []string) Result {
	var res Result
	ports := make([]int, 0, len(tokens))

	for _, token := range tokens {
		token = strings.TrimSpace(token)

		sep := strings.LastIndex(token, "-")
		if sep <= 0 {
			// No range separator (a leading sign is not one).
			port, ok := parseLiteral(token)
			if !ok {
				res.Modified = true
				continue
			}
			ports = append(ports, port)
			continue
		}

		res.Modified = true
		start, okStart := parseBound(token[:sep])
		end, okEnd := parseBound(token[sep+1:])
		if !okStart || !okEnd {
			continue
		}
		start = max(start, MinPort)
		end = min(end, MaxPort)
		for p := start; p <= end; p++ {
			ports = append(ports, int(p))
		}
	}

	before := len(ports)
	seen := make(map[int]struct{}, len(ports))
	deduped := ports[:0]
	for _, p := range ports {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		deduped = append(deduped, p)
	}
	if len(deduped) != before {
		res.Modified = true
	}

	if !slices.IsSorted(deduped) {
		slices.Sort(deduped)
		res.Modified = true
	}

	res.Ports = deduped
	return res
}

// Strings renders ports as tokens suitable for feeding back into Normalize
func Strings(ports []int) []string {
	out := make([]string, len(ports))
	for i, p := range ports {
		out[i] = strconv.Itoa(p)
	}
	return out
}

// parseBound parses one side of a range. Values too large for int64
// saturate so the caller's clamp still applies.
func parseBound(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		return n, true
	}
	return n, err == nil
}

func parseLiteral(token string) (int, bool) {
	if token == "" {
		return 0, false
	}
	for _, r := range token {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	port, err := strconv.Atoi(token)
	if err != nil || port > MaxPort {
		return 0, false
	}
	return port, true
}
