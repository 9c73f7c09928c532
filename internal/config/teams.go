package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var rangeRegexp = regexp.MustCompile(`\{([0-9]+\.\.[0-9]+)\}`)

// ExpandTeams expands every {lo..hi} range in a team template into the
// Cartesian product of all ranges. "team-{1..3}.ctf" becomes three hosts;
// "10.{1..2}.{1..2}.1" becomes four. A template without ranges is
// returned as a single-element list.
func ExpandTeams(template string) ([]string, error) {
	values := []string{template}
	groups := rangeRegexp.FindAllStringSubmatch(template, -1)
	for _, group := range groups {
		lo, hi, err := parseRange(group[1])
		if err != nil {
			return nil, err
		}
		next := make([]string, 0, len(values)*(hi-lo+1))
		for _, value := range values {
			for i := lo; i <= hi; i++ {
				next = append(next, strings.Replace(value, group[0], strconv.Itoa(i), 1))
			}
		}
		values = next
	}
	return values, nil
}

func parseRange(spec string) (lo, hi int, err error) {
	parts := strings.SplitN(spec, "..", 2)
	if lo, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, fmt.Errorf("invalid range %q", spec)
	}
	if hi, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, fmt.Errorf("invalid range %q", spec)
	}
	if hi < lo {
		return 0, 0, fmt.Errorf("invalid range %q: upper bound below lower", spec)
	}
	return lo, hi, nil
}
