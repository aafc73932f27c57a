package app

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseProjectIDs accepts repeated and/or comma separated project ids.
func ParseProjectIDs(values []string) ([]int, error) {
	var ids []int
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.Atoi(part)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("invalid project id %q: must be a positive integer", part)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}
