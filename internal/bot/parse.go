package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ParseIDArg extracts a numeric user or channel ID from a command argument string.
// Channel IDs are negative.
func ParseIDArg(args string) (int64, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return 0, errors.New("ID is required")
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid ID %q", fields[0])
	}
	return id, nil
}

// ParseURLArg returns the first whitespace separated argument.
func ParseURLArg(args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", errors.New("URL is required")
	}
	return fields[0], nil
}
