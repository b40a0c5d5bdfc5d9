package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/wricardo/wsnexus/nexus"
)

// parseLine splits an input line into its payload and target client ids.
// "@1,3 hello" sends "hello" to clients 1 and 3; a line without the prefix
// goes to everyone.
func parseLine(line string) (any, []int, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "@") {
		return parsePayload(line), nil, nil
	}

	target, rest, _ := strings.Cut(line[1:], " ")
	var ids []int
	for _, part := range strings.Split(target, ",") {
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, nil, fmt.Errorf("bad client id %q", part)
		}
		ids = append(ids, id)
	}
	return parsePayload(strings.TrimSpace(rest)), ids, nil
}

// parsePayload keeps valid JSON as is and sends anything else as a string
func parsePayload(s string) any {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	return s
}

// parseFields builds a descriptor from key=value pairs. Values that parse as
// JSON keep their type.
func parseFields(pairs []string) (nexus.Fields, error) {
	fields := nexus.Fields{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}

		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		fields[key] = v
	}
	return fields, nil
}

// formatMessage renders a received payload for the terminal
func formatMessage(m nexus.Message) string {
	if m.ClientID > 0 {
		return fmt.Sprintf("[%d] %s", m.ClientID, m.Text())
	}
	return m.Text()
}
