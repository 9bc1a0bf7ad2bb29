package enrich

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errNoObject = errors.New("no JSON object in reply")

// ParseError reports a quick-action reply that was not a JSON object of
// strings. Content is the reply as received.
type ParseError struct {
	Content string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse quick actions: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseActions decodes a command->label map. Models like to wrap JSON in a
// fenced block, so fences and surrounding prose are cut away first.
func ParseActions(content string) (map[string]string, error) {
	body := strings.TrimSpace(content)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```")
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		}
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}

	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start < 0 || end < start {
		return nil, &ParseError{Content: content, Err: errNoObject}
	}

	var actions map[string]string
	if err := json.Unmarshal([]byte(body[start:end+1]), &actions); err != nil {
		return nil, &ParseError{Content: content, Err: err}
	}
	return actions, nil
}
