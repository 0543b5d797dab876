// ABOUTME: Native tools shipped with the gateway
// ABOUTME: Small utilities that need no external provider or filesystem access

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RegisterNative installs the built-in tool set into the registry.
func RegisterNative(r *Registry) error {
	native := []*Tool{
		{
			Definition: Definition{
				Name:        "time_now",
				Description: "Get the current time, optionally in a named IANA timezone",
				Parameters:  json.RawMessage(`{"type":"object","properties":{"timezone":{"type":"string","description":"IANA timezone name, defaults to UTC"}}}`),
			},
			Handler: timeNow,
		},
		{
			Definition: Definition{
				Name:        "text_stats",
				Description: "Count characters, words, and lines in a text",
				Parameters:  json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
			},
			Handler: textStats,
		},
		{
			Definition: Definition{
				Name:        "echo",
				Description: "Return the input unchanged, useful for connectivity checks",
				Parameters:  json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}},"required":["message"]}`),
			},
			Handler: echo,
		},
	}

	for _, tool := range native {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func timeNow(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	var input struct {
		Timezone string `json:"timezone"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}

	loc := time.UTC
	if input.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(input.Timezone)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", input.Timezone)
		}
	}

	now := time.Now().In(loc)
	return json.Marshal(map[string]any{
		"time":     now.Format(time.RFC3339),
		"timezone": loc.String(),
		"unix":     now.Unix(),
	})
}

func textStats(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	var input struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	return json.Marshal(map[string]any{
		"characters": len([]rune(input.Text)),
		"words":      len(strings.Fields(input.Text)),
		"lines":      strings.Count(input.Text, "\n") + 1,
	})
}

func echo(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	var input struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return json.Marshal(map[string]string{"message": input.Message})
}
