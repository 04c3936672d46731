package tools

import (
	"context"
	"fmt"
	"time"
)

// ClockTool tells the model the current date and time. Models have no clock
// of their own.
type ClockTool struct {
	now func() time.Time
}

func NewClockTool() *ClockTool {
	return &ClockTool{now: time.Now}
}

func (t *ClockTool) Name() string {
	return "current_time"
}

func (t *ClockTool) Description() string {
	return "Returns the current date, weekday and time, optionally in a given IANA time zone."
}

func (t *ClockTool) Parameters() map[string]any {
	return map[string]any{
		"timezone": map[string]any{
			"type":        "string",
			"description": "IANA time zone name such as 'Asia/Taipei' or 'UTC'. Defaults to the server's local zone.",
		},
	}
}

func (t *ClockTool) RequiredParameters() []string {
	return nil
}

func (t *ClockTool) Execute(_ context.Context, args map[string]any) (*ToolResult, error) {
	now := t.now()
	if tz, _ := args["timezone"].(string); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", tz)
		}
		now = now.In(loc)
	}
	res := TextResult(now.Format("Monday, 2006-01-02 15:04:05 MST"))
	res.Details = map[string]any{"unix": now.Unix()}
	return res, nil
}
