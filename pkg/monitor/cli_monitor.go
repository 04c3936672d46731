package monitor

import (
	"fmt"
	"io"
	"sync"
)

// CLIMonitor prints channel traffic and provider lifecycle events to a
// terminal.
type CLIMonitor struct {
	mu     sync.Mutex
	writer io.Writer // The output destination, typically os.Stdout.
	color  bool
}

// NewCLIMonitor creates a monitor writing to w. color enables ANSI escapes.
func NewCLIMonitor(w io.Writer, color bool) *CLIMonitor {
	return &CLIMonitor{writer: w, color: color}
}

func (m *CLIMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	fmt.Fprintln(m.writer, "CLI Monitor Active - channel messages and provider events appear here")
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	return nil
}

func (m *CLIMonitor) Stop() error {
	return nil
}

// OnMessage receives and displays a monitoring message
func (m *CLIMonitor) OnMessage(msg MonitorMessage) {
	var displayMsg string
	switch msg.MessageType {
	case TypeAssistant:
		if msg.Provider != "" {
			displayMsg = fmt.Sprintf("[AI:%s] %s", msg.Provider, msg.Content)
		} else {
			displayMsg = fmt.Sprintf("[AI] %s", msg.Content)
		}
	case TypeSystem:
		displayMsg = fmt.Sprintf("[system] %s", msg.Content)
	default:
		displayMsg = fmt.Sprintf("[%s/%s] %s", msg.ChannelID, msg.Username, msg.Content)
	}

	timestamp := msg.Timestamp.Format("2006-01-02 15:04:05")
	if m.color {
		// Use gray color for timestamp
		timestamp = "\033[90m[" + timestamp + "]\033[0m"
	} else {
		timestamp = "[" + timestamp + "]"
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintf(m.writer, "%s %s\n", timestamp, displayMsg)
}
