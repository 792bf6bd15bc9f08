package channel

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tinegachris/iot-project-server-room-security/internal/event"
)

// Format renders the channel-agnostic message for a logged event.
func Format(ev event.Logged) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Server Room Alert: %s\n", ev.Type)
	fmt.Fprintf(&b, "Time: %s\n", ev.OccurredAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Message: %s\n", ev.Message)
	fmt.Fprintf(&b, "Severity: %s\n", ev.Severity)

	if len(ev.SensorData) > 0 {
		b.WriteString("\nSensor Data:\n")
		keys := make([]string, 0, len(ev.SensorData))
		for k := range ev.SensorData {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, ev.SensorData[k])
		}
	}

	if ev.MediaURL != "" {
		fmt.Fprintf(&b, "\nMedia URL: %s\n", ev.MediaURL)
	}

	return Message{
		Subject:  fmt.Sprintf("Server Room Alert: %s", ev.Type),
		Body:     b.String(),
		Severity: ev.Severity,
		MediaURL: ev.MediaURL,
	}
}
