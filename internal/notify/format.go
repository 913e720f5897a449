package notify

import (
	"fmt"
	"time"
)

// HumanTime is the date layout of notification bodies.
const HumanTime = "Mon Jan 02 15:04:05 MST 2006"

// FormatDuration renders d as HH:MM:SS. Hours are not wrapped at 24.
func FormatDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
}
