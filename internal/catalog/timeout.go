package catalog

import "time"

// Timeouts bounds a single fetch attempt. Total caps end-to-end wall
// time regardless of progress; IdleRead caps the gap between successive
// body chunks, guarding against a stalled-but-open connection on large
// transfers. IdleRead of zero means no idle cap.
type Timeouts struct {
	Total    time.Duration
	IdleRead time.Duration
}

// Timeouts returns the timeout policy for the size class.
func (c SizeClass) Timeouts() Timeouts {
	switch c {
	case Medium:
		return Timeouts{Total: 5 * time.Minute, IdleRead: 30 * time.Second}
	case Large:
		return Timeouts{Total: 10 * time.Minute, IdleRead: 60 * time.Second}
	default:
		return Timeouts{Total: 60 * time.Second}
	}
}
