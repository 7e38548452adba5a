package aranet

import "time"

// DeviceEventKind is the kind of a DeviceEvent
type DeviceEventKind int

const (
	EventReconnectStarted DeviceEventKind = iota
	EventReconnectSucceeded
	EventReconnectFailed
	EventDisconnected
)

func (k DeviceEventKind) String() string {
	switch k {
	case EventReconnectStarted:
		return "reconnect_started"
	case EventReconnectSucceeded:
		return "reconnect_succeeded"
	case EventReconnectFailed:
		return "reconnect_failed"
	}
	return "disconnected"
}

// DeviceEvent reports a link lifecycle change
type DeviceEvent struct {
	Kind       DeviceEventKind
	Identifier string
	Attempt    int
	Err        error
	At         time.Time
}

// emitEvent sends without blocking; events are dropped when nobody listens
func emitEvent(ch chan<- DeviceEvent, ev DeviceEvent) {
	if ch == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case ch <- ev:
	default:
	}
}
