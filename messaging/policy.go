package messaging

// DisplayPolicy is the host-overridable capability consulted before a message
// renders. Declining transitions the message to Suppressed instead of
// Displayed.
type DisplayPolicy interface {
	ShouldShow(msg *Message) bool
}

// DisplayPolicyFunc adapts a function to the DisplayPolicy interface.
type DisplayPolicyFunc func(msg *Message) bool

// ShouldShow calls f.
func (f DisplayPolicyFunc) ShouldShow(msg *Message) bool {
	return f(msg)
}

// AlwaysShow is the default policy: every message renders.
var AlwaysShow DisplayPolicy = DisplayPolicyFunc(func(*Message) bool { return true })
