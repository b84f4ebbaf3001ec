package notifier

// TextNotifier is the one-method contract every alert channel implements.
// Callers wrap it in Async so a slow or failing channel never blocks them.
type TextNotifier interface {
	SendText(text string) error
}

// Nop drops every message. Used when no channel is configured.
type Nop struct{}

func (Nop) SendText(string) error { return nil }

// Func adapts a plain function to TextNotifier.
type Func func(text string) error

func (f Func) SendText(text string) error { return f(text) }
