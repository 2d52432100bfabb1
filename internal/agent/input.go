package agent

import (
	"sync"
	"time"

	aiberrors "github.com/chenpu17/ai-browser/internal/errors"
)

// InputField is one field the model asks the human to fill in. Fields with
// Type "password" are masked in every emitted event and tool message.
type InputField struct {
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Label string `json:"label,omitempty"`
}

// inputWaiter is a one-shot completion primitive for ask_human: exactly one
// of resolve, timeout, or cancel wins; the others become no-ops.
type inputWaiter struct {
	requestID string
	fields    []InputField

	once  sync.Once
	ch    chan map[string]string
	timer *time.Timer
}

func newInputWaiter(requestID string, fields []InputField, timeout time.Duration) *inputWaiter {
	w := &inputWaiter{
		requestID: requestID,
		fields:    fields,
		ch:        make(chan map[string]string, 1),
	}
	w.timer = time.AfterFunc(timeout, func() {
		w.once.Do(func() { close(w.ch) })
	})
	return w
}

// resolve delivers the human's answer. Returns false if the waiter already
// completed.
func (w *inputWaiter) resolve(values map[string]string) bool {
	delivered := false
	w.once.Do(func() {
		w.timer.Stop()
		w.ch <- values
		close(w.ch)
		delivered = true
	})
	return delivered
}

// cancel completes the waiter without a value.
func (w *inputWaiter) cancel() {
	w.once.Do(func() {
		w.timer.Stop()
		close(w.ch)
	})
}

// wait blocks until resolve, timeout, or cancel.
func (w *inputWaiter) wait() (map[string]string, error) {
	values, ok := <-w.ch
	if !ok || values == nil {
		return nil, aiberrors.New(aiberrors.CodeRunTimeout, "no human input received before the deadline")
	}
	return values, nil
}

// maskValues replaces password-typed field values with *** for events and
// tool messages.
func maskValues(values map[string]string, fields []InputField) map[string]string {
	secret := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.Type == "password" {
			secret[f.Name] = true
		}
	}
	masked := make(map[string]string, len(values))
	for name, value := range values {
		if secret[name] {
			masked[name] = "***"
		} else {
			masked[name] = value
		}
	}
	return masked
}
