package proc

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// Ellipsis joins the kept prefix and suffix of a truncated output.
const Ellipsis = "..."

// Output is an append-only log of lines. A single capture goroutine appends,
// any number of readers may look at it concurrently.
//
// With a positive limit the log is bounded: it keeps the first lines until
// they hold limit characters and a window of the last lines holding at least
// limit characters. Lines in between are dropped, so Truncate(String(), limit)
// equals the truncation of the complete output.
type Output struct {
	mx        sync.RWMutex
	limit     int
	head      []string
	headChars int
	tail      []string
	tailChars int
	dropped   int
	count     int
	sealed    bool
	notify    chan struct{}
}

// NewOutput returns an empty log. A non positive limit keeps every line.
func NewOutput(limit int) *Output {
	return &Output{
		limit:  limit,
		notify: make(chan struct{}),
	}
}

// Append adds a line. It reports false once the output is sealed.
func (o *Output) Append(line string) bool {
	o.mx.Lock()
	defer o.mx.Unlock()
	if o.sealed {
		return false
	}
	o.count++
	o.add(line)
	close(o.notify)
	o.notify = make(chan struct{})
	return true
}

func (o *Output) add(line string) {
	if o.limit <= 0 {
		o.head = append(o.head, line)
		return
	}
	// a line costs its characters plus the newline joining it
	n := utf8.RuneCountInString(line) + 1
	if o.headChars < o.limit {
		o.head = append(o.head, line)
		o.headChars += n
		return
	}
	o.tail = append(o.tail, line)
	o.tailChars += n
	for len(o.tail) > 1 {
		first := utf8.RuneCountInString(o.tail[0]) + 1
		if o.tailChars-first < o.limit {
			break
		}
		o.tail[0] = ""
		o.tail = o.tail[1:]
		o.tailChars -= first
		o.dropped++
	}
}

// Seal makes the output final. Waiters on Changed are released.
func (o *Output) Seal() {
	o.mx.Lock()
	defer o.mx.Unlock()
	if o.sealed {
		return
	}
	o.sealed = true
	close(o.notify)
}

func (o *Output) Sealed() bool {
	o.mx.RLock()
	defer o.mx.RUnlock()
	return o.sealed
}

// Changed returns a channel closed by the next Append or by Seal. Take the
// channel before inspecting Len to not miss an update.
func (o *Output) Changed() <-chan struct{} {
	o.mx.RLock()
	defer o.mx.RUnlock()
	return o.notify
}

// Len is the number of appended lines, dropped ones included.
func (o *Output) Len() int {
	o.mx.RLock()
	defer o.mx.RUnlock()
	return o.count
}

// Dropped is the number of lines removed from the middle of the log.
func (o *Output) Dropped() int {
	o.mx.RLock()
	defer o.mx.RUnlock()
	return o.dropped
}

// Lines returns the kept lines.
func (o *Output) Lines() []string {
	o.mx.RLock()
	defer o.mx.RUnlock()
	ret := make([]string, 0, len(o.head)+len(o.tail))
	ret = append(ret, o.head...)
	return append(ret, o.tail...)
}

// String joins the kept lines with a newline. Dropped lines are replaced by
// a single Ellipsis line.
func (o *Output) String() string {
	o.mx.RLock()
	defer o.mx.RUnlock()
	lines := make([]string, 0, len(o.head)+len(o.tail)+1)
	lines = append(lines, o.head...)
	if o.dropped > 0 {
		lines = append(lines, Ellipsis)
	}
	lines = append(lines, o.tail...)
	return strings.Join(lines, "\n")
}

// Truncate keeps the first and the last limit/2 characters of s joined by
// Ellipsis when s is longer than limit characters. A non positive limit
// disables truncation.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	n := limit / 2
	return string(runes[:n]) + Ellipsis + string(runes[len(runes)-n:])
}
