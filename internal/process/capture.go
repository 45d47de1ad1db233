package process

import (
	"strings"
	"sync"
)

const (
	truncationNotice = "\n... [output truncated]\n"
	tailBytes        = 64 * 1024
)

// capture keeps the first max bytes of a stream plus a bounded tail. The tail
// survives truncation because harness verdicts are printed last.
type capture struct {
	mu      sync.Mutex
	max     int
	head    []byte
	tail    []byte
	tailPos int
	tailLen int64
}

func newCapture(max int) *capture {
	tail := tailBytes
	if tail > max {
		tail = max
	}
	return &capture{max: max, tail: make([]byte, tail)}
}

func (c *capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(p)
	if room := c.max - len(c.head); room > 0 {
		if room > len(p) {
			room = len(p)
		}
		c.head = append(c.head, p[:room]...)
		p = p[room:]
	}
	if len(c.tail) == 0 {
		return n, nil
	}
	for len(p) > 0 {
		k := copy(c.tail[c.tailPos:], p)
		c.tailPos = (c.tailPos + k) % len(c.tail)
		c.tailLen += int64(k)
		p = p[k:]
	}
	return n, nil
}

// Truncated reports whether any bytes were dropped.
func (c *capture) Truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tailLen > int64(len(c.tail))
}

func (c *capture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	b.Write(c.head)
	if c.tailLen == 0 {
		return b.String()
	}
	if c.tailLen <= int64(len(c.tail)) {
		b.Write(c.tail[:c.tailLen])
		return b.String()
	}
	b.WriteString(truncationNotice)
	b.Write(c.tail[c.tailPos:])
	b.Write(c.tail[:c.tailPos])
	return b.String()
}
