package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMailbox_FIFOAndClose(t *testing.T) {
	b := newMailbox()
	var order []int
	for i := 1; i <= 3; i++ {
		assert.True(t, b.post(func() { order = append(order, i) }))
	}
	for _, fn := range b.drain() {
		fn()
	}
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Empty(t, b.drain())

	b.close()
	assert.False(t, b.post(func() {}))
}

func TestListeners_RemoveKeepsOrder(t *testing.T) {
	var l listeners[int]
	var got []string
	l.add(func(int) { got = append(got, "a") })
	remove := l.add(func(int) { got = append(got, "b") })
	l.add(func(int) { got = append(got, "c") })

	remove()
	remove()
	for _, fn := range l.snapshot() {
		fn(0)
	}
	assert.Equal(t, []string{"a", "c"}, got)
}
