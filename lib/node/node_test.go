package node

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/a-h/templ"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestA(t *testing.T) {
	attrs := A("rel", "stylesheet", "href", "foo", "async")
	require.Len(t, attrs, 3)
	assert.Equal(t, Attr{Key: "rel", Value: "stylesheet"}, attrs[0])
	assert.Equal(t, Attr{Key: "async"}, attrs[2])
}

func TestFromTempl(t *testing.T) {
	attrs := FromTempl(templ.Attributes{
		"id":       "x",
		"hidden":   true,
		"disabled": false,
		"tabindex": 3,
		"nothing":  nil,
	})
	assert.Equal(t, []Attr{
		{Key: "hidden"},
		{Key: "id", Value: "x"},
		{Key: "tabindex", Value: "3"},
	}, attrs)
}

func TestElementAttrAndListeners(t *testing.T) {
	el := El("script", A("src", "a.js", "async")).On("load", func() {})

	v, ok := el.Attr("src")
	assert.True(t, ok)
	assert.Equal(t, "a.js", v)

	_, ok = el.Attr("type")
	assert.False(t, ok)

	assert.True(t, el.HasListener("load"))
	assert.False(t, el.HasListener("error"))
}

func TestFutureFirstSettleWins(t *testing.T) {
	f := NewFuture()
	var calls atomic.Int32
	f.Subscribe(func() { calls.Add(1) })

	assert.True(t, f.Resolve("a"))
	assert.False(t, f.Reject(errors.New("late")))
	assert.False(t, f.Resolve("b"))

	v, err, settled := f.Result()
	assert.True(t, settled)
	assert.NoError(t, err)
	assert.Equal(t, "a", v)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, FutureResolved, f.State())
}

func TestFutureSubscribeAfterSettle(t *testing.T) {
	f := Rejected(errors.New("boom"))
	called := false
	f.Subscribe(func() { called = true })
	assert.True(t, called)
	assert.Equal(t, FutureRejected, f.State())
}

func TestUse(t *testing.T) {
	ctx := context.Background()
	f := NewFuture()
	c := Use(f, func(v any) Node { return Text(v.(string)) })

	r := c(ctx)
	require.True(t, r.IsPending())
	assert.Same(t, f, r.Wait())

	f.Resolve("hello")
	r = c(ctx)
	assert.False(t, r.IsPending())
	assert.Equal(t, Text("hello"), r.Node())

	failing := Use(Rejected(errors.New("nope")), func(any) Node { return nil })
	r = failing(ctx)
	assert.EqualError(t, r.Err(), "nope")
}
