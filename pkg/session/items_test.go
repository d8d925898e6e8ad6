package session_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/sessionstate/pkg/session"
)

func TestItems(t *testing.T) {
	t.Run("keeps insertion order", func(t *testing.T) {
		items := session.NewItems()
		items.Set("b", []byte("1"))
		items.Set("a", []byte("2"))
		items.Set("b", []byte("3"))

		assert.Equal(t, []string{"b", "a"}, items.Names())
		v, ok := items.Get("b")
		assert.True(t, ok)
		assert.Equal(t, []byte("3"), v)
	})

	t.Run("delete", func(t *testing.T) {
		items := session.NewItems()
		items.Set("a", nil)
		items.Set("b", nil)
		items.Set("c", nil)
		items.Delete("b")
		items.Delete("missing")

		assert.Equal(t, []string{"a", "c"}, items.Names())
		_, ok := items.Get("b")
		assert.False(t, ok)
	})

	t.Run("clone is deep", func(t *testing.T) {
		items := session.NewItems()
		items.Set("a", []byte("x"))

		c := items.Clone()
		c.Set("b", nil)
		v, _ := c.Get("a")
		v[0] = 'y'

		assert.Equal(t, 1, items.Len())
		orig, _ := items.Get("a")
		assert.Equal(t, []byte("x"), orig)
	})

	t.Run("clear", func(t *testing.T) {
		items := session.NewItems()
		items.Set("a", nil)
		items.Clear()
		assert.Equal(t, 0, items.Len())
		assert.Empty(t, items.Names())
	})

	t.Run("zero value is usable", func(t *testing.T) {
		var items session.Items
		items.Set("a", []byte("1"))
		assert.Equal(t, 1, items.Len())

		var nilItems *session.Items
		assert.Equal(t, 0, nilItems.Len())
		assert.Equal(t, 0, nilItems.Clone().Len())
	})
}

func TestFlagString(t *testing.T) {
	assert.Equal(t, "none", session.FlagNone.String())
	assert.Equal(t, "initialize_item", session.FlagInitializeItem.String())
	assert.Equal(t, "uninitialized", session.FlagUninitialized.String())
	assert.Equal(t, "unknown", session.Flag(7).String())
}
