package handler_test

import (
	"testing"

	"github.com/duragraph/duragraph/internal/domain/handler"
	"github.com/stretchr/testify/assert"
)

func TestParseParallelID(t *testing.T) {
	t.Run("unsuffixed id", func(t *testing.T) {
		p := handler.ParseParallelID("W")
		assert.Equal(t, "W", p.Base)
		assert.False(t, p.IsSuffixed)
	})

	t.Run("suffixed id", func(t *testing.T) {
		p := handler.ParseParallelID("W_2")
		assert.Equal(t, "W", p.Base)
		assert.Equal(t, 2, p.Index)
		assert.True(t, p.IsSuffixed)
	})

	t.Run("base id itself contains underscores", func(t *testing.T) {
		p := handler.ParseParallelID("my_node_3")
		assert.Equal(t, "my_node", p.Base)
		assert.Equal(t, 3, p.Index)
		assert.True(t, p.IsSuffixed)
	})

	t.Run("trailing non-digit suffix is not parsed as an index", func(t *testing.T) {
		p := handler.ParseParallelID("W_abc")
		assert.Equal(t, "W_abc", p.Base)
		assert.False(t, p.IsSuffixed)
	})
}

func TestParallelID_Render(t *testing.T) {
	assert.Equal(t, "W", handler.ParseParallelID("W").Render())
	assert.Equal(t, "W_2", handler.ParseParallelID("W_2").Render())
}

func TestParallelID_WithIndex(t *testing.T) {
	base := handler.ParseParallelID("W")
	assert.Equal(t, "W_4", base.WithIndex(4).Render())
}

func TestSuffixedID(t *testing.T) {
	assert.Equal(t, "W_0", handler.SuffixedID("W", 0))
	assert.Equal(t, "W_12", handler.SuffixedID("W", 12))
}
