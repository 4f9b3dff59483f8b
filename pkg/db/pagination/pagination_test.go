package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPage_Normalize(t *testing.T) {
	assert.Equal(t, Page{Limit: DefaultLimit}, Page{}.Normalize())
	assert.Equal(t, Page{Limit: MaxLimit, Offset: 0}, Page{Limit: 1000, Offset: -5}.Normalize())
	assert.Equal(t, 21, Page{Limit: 20}.Fetch())
}

func TestBuild(t *testing.T) {
	page := Page{Limit: 2, Offset: 4}

	items, info := Build([]int{1, 2, 3}, page)
	assert.Equal(t, []int{1, 2}, items)
	assert.True(t, info.HasMore)
	assert.Equal(t, 6, info.NextOffset)

	items, info = Build([]int{1}, page)
	assert.Equal(t, []int{1}, items)
	assert.False(t, info.HasMore)
}
