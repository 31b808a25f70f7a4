package versions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareGreater(t *testing.T) {
	for _, test := range [][2]string{
		{"1.10", "1.9"},
		{"1.0.1", "1.0"},
		{"2.0", "1.99"},
	} {
		assert.Equal(t, 1, Compare(test[0], test[1]), "%v > %v", test[0], test[1])
		assert.Equal(t, -1, Compare(test[1], test[0]), "%v < %v", test[1], test[0])
	}
}

func TestCompareSuffixLess(t *testing.T) {
	assert.Equal(t, -1, Compare("1.0-rc1", "1.0"))
	assert.Equal(t, 1, Compare("1.0", "1.0-rc1"))
}

func TestCompareEqual(t *testing.T) {
	assert.Equal(t, 0, Compare("2.12", "2.12"))
	assert.Equal(t, 0, Compare("1.0.0", "1.0.0"))
}

func TestNewer(t *testing.T) {
	assert.True(t, Newer("2.12", "2.11"))
	assert.False(t, Newer("2.11", "2.12"))
	assert.False(t, Newer("2.12", "2.12"))
}
