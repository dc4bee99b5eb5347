package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimeIntervalEmptiness(t *testing.T) {
	tests := []struct {
		name  string
		iv    TimeInterval
		empty bool
	}{
		{"empty constructor", Empty(), true},
		{"reversed", Interval(10, 5), true},
		{"instant", Instant(3), false},
		{"infinite", Infinite(), false},
		{"end at negative infinity", Interval(TimeNegativeInfinity, TimeNegativeInfinity), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.empty, tt.iv.IsEmpty())
		})
	}
}

func TestTimeIntervalContainsIsClosed(t *testing.T) {
	iv := Interval(0, 9)
	assert.True(t, iv.Contains(0))
	assert.True(t, iv.Contains(9))
	assert.False(t, iv.Contains(10))
	assert.False(t, iv.Contains(-1))
	assert.False(t, Empty().Contains(0))
}

func TestTimeIntervalIntersectNarrows(t *testing.T) {
	iv := Interval(0, 100)

	assert.Equal(t, Interval(50, 100), iv.Intersect(Interval(50, 200)))
	assert.Equal(t, Interval(0, 20), iv.Intersect(Interval(TimeNegativeInfinity, 20)))
	assert.True(t, iv.Intersect(Interval(200, 300)).IsEmpty())
	assert.Equal(t, iv, iv.Intersect(Infinite()))
	assert.Equal(t, Instant(7), Infinite().Intersect(Instant(7)))
	assert.True(t, iv.Intersect(Empty()).IsEmpty())
}

func TestTimeIntervalUnion(t *testing.T) {
	assert.Equal(t, Interval(-5, 30), Interval(0, 30).Union(Interval(-5, 2)))
	assert.Equal(t, Interval(1, 2), Empty().Union(Interval(1, 2)))
	assert.Equal(t, Interval(1, 2), Interval(1, 2).Union(Empty()))
}

func TestTimeIntervalString(t *testing.T) {
	assert.Equal(t, "[-inf, +inf]", Infinite().String())
	assert.Equal(t, "[empty]", Empty().String())
	assert.Equal(t, "[0, 479]", Interval(0, 479).String())
}
