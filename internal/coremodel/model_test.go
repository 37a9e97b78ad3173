package coremodel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func win(startMin, endMin int) Window {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return Window{
		Start: base.Add(time.Duration(startMin) * time.Minute),
		End:   base.Add(time.Duration(endMin) * time.Minute),
	}
}

// TestWindowOverlaps 测试半开区间重叠判定
func TestWindowOverlaps(t *testing.T) {
	cases := []struct {
		name string
		a, b Window
		want bool
	}{
		{"部分重叠", win(0, 60), win(30, 90), true},
		{"完全包含", win(0, 120), win(30, 60), true},
		{"相同窗口", win(0, 60), win(0, 60), true},
		{"首尾相接不算重叠", win(0, 60), win(60, 120), false},
		{"完全分离", win(0, 30), win(60, 90), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.a.Overlaps(tc.b))
			// 重叠判定必须对称
			assert.Equal(t, tc.want, tc.b.Overlaps(tc.a))
		})
	}
}

// TestWindowContains 测试时刻归属（含起点不含终点）
func TestWindowContains(t *testing.T) {
	w := win(0, 60)

	assert.True(t, w.Contains(w.Start))
	assert.True(t, w.Contains(w.Start.Add(30*time.Minute)))
	assert.False(t, w.Contains(w.End))
	assert.False(t, w.Contains(w.Start.Add(-time.Minute)))
}

// TestReservationStatusTerminal 只有PENDING是非终态
func TestReservationStatusTerminal(t *testing.T) {
	assert.False(t, ReservationPending.Terminal())
	assert.True(t, ReservationCompleted.Terminal())
	assert.True(t, ReservationCancelled.Terminal())
	assert.True(t, ReservationExpired.Terminal())
}
