package circular

import (
	"testing"

	"github.com/grailbio/testutil/expect"
)

func TestNextExp2(t *testing.T) {
	for _, tt := range []struct{ x, want int }{
		{1, 2}, {2, 4}, {3, 4}, {511, 512}, {512, 1024},
	} {
		expect.EQ(t, NextExp2(tt.x), tt.want)
	}
}

func TestCeilExp2(t *testing.T) {
	for _, tt := range []struct{ x, want int }{
		{-3, 1}, {0, 1}, {1, 1}, {2, 2}, {3, 4}, {64, 64}, {65, 128},
	} {
		expect.EQ(t, CeilExp2(tt.x), tt.want)
	}
}
