package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateSize(t *testing.T) {
	tests := []struct {
		ratio         string
		width, height int
		wantW, wantH  int
	}{
		{ratio: "1:1", width: 1024, height: 1024, wantW: 1024, wantH: 1024},
		{ratio: "16:9", width: 1024, height: 1024, wantW: 1368, wantH: 768},
		{ratio: "9:16", width: 1024, height: 1024, wantW: 768, wantH: 1368},
		{ratio: "3:4", width: 512, height: 512, wantW: 440, wantH: 592},
		{ratio: "4:3", width: 512, height: 512, wantW: 592, wantH: 440},
		{ratio: "2:1", width: 640, height: 480, wantW: 640, wantH: 480},
	}

	for _, tt := range tests {
		t.Run(tt.ratio, func(t *testing.T) {
			w, h := CalculateSize(tt.ratio, tt.width, tt.height)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
			assert.Zero(t, w%8)
			assert.Zero(t, h%8)
		})
	}
}
