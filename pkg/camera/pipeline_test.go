package camera

import (
	"strings"
	"testing"
)

func TestConfig_Pipeline(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    []string
		notWant string
	}{
		{
			name: "mirrored",
			cfg:  Config{Device: "/dev/video0", Width: 640, Height: 480, FPS: 30, Flip: true},
			want: []string{
				"v4l2src device=/dev/video0 ! ",
				"videoflip method=horizontal-flip",
				"video/x-raw,format=RGB,width=640,height=480,framerate=30/1",
				"appsink name=sink sync=false max-buffers=1 drop=true",
			},
		},
		{
			name:    "no flip",
			cfg:     Config{Device: "/dev/video2", Width: 320, Height: 240, FPS: 15},
			want:    []string{"device=/dev/video2", "width=320,height=240,framerate=15/1"},
			notWant: "videoflip",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.Pipeline("sink")
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("pipeline %q missing %q", got, w)
				}
			}
			if tt.notWant != "" && strings.Contains(got, tt.notWant) {
				t.Errorf("pipeline %q should not contain %q", got, tt.notWant)
			}
		})
	}
}
