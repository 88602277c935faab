package camera

import (
	"fmt"
	"strings"
)

// Config describes the capture device and the frames wanted from it.
type Config struct {
	Device string
	Width  int
	Height int
	FPS    int
	Flip   bool
}

// Pipeline returns a GStreamer launch line that captures from a V4L2
// device and delivers RGB frames to an appsink called sinkName. The sink
// keeps a single buffer so consumers only ever see the newest frame.
func (c Config) Pipeline(sinkName string) string {
	stages := []string{
		fmt.Sprintf("v4l2src device=%s", c.Device),
		"videoconvert",
	}
	if c.Flip {
		stages = append(stages, "videoflip method=horizontal-flip")
	}
	stages = append(stages,
		"videoscale",
		"videorate drop-only=true skip-to-first=true",
		fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1", c.Width, c.Height, c.FPS),
		fmt.Sprintf("appsink name=%s sync=false max-buffers=1 drop=true", sinkName),
	)
	return strings.Join(stages, " ! ")
}
