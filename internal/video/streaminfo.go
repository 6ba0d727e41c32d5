package video

import (
	"fmt"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
)

// Fallback stream parameters used when the camera does not announce
// usable values in its SDP.
const (
	DefaultWidth  = 1920
	DefaultHeight = 1080
	DefaultFPS    = 25.0
)

// StreamInfo describes the video track of an RTSP stream.
type StreamInfo struct {
	Width  int
	Height int
	FPS    float64
}

// Half returns the stream dimensions halved and floored to even
// values; H.264 encoders reject odd dimensions.
func (i StreamInfo) Half() (int, int) {
	return (i.Width / 2) &^ 1, (i.Height / 2) &^ 1
}

// ProbeStream performs a DESCRIBE against the given RTSP URL and reads
// width, height and frame rate from the H.264 SPS carried in the SDP.
// Values the camera does not announce fall back to 1920x1080 at 25 fps,
// so the returned info is usable even when err is non-nil.
func ProbeStream(rtspURL string, timeout time.Duration) (StreamInfo, error) {
	info := StreamInfo{Width: DefaultWidth, Height: DefaultHeight, FPS: DefaultFPS}

	u, err := base.ParseURL(rtspURL)
	if err != nil {
		return info, fmt.Errorf("failed to parse URL: %w", err)
	}

	client := &gortsplib.Client{
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	desc, _, err := client.Describe(u)
	if err != nil {
		return info, fmt.Errorf("failed to describe stream: %w", err)
	}
	defer client.Close()

	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			if h264Format, ok := forma.(*format.H264); ok {
				applySPS(&info, h264Format.SPS)
				return info, nil
			}
		}
	}

	return info, nil
}

// HasMJPEGTrack performs a DESCRIBE against the given RTSP URL and
// reports whether the stream announces a Motion-JPEG track in its SDP.
func HasMJPEGTrack(rtspURL string, timeout time.Duration) (bool, error) {
	u, err := base.ParseURL(rtspURL)
	if err != nil {
		return false, fmt.Errorf("failed to parse URL: %w", err)
	}

	client := &gortsplib.Client{
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	desc, _, err := client.Describe(u)
	if err != nil {
		return false, fmt.Errorf("failed to describe stream: %w", err)
	}
	defer client.Close()

	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			if _, ok := forma.(*format.MJPEG); ok {
				return true, nil
			}
		}
	}

	return false, nil
}

// applySPS overwrites info fields with values parsed from the SPS,
// keeping the fallbacks for anything missing or unparseable.
func applySPS(info *StreamInfo, rawSPS []byte) {
	if len(rawSPS) == 0 {
		return
	}

	var sps h264.SPS
	if err := sps.Unmarshal(rawSPS); err != nil {
		return
	}

	if w := sps.Width(); w > 0 {
		info.Width = w
	}
	if h := sps.Height(); h > 0 {
		info.Height = h
	}
	if fps := sps.FPS(); fps > 0 {
		info.FPS = fps
	}
}
