/**
 * Video container access through the ffmpeg command line tools
 *
 * Probe reads stream geometry and timing with ffprobe. Decoder and Encoder
 * exchange raw rgb24 frames with ffmpeg over pipes, so any container and
 * codec ffmpeg understands can be processed without cgo bindings.
 */

package video

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Info describes the first video stream of a file
type Info struct {
	Width     int
	Height    int
	FrameRate string  // exact rational as reported by ffprobe, e.g. "30000/1001"
	FPS       float64 // FrameRate as a float
	Frames    int     // 0 when the container does not record a count
	Duration  time.Duration
	HasAudio  bool
	Rotation  int // display rotation in degrees, normalised to 0, 90, 180 or 270
}

type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
		Tags         struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideDataList []struct {
			Rotation interface{} `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe runs ffprobe on path
func Probe(ctx context.Context, ffprobePath, path string) (*Info, error) {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}

	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "error",
		"-show_entries", "stream=codec_type,width,height,r_frame_rate,avg_frame_rate,nb_frames,duration"+
			":stream_tags=rotate:stream_side_data=rotation:format=duration",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("ffprobe failed: %w\nOutput: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbe(out)
}

func parseProbe(data []byte) (*Info, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &Info{}
	found := false
	for _, s := range out.Streams {
		switch s.CodecType {
		case "audio":
			info.HasAudio = true
		case "video":
			if found {
				continue
			}
			found = true
			info.Width = s.Width
			info.Height = s.Height

			// ffmpeg applies the display rotation when decoding, so frames
			// of a quarter-turned stream come out with width and height swapped
			rotation := cast.ToInt(s.Tags.Rotate)
			for _, sd := range s.SideDataList {
				if sd.Rotation != nil {
					rotation = cast.ToInt(sd.Rotation)
				}
			}
			info.Rotation = normalizeRotation(rotation)
			if info.Rotation == 90 || info.Rotation == 270 {
				info.Width, info.Height = info.Height, info.Width
			}

			info.FrameRate = s.RFrameRate
			fps, err := ParseFrameRate(s.RFrameRate)
			if err != nil || fps == 0 {
				info.FrameRate = s.AvgFrameRate
				fps, err = ParseFrameRate(s.AvgFrameRate)
			}
			if err != nil {
				return nil, err
			}
			info.FPS = fps

			// "N/A" for containers without a frame count
			info.Frames = cast.ToInt(s.NbFrames)
			info.Duration = seconds(s.Duration)
		}
	}
	if !found {
		return nil, fmt.Errorf("no video stream found")
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("invalid video dimensions %dx%d", info.Width, info.Height)
	}

	if info.Duration == 0 {
		info.Duration = seconds(out.Format.Duration)
	}
	if info.Frames == 0 && info.Duration > 0 && info.FPS > 0 {
		info.Frames = int(info.Duration.Seconds()*info.FPS + 0.5)
	}
	return info, nil
}

func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	// round to the nearest quarter turn
	return ((deg + 45) / 90 % 4) * 90
}

func seconds(s string) time.Duration {
	secs := cast.ToFloat64(s)
	if secs <= 0 {
		return 0
	}
	return time.Duration(math.Round(secs * float64(time.Second)))
}

// ParseFrameRate parses "num/den" or a plain number
func ParseFrameRate(s string) (float64, error) {
	num, den, isRatio := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q", s)
	}
	if !isRatio {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q", s)
	}
	if d == 0 {
		return 0, nil
	}
	return n / d, nil
}
