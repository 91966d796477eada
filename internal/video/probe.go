package video

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// ProbeInfo describes the first video stream of a file.
type ProbeInfo struct {
	Codec       string
	FPS         float64
	TotalFrames int
	Width       int
	Height      int
	Duration    float64
}

type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe runs ffprobe on path.
func Probe(path string) (ProbeInfo, error) {
	out, err := ffmpeg.Probe(path)
	if err != nil {
		return ProbeInfo{}, fmt.Errorf("%w: probe: %v", ErrInvalidFormat, err)
	}
	return parseProbe([]byte(out))
}

func parseProbe(data []byte) (ProbeInfo, error) {
	var po probeOutput
	if err := json.Unmarshal(data, &po); err != nil {
		return ProbeInfo{}, fmt.Errorf("%w: probe output: %v", ErrInvalidFormat, err)
	}
	for _, s := range po.Streams {
		if s.CodecType != "video" {
			continue
		}
		info := ProbeInfo{
			Codec:  strings.ToLower(s.CodecName),
			Width:  s.Width,
			Height: s.Height,
			FPS:    parseRate(s.AvgFrameRate),
		}
		if info.FPS <= 0 {
			info.FPS = parseRate(s.RFrameRate)
		}
		info.TotalFrames, _ = strconv.Atoi(s.NbFrames)
		info.Duration, _ = strconv.ParseFloat(s.Duration, 64)
		if info.Duration <= 0 {
			info.Duration, _ = strconv.ParseFloat(po.Format.Duration, 64)
		}
		if info.TotalFrames == 0 && info.FPS > 0 && info.Duration > 0 {
			info.TotalFrames = int(info.Duration*info.FPS + 0.5)
		}
		if info.Duration <= 0 && info.FPS > 0 && info.TotalFrames > 0 {
			info.Duration = float64(info.TotalFrames) / info.FPS
		}
		return info, nil
	}
	return ProbeInfo{}, fmt.Errorf("%w: no video stream", ErrInvalidFormat)
}

// parseRate parses ffprobe rates such as "30000/1001" or "25".
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
