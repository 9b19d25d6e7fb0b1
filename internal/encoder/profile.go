package encoder

import (
	"strconv"
	"strings"
	"time"
)

// Profile is the fixed encoding ladder pushed to the ingest endpoint.
type Profile struct {
	VideoCodec   string
	Preset       string
	VideoBitrate string
	MaxRate      string
	BufSize      string
	FrameRate    int
	AudioCodec   string
	AudioBitrate string
	Format       string
}

// DefaultProfile is H.264 at a constant 2.5 Mbps, 30 fps with a two second GOP, and AAC 128k in FLV.
func DefaultProfile() Profile {
	return Profile{
		VideoCodec:   "libx264",
		Preset:       "veryfast",
		VideoBitrate: "2500k",
		MaxRate:      "2500k",
		BufSize:      "5000k",
		FrameRate:    30,
		AudioCodec:   "aac",
		AudioBitrate: "128k",
		Format:       "flv",
	}
}

// GOP is the keyframe interval in frames.
func (p Profile) GOP() int {
	return 2 * p.FrameRate
}

// Args builds the ffmpeg argument list for job. The input is looped forever
// unless job.DurationLimit caps how much of it is read.
func (p Profile) Args(job Job) []string {
	args := []string{"-re", "-stream_loop", "-1"}
	if job.DurationLimit > 0 {
		args = append(args, "-t", formatSeconds(job.DurationLimit))
	}
	gop := strconv.Itoa(p.GOP())
	args = append(args,
		"-i", job.VideoPath,
		"-c:v", p.VideoCodec,
		"-preset", p.Preset,
		"-b:v", p.VideoBitrate,
		"-maxrate", p.MaxRate,
		"-bufsize", p.BufSize,
		"-r", strconv.Itoa(p.FrameRate),
		"-g", gop,
		"-keyint_min", gop,
		"-c:a", p.AudioCodec,
		"-b:a", p.AudioBitrate,
		"-f", p.Format,
		PublishURL(job.IngestURL, job.StreamKey),
	)
	return args
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// PublishURL joins an RTMP ingest base and a stream key. Trailing slashes on base are ignored.
func PublishURL(base, streamKey string) string {
	return strings.TrimRight(base, "/") + "/" + streamKey
}
