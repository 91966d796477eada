package rtc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3/pkg/media/samplebuilder"
	"golang.org/x/image/vp8"

	"vigil/internal/frame"
)

const maxLatePackets = 128

// rtpReader is the part of *webrtc.TrackRemote the decoder needs.
type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type rtcpWriter interface {
	WriteRTCP(pkts []rtcp.Packet) error
}

// consume depacketizes VP8 from r and hands every decodable key frame to h
// until ctx is canceled or the track ends.
func consume(ctx context.Context, r rtpReader, h FrameHandler, now func() time.Time) error {
	sb := samplebuilder.New(maxLatePackets, &codecs.VP8Packet{}, 90000)
	dec := vp8.NewDecoder()

	for {
		if ctx.Err() != nil {
			return nil
		}
		pkt, _, err := r.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read rtp: %w", err)
		}
		sb.Push(pkt)

		for sample := sb.Pop(); sample != nil; sample = sb.Pop() {
			img, ok := decodeKeyframe(dec, sample.Data)
			if !ok {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			h.HandleFrame(ctx, frame.Downscale(img, frame.MaxWidth), now())
		}
	}
}

// isKeyframe reads the VP8 frame tag: bit 0 clear marks a key frame.
func isKeyframe(data []byte) bool {
	return len(data) >= 10 && data[0]&0x01 == 0
}

// decodeKeyframe decodes data when it is a VP8 key frame. Inter frames are
// skipped since the decoder only supports intra coding.
func decodeKeyframe(dec *vp8.Decoder, data []byte) (image.Image, bool) {
	if !isKeyframe(data) {
		return nil, false
	}
	dec.Init(bytes.NewReader(data), len(data))
	fh, err := dec.DecodeFrameHeader()
	if err != nil || !fh.KeyFrame {
		return nil, false
	}
	img, err := dec.DecodeFrame()
	if err != nil {
		return nil, false
	}
	return img, true
}

// requestKeyframes sends a picture loss indication every interval.
func requestKeyframes(ctx context.Context, w rtcpWriter, ssrc uint32, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
				if errors.Is(err, io.ErrClosedPipe) {
					return
				}
				log.Debug("pli failed", "error", err)
			}
		}
	}
}
