package toy

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/image/draw"

	"github.com/samcharles93/mmrunner/internal/runner"
)

const (
	domainImage = 0x696d67
	domainAudio = 0x617564
)

// EncodeImage resizes img to a PatchGrid x PatchGrid grid of patches and
// returns one embedding row per patch, in row-major order.
func (m *ToyLM) EncodeImage(img runner.Image) ([][]float32, error) {
	src, err := toNRGBA(img)
	if err != nil {
		return nil, err
	}
	side := m.cfg.PatchGrid * m.cfg.PatchSize
	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	rows := make([][]float32, 0, m.cfg.PatchGrid*m.cfg.PatchGrid)
	patch := make([]byte, 0, m.cfg.PatchSize*m.cfg.PatchSize*4)
	for py := range m.cfg.PatchGrid {
		for px := range m.cfg.PatchGrid {
			patch = patch[:0]
			for y := py * m.cfg.PatchSize; y < (py+1)*m.cfg.PatchSize; y++ {
				off := dst.PixOffset(px*m.cfg.PatchSize, y)
				patch = append(patch, dst.Pix[off:off+m.cfg.PatchSize*4]...)
			}
			rows = append(rows, m.hashVector(domainImage, xxhash.Sum64(patch)))
		}
	}
	return rows, nil
}

// EncodeAudio returns one row per AudioFrame samples; a trailing partial
// frame gets its own row.
func (m *ToyLM) EncodeAudio(a runner.Audio) ([][]float32, error) {
	if a.SampleRate <= 0 {
		return nil, fmt.Errorf("audio sample rate must be positive, got %d", a.SampleRate)
	}
	frame := m.cfg.AudioFrame
	rows := make([][]float32, 0, (len(a.Samples)+frame-1)/frame)
	buf := make([]byte, 0, frame*2)
	for start := 0; start < len(a.Samples); start += frame {
		buf = buf[:0]
		for _, s := range a.Samples[start:min(start+frame, len(a.Samples))] {
			q := int16(math.Round(float64(max(-1, min(1, s))) * math.MaxInt16))
			buf = binary.LittleEndian.AppendUint16(buf, uint16(q))
		}
		rows = append(rows, m.hashVector(domainAudio, xxhash.Sum64(buf)))
	}
	return rows, nil
}

// toNRGBA converts channel-major pixels to an image. One channel is treated
// as grey; a fourth channel is alpha.
func toNRGBA(img runner.Image) (*image.NRGBA, error) {
	if img.Width <= 0 || img.Height <= 0 {
		return nil, fmt.Errorf("image has invalid size %dx%d", img.Width, img.Height)
	}
	if img.Channels != 1 && img.Channels != 3 && img.Channels != 4 {
		return nil, fmt.Errorf("image has %d channels, want 1, 3 or 4", img.Channels)
	}
	plane := img.Width * img.Height
	if len(img.Data) != plane*img.Channels {
		return nil, fmt.Errorf("image data has %d bytes, want %d", len(img.Data), plane*img.Channels)
	}

	out := image.NewNRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := range img.Height {
		for x := range img.Width {
			i := y*img.Width + x
			c := color.NRGBA{A: 0xff}
			switch img.Channels {
			case 1:
				c.R, c.G, c.B = img.Data[i], img.Data[i], img.Data[i]
			case 3, 4:
				c.R, c.G, c.B = img.Data[i], img.Data[plane+i], img.Data[2*plane+i]
				if img.Channels == 4 {
					c.A = img.Data[3*plane+i]
				}
			}
			out.SetNRGBA(x, y, c)
		}
	}
	return out, nil
}
