package api

import (
	"fmt"

	"github.com/samcharles93/mmrunner/internal/media"
	"github.com/samcharles93/mmrunner/internal/runner"
)

// toInputs converts request items into runner inputs. Encoded images are
// decoded and scaled so neither side exceeds maxImageSide.
func toInputs(items []InputItem, maxImageSide int) ([]runner.Input, error) {
	inputs := make([]runner.Input, 0, len(items))
	for i, item := range items {
		in, err := toInput(item, maxImageSide)
		if err != nil {
			return nil, newInvalidRequest(fmt.Sprintf("inputs[%d]: %v", i, err))
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func toInput(item InputItem, maxImageSide int) (runner.Input, error) {
	switch item.Type {
	case "text":
		return runner.TextInput(item.Text), nil
	case "tokens":
		if len(item.Tokens) == 0 {
			return runner.Input{}, fmt.Errorf("tokens input is empty")
		}
		return runner.TokenInput(item.Tokens), nil
	case "image":
		if item.Image == nil {
			return runner.Input{}, fmt.Errorf("image input has no image payload")
		}
		img, err := toImage(*item.Image, maxImageSide)
		if err != nil {
			return runner.Input{}, err
		}
		return runner.ImageInput(img), nil
	case "audio":
		if item.Audio == nil {
			return runner.Input{}, fmt.Errorf("audio input has no audio payload")
		}
		if item.Audio.SampleRate <= 0 {
			return runner.Input{}, fmt.Errorf("audio sample_rate must be positive")
		}
		return runner.AudioInput(runner.Audio{SampleRate: item.Audio.SampleRate, Samples: item.Audio.Samples}), nil
	case "":
		return runner.Input{}, fmt.Errorf("missing type")
	default:
		return runner.Input{}, fmt.Errorf("unknown type %q", item.Type)
	}
}

func toImage(p ImagePayload, maxImageSide int) (runner.Image, error) {
	if len(p.Data) > 0 {
		img, _, err := media.DecodeBytes(p.Data, maxImageSide)
		return img, err
	}
	if p.Width <= 0 || p.Height <= 0 || p.Channels <= 0 {
		return runner.Image{}, fmt.Errorf("raw image needs width, height and channels")
	}
	if want := p.Width * p.Height * p.Channels; len(p.Pixels) != want {
		return runner.Image{}, fmt.Errorf("raw image has %d bytes, want %d", len(p.Pixels), want)
	}
	return runner.Image{Width: p.Width, Height: p.Height, Channels: p.Channels, Data: p.Pixels}, nil
}
