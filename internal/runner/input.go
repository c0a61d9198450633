package runner

import "slices"

// Kind tags the modality carried by an Input.
type Kind uint8

const (
	KindText Kind = iota + 1
	KindTokens
	KindImage
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindTokens:
		return "tokens"
	case KindImage:
		return "image"
	case KindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Image is raw pixel data in channel-major (CHW) order.
type Image struct {
	Width    int
	Height   int
	Channels int
	Data     []uint8
}

// Audio is mono PCM audio normalised to [-1, 1].
type Audio struct {
	SampleRate int
	Samples    []float32
}

// Input is one element of the logical stream fed to Prefill. The zero value
// is not a valid input; use one of the constructors.
type Input struct {
	kind   Kind
	text   string
	tokens []uint64
	image  Image
	audio  Audio
}

func TextInput(text string) Input {
	return Input{kind: KindText, text: text}
}

func TokenInput(ids []uint64) Input {
	return Input{kind: KindTokens, tokens: slices.Clone(ids)}
}

func ImageInput(img Image) Input {
	img.Data = slices.Clone(img.Data)
	return Input{kind: KindImage, image: img}
}

func AudioInput(a Audio) Input {
	a.Samples = slices.Clone(a.Samples)
	return Input{kind: KindAudio, audio: a}
}

func (in Input) Kind() Kind { return in.kind }

func (in Input) IsText() bool { return in.kind == KindText }

func (in Input) IsTokens() bool { return in.kind == KindTokens }

// IsNonText reports whether the input is an encoder modality (image, audio).
func (in Input) IsNonText() bool {
	return in.kind == KindImage || in.kind == KindAudio
}

// Text returns the prompt text. It is empty for non-text inputs.
func (in Input) Text() string { return in.text }

// Tokens returns a copy of the token span.
func (in Input) Tokens() []uint64 { return slices.Clone(in.tokens) }

// Image returns the image payload. The pixel slice is shared and must not be
// modified.
func (in Input) Image() Image { return in.image }

func (in Input) Audio() Audio { return in.audio }
