// Package preprocess turns uploaded image bytes into the normalized
// [1, 3, H, W] float32 tensor the classifier expects.
package preprocess

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"gorgonia.org/tensor"
)

const (
	// InputSize is the square side length of the model input.
	InputSize = 224
	// Channels is the number of colour channels fed to the model.
	Channels = 3
	// DefaultMaxPixels caps the decoded width*height of an upload.
	DefaultMaxPixels = 178956970
)

// ImageNet channel statistics. The checkpoint was trained with these and
// parity depends on using them exactly.
var (
	ImageNetMean = [Channels]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [Channels]float32{0.229, 0.224, 0.225}
)

// Config holds the preprocessing constants.
type Config struct {
	// Width and Height of the resized image. Aspect ratio is not kept.
	Width  int
	Height int
	// Mean and Std are applied per channel after scaling to [0, 1].
	Mean [Channels]float32
	Std  [Channels]float32
	// Filter is the resampling kernel used for resizing.
	Filter resize.InterpolationFunction
	// MaxPixels rejects images whose header declares more pixels than
	// this before any pixel data is allocated. Zero disables the check.
	MaxPixels int
}

// DefaultConfig returns the configuration the retina checkpoint was
// trained with.
func DefaultConfig() Config {
	return Config{
		Width:     InputSize,
		Height:    InputSize,
		Mean:      ImageNetMean,
		Std:       ImageNetStd,
		Filter:    resize.Bilinear,
		MaxPixels: DefaultMaxPixels,
	}
}

// Shape returns the tensor shape produced for this configuration.
func (c Config) Shape() []int {
	return []int{1, Channels, c.Height, c.Width}
}

// Preprocessor converts encoded images to model input tensors. It holds no
// mutable state and is safe for concurrent use.
type Preprocessor struct {
	config Config
}

// New creates a Preprocessor.
func New(config Config) *Preprocessor {
	return &Preprocessor{config: config}
}

// Config returns the preprocessing constants in use.
func (p *Preprocessor) Config() Config {
	return p.config
}

// Preprocess decodes data and returns a [1, 3, H, W] tensor. The only
// failure mode is an undecodable payload.
func (p *Preprocessor) Preprocess(data []byte) (*tensor.Dense, error) {
	img, _, err := DecodeLimited(data, p.config.MaxPixels)
	if err != nil {
		return nil, err
	}
	return p.FromImage(img), nil
}

// FromImage runs every step after decoding.
func (p *Preprocessor) FromImage(img image.Image) *tensor.Dense {
	rgb := ToRGB(img)
	resized := resize.Resize(uint(p.config.Width), uint(p.config.Height), rgb, p.config.Filter)
	return tensor.New(
		tensor.WithShape(p.config.Shape()...),
		tensor.WithBacking(p.toCHW(resized)),
	)
}

// Decode decodes data with any registered image format and returns the
// format name.
func Decode(data []byte) (image.Image, string, error) {
	return DecodeLimited(data, 0)
}

// DecodeLimited is Decode with a cap on the declared pixel count. The
// header is read first so oversized images fail without allocating.
func DecodeLimited(data []byte, maxPixels int) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", errors.New("decode image: empty payload")
	}
	if maxPixels > 0 {
		cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, "", errors.Wrap(err, "decode image")
		}
		if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > int64(maxPixels) {
			return nil, "", errors.Errorf("decode image: %s image is %dx%d, exceeding the %d pixel limit",
				format, cfg.Width, cfg.Height, maxPixels)
		}
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", errors.Wrap(err, "decode image")
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, "", errors.Errorf("decode image: zero-sized %s image", format)
	}
	return img, format, nil
}

// ToRGB returns an opaque copy of img. Alpha is dropped without
// premultiplying, grayscale and palette images are expanded to three
// channels.
func ToRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	set := func(x, y int, r, g, bl uint8) {
		i := dst.PixOffset(x-b.Min.X, y-b.Min.Y)
		dst.Pix[i+0] = r
		dst.Pix[i+1] = g
		dst.Pix[i+2] = bl
		dst.Pix[i+3] = 0xff
	}

	switch src := img.(type) {
	case *image.NRGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := src.NRGBAAt(x, y)
				set(x, y, c.R, c.G, c.B)
			}
		}
	case *image.NRGBA64:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := src.NRGBA64At(x, y)
				set(x, y, uint8(c.R>>8), uint8(c.G>>8), uint8(c.B>>8))
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				set(x, y, c.R, c.G, c.B)
			}
		}
	}
	return dst
}

// toCHW scales 8-bit pixels to [0, 1], normalizes each channel and lays
// the result out channel-first.
func (p *Preprocessor) toCHW(img image.Image) []float32 {
	width, height := p.config.Width, p.config.Height
	plane := width * height
	data := make([]float32, Channels*plane)

	pixel := func(x, y int) (uint8, uint8, uint8) {
		r, g, b, _ := img.At(x, y).RGBA()
		return uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)
	}
	if rgba, ok := img.(*image.RGBA); ok {
		origin := rgba.Bounds().Min
		pixel = func(x, y int) (uint8, uint8, uint8) {
			i := rgba.PixOffset(origin.X+x, origin.Y+y)
			return rgba.Pix[i], rgba.Pix[i+1], rgba.Pix[i+2]
		}
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b := pixel(x, y)
			i := y*width + x
			data[i] = p.normalize(0, r)
			data[plane+i] = p.normalize(1, g)
			data[2*plane+i] = p.normalize(2, b)
		}
	}
	return data
}

func (p *Preprocessor) normalize(channel int, v uint8) float32 {
	return (float32(v)/255.0 - p.config.Mean[channel]) / p.config.Std[channel]
}
