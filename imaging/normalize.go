package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/disintegration/gift"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

const (
	// DefaultMaxDimension bounds the longest side of a stored photo in pixels.
	DefaultMaxDimension = 1600

	jpegQuality = 85
)

// Normalize decodes src, downscales it so the longest side is at most
// maxDimension pixels without changing the aspect ratio, and re-encodes the
// result as JPEG. Images already within bounds are never upscaled but are
// still re-encoded so stored payloads share one format. When no decoder
// accepts the payload the original bytes are returned unchanged.
func Normalize(src []byte, maxDimension int) []byte {
	if len(src) == 0 {
		return src
	}
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}

	img, err := decode(src)
	if err != nil {
		log.Printf("imaging: normalize: decode failed, keeping original payload: %v", err)
		return src
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width > maxDimension || height > maxDimension {
		if width >= height {
			img = render(img, gift.Resize(maxDimension, 0, gift.LanczosResampling))
		} else {
			img = render(img, gift.Resize(0, maxDimension, gift.LanczosResampling))
		}
	}

	encoded, err := encodeJPEG(img)
	if err != nil {
		log.Printf("imaging: normalize: encode failed, keeping original payload: %v", err)
		return src
	}
	return encoded
}

// CropSquare cuts the largest centered square out of src and downscales it to
// at most maxSide pixels per edge. When the payload cannot be decoded the
// call degrades to Normalize so callers always get a usable payload back.
func CropSquare(src []byte, maxSide int) []byte {
	if len(src) == 0 {
		return src
	}
	if maxSide <= 0 {
		maxSide = DefaultMaxDimension
	}

	img, err := decode(src)
	if err != nil {
		log.Printf("imaging: crop: decode failed, falling back to resize: %v", err)
		return Normalize(src, maxSide)
	}

	bounds := img.Bounds()
	side := bounds.Dx()
	if bounds.Dy() < side {
		side = bounds.Dy()
	}
	if side <= 0 {
		return Normalize(src, maxSide)
	}

	filters := []gift.Filter{gift.CropToSize(side, side, gift.CenterAnchor)}
	if side > maxSide {
		filters = append(filters, gift.Resize(maxSide, maxSide, gift.LanczosResampling))
	}

	encoded, err := encodeJPEG(render(img, filters...))
	if err != nil {
		log.Printf("imaging: crop: encode failed, falling back to resize: %v", err)
		return Normalize(src, maxSide)
	}
	return encoded
}

// Sniff reports the MIME type of the payload.
func Sniff(data []byte) string {
	return http.DetectContentType(data)
}

// EncodeDataURL renders the payload as a base64 data URL. An empty mime is
// sniffed from the payload.
func EncodeDataURL(mime string, data []byte) string {
	trimmed := strings.TrimSpace(mime)
	if trimmed == "" {
		trimmed = Sniff(data)
	}
	return "data:" + trimmed + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL splits a data URL into its MIME type and decoded payload.
func DecodeDataURL(raw string) (string, []byte, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "data:") {
		return "", nil, errors.New("imaging: not a data url")
	}

	rest := trimmed[len("data:"):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", nil, errors.New("imaging: malformed data url")
	}

	meta := rest[:comma]
	payload := rest[comma+1:]

	mime := meta
	base64Encoded := false
	if idx := strings.IndexByte(meta, ';'); idx >= 0 {
		mime = meta[:idx]
		base64Encoded = strings.Contains(strings.ToLower(meta[idx+1:]), "base64")
	}

	var data []byte
	if base64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(payload)
		}
		if err != nil {
			return "", nil, fmt.Errorf("imaging: decode data url payload: %w", err)
		}
		data = decoded
	} else {
		unescaped, err := url.QueryUnescape(payload)
		if err != nil {
			return "", nil, fmt.Errorf("imaging: unescape data url payload: %w", err)
		}
		data = []byte(unescaped)
	}

	if strings.TrimSpace(mime) == "" {
		mime = Sniff(data)
	}
	return mime, data, nil
}

// decode tries the registered decoders first and falls back to a slower,
// more forgiving pass for payloads the fast path rejects.
func decode(src []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err == nil {
		return img, nil
	}
	if lenient, lerr := decodeLenient(src); lerr == nil {
		return lenient, nil
	}
	return nil, err
}

// decodeLenient unwraps data URLs and stray whitespace, then walks every
// known decoder regardless of what the payload claims to be.
func decodeLenient(src []byte) (image.Image, error) {
	payload := bytes.TrimSpace(src)
	if bytes.HasPrefix(payload, []byte("data:")) {
		if _, data, err := DecodeDataURL(string(payload)); err == nil {
			payload = data
		}
	}

	decoders := []func(io.Reader) (image.Image, error){
		jpeg.Decode,
		png.Decode,
		gif.Decode,
		webp.Decode,
		bmp.Decode,
		tiff.Decode,
	}
	for _, tryDecode := range decoders {
		if img, err := tryDecode(bytes.NewReader(payload)); err == nil {
			return img, nil
		}
	}
	return nil, errors.New("imaging: no decoder accepted the payload")
}

func render(src image.Image, filters ...gift.Filter) image.Image {
	g := gift.New(filters...)
	dst := image.NewRGBA(g.Bounds(src.Bounds()))
	g.Draw(dst, src)
	return dst
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("imaging: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
