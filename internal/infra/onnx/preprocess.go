package onnx

import (
	"image"

	"github.com/nfnt/resize"
)

// Preprocess は画像をモデル入力サイズへリサイズし、チャンネルごとに正規化した
// CHW順のfloat32スライスへ変換する
func Preprocess(img image.Image, size int, mean, std []float32) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	bounds := resized.Bounds()
	pixels := make([]float32, 3*size*size)
	plane := size * size

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			// RGBAは16bitスケールなので [0,1] へ落とす
			idx := y*size + x
			pixels[idx] = (float32(r)/65535.0 - mean[0]) / std[0]
			pixels[plane+idx] = (float32(g)/65535.0 - mean[1]) / std[1]
			pixels[2*plane+idx] = (float32(b)/65535.0 - mean[2]) / std[2]
		}
	}

	return pixels
}
