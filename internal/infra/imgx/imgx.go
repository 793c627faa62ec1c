package imgx

import (
	"bytes"
	"errors"
	"image"
	_ "image/gif" // 注册 GIF 解码器
	"image/jpeg"
	_ "image/png" // 注册 PNG 解码器（缩略图仓库基本都是 PNG）

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // 注册 WebP 解码器
)

// JPEGQuality 是重新编码时使用的质量。
const JPEGQuality = 90

// NormalizeJPEG 把任意可解码的图片转换为 JPEG，并按 maxDim 等比缩小（maxDim<=0 表示不缩放）。
//
// 返回值 changed=false 表示原样返回（输入本来就是 JPEG 且无需缩放）。
// 这里不承担“图片是否有效”的判断：解码失败由调用方决定如何处理。
func NormalizeJPEG(data []byte, maxDim int) (out []byte, changed bool, err error) {
	if len(data) == 0 {
		return nil, false, errors.New("图片为空")
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false, err
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, false, errors.New("图片尺寸无效")
	}

	w, h := fit(b.Dx(), b.Dy(), maxDim)
	if format == "jpeg" && w == b.Dx() && h == b.Dy() {
		return data, false, nil
	}

	var src image.Image = img
	if w != b.Dx() || h != b.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
		src = dst
	} else if hasAlpha(img) {
		// JPEG 没有透明通道：先铺白底，避免透明区域变黑。
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
		src = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, false, err
	}
	return buf.Bytes(), true, nil
}

// fit 计算等比缩放后的尺寸，使长边不超过 maxDim。
func fit(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		nh := h * maxDim / w
		if nh < 1 {
			nh = 1
		}
		return maxDim, nh
	}
	nw := w * maxDim / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxDim
}

func hasAlpha(img image.Image) bool {
	switch m := img.(type) {
	case *image.RGBA:
		return !m.Opaque()
	case *image.NRGBA:
		return !m.Opaque()
	case *image.Paletted:
		return !m.Opaque()
	default:
		return false
	}
}
