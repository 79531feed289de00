package imgutil

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"net/http"
	"sync"

	_ "golang.org/x/image/webp"
)

// placeholderPNG は 1x1 の完全透過 PNG です。一度だけエンコードして使い回します。
var placeholderPNG = sync.OnceValue(func() []byte {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		panic("imgutil: placeholder encode failed: " + err.Error())
	}
	return buf.Bytes()
})

// Placeholder はフレーム生成に失敗した際に差し込む固定の 1x1 透過 PNG を返します。
// 呼び出し側で書き換えても共有データが壊れないようにコピーを返します。
func Placeholder() []byte {
	return bytes.Clone(placeholderPNG())
}

// IsPlaceholder はデータがプレースホルダー画像と一致するかを判定します。
func IsPlaceholder(data []byte) bool {
	return bytes.Equal(data, placeholderPNG())
}

// Decode は PNG, JPEG, GIF, WebP の画像データをデコードします。
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("画像のデコードに失敗しました: %w", err)
	}
	return img, nil
}

// EncodePNG は画像を PNG にエンコードします。
func EncodePNG(img image.Image) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		return nil, fmt.Errorf("PNGエンコードに失敗しました: %w", err)
	}
	return buf.Bytes(), nil
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// NormalizePNG は画像データを PNG に揃えます。既に PNG ならそのまま返します。
func NormalizePNG(data []byte) ([]byte, error) {
	if bytes.HasPrefix(data, pngSignature) {
		return data, nil
	}
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return EncodePNG(img)
}

// CompressToJPEG は画像データ（PNG, GIF, JPEG等）をJPEG形式に圧縮します。
// 透過部分は黒になるため、参照画像のアップロード用途に限って使います。
func CompressToJPEG(data []byte, quality int) ([]byte, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ToDataURL はバイト列を data URL に変換します。MIMEタイプは内容から判定します。
func ToDataURL(data []byte) string {
	mimeType := http.DetectContentType(data)
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
