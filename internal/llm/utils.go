package llm

import (
	"encoding/base64"
	"mime"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/scan2csv/constants"
)

// DataURL renders an image as a base64 data URL.
func DataURL(img Image) string {
	mt := img.MIME
	if mt == "" {
		mt = "image/png"
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// ReadImage loads an image file with its MIME type.
func ReadImage(path string) (Image, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Image{}, err
	}
	ext := constants.NormalizeExt(filepath.Ext(path))
	mt := mime.TypeByExtension("." + ext)
	if mt == "" {
		mt = constants.MimeForExt(ext)
	}
	return Image{MIME: mt, Data: b}, nil
}
