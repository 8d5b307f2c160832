// Package tesseract provides an in-process detector and recognizer backed
// by the Tesseract engine. It is compiled in with the "tesseract" build tag;
// without it New returns ErrUnavailable and the helper process is used.
package tesseract

import (
	"errors"
	"strings"
)

// ErrUnavailable is returned by New when the binary was built without
// Tesseract support.
var ErrUnavailable = errors.New("tesseract: not compiled in (build with -tags tesseract)")

// DefaultLanguages are the traineddata names loaded when none are configured.
var DefaultLanguages = []string{"jpn", "eng"}

// Languages maps short language codes used elsewhere in the pipeline to
// Tesseract traineddata names. Unknown codes pass through.
func Languages(codes ...string) []string {
	if len(codes) == 0 {
		return DefaultLanguages
	}
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		switch strings.ToLower(c) {
		case "ja":
			out = append(out, "jpn")
		case "en":
			out = append(out, "eng")
		case "zh", "zh-cn":
			out = append(out, "chi_sim")
		case "zh-tw":
			out = append(out, "chi_tra")
		case "ko":
			out = append(out, "kor")
		case "":
		default:
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return DefaultLanguages
	}
	return out
}
