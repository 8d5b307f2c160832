package tesseract

import (
	"slices"
	"testing"
)

func TestLanguages(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{nil, DefaultLanguages},
		{[]string{"ja"}, []string{"jpn"}},
		{[]string{"JA", "en"}, []string{"jpn", "eng"}},
		{[]string{"zh-TW", "ko"}, []string{"chi_tra", "kor"}},
		{[]string{"deu"}, []string{"deu"}},
		{[]string{""}, DefaultLanguages},
	}

	for _, tt := range tests {
		if got := Languages(tt.in...); !slices.Equal(got, tt.want) {
			t.Errorf("Languages(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
