package textutil

import (
	"strings"
	"testing"

	"github.com/kaimel/archiver/internal/testutil"
)

func TestDecodeUTF8Passthrough(t *testing.T) {
	tests := []struct {
		name    string
		charset string
		input   []byte
	}{
		{"empty charset", "", []byte("Hello, World!")},
		{"utf-8", "utf-8", []byte("Hello 世界")},
		{"UTF-8 upper", "UTF-8", []byte("Привет")},
		{"us-ascii", "us-ascii", []byte("plain")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Decode(tt.input, tt.charset)
			if !ok {
				t.Fatalf("Decode(%q) not ok", tt.charset)
			}
			if string(got) != string(tt.input) {
				t.Errorf("got %q, want input unchanged", got)
			}
		})
	}
}

func TestDecodeStrictOnInvalidUTF8(t *testing.T) {
	if _, ok := Decode([]byte{0x92, 0x00, 0xff}, "utf-8"); ok {
		t.Error("Decode accepted invalid UTF-8 under a utf-8 label")
	}
}

func TestDecodeUnknownCharset(t *testing.T) {
	if _, ok := Decode([]byte("data"), "x-klingon"); ok {
		t.Error("Decode accepted an unknown charset name")
	}
}

func TestDecodeCharsets(t *testing.T) {
	enc := testutil.EncodedSamples()
	tests := []struct {
		name    string
		charset string
		input   []byte
		want    string
	}{
		{"windows-1252 smart quote", "windows-1252", enc.Win1252_SmartQuoteRight, "Rand’s Opponent"},
		{"windows-1252 euro", "windows-1252", enc.Win1252_Euro, "Price: €100"},
		{"cp1252 alias", "cp1252", enc.Win1252_EmDash, "Hello—World"},
		{"iso-8859-1", "iso-8859-1", enc.Latin1_CCedilla, "Garçon"},
		{"latin1 alias", "latin1", enc.Latin1_NTilde, "España"},
		{"shift_jis", "shift_jis", enc.ShiftJIS_Konnichiwa, "こんにちは"},
		{"SJIS mixed case", "Shift-JIS", enc.ShiftJIS_Konnichiwa, "こんにちは"},
		{"gbk", "gbk", enc.GBK_Nihao, "你好"},
		{"big5", "big5", enc.Big5_Nihao, "妯好"},
		{"euc-kr", "euc-kr", enc.EUCKR_Annyeong, "안녕"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Decode(tt.input, tt.charset)
			if !ok {
				t.Fatalf("Decode(%q) not ok", tt.charset)
			}
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			testutil.AssertValidUTF8(t, string(got))
		})
	}
}

func TestDetectCharsetLongSamples(t *testing.T) {
	enc := testutil.EncodedSamples()
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{"shift-jis", enc.ShiftJIS_Long, enc.ShiftJIS_Long_UTF8},
		{"gbk", enc.GBK_Long, enc.GBK_Long_UTF8},
		{"big5", enc.Big5_Long, enc.Big5_Long_UTF8},
		{"euc-kr", enc.EUCKR_Long, enc.EUCKR_Long_UTF8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			charset := DetectCharset(tt.input)
			if charset == "" {
				t.Fatal("no charset detected for a long sample")
			}
			got, ok := Decode(tt.input, charset)
			if !ok {
				t.Fatalf("detected charset %q cannot decode its own sample", charset)
			}
			if string(got) != tt.want {
				t.Errorf("decoded %q via %q, want %q", got, charset, tt.want)
			}
		})
	}
}

func TestDetectCharsetEmpty(t *testing.T) {
	if got := DetectCharset(nil); got != "" {
		t.Errorf("DetectCharset(nil) = %q, want empty", got)
	}
}

func TestSanitizeUTF8(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"valid passthrough", "Hello 世界", "Hello 世界"},
		{"empty", "", ""},
		{"lone continuation byte", "a\x92b", "a�b"},
		{"truncated sequence", "ok\xe4\xb8", "ok��"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeUTF8(tt.input)
			if got != tt.want {
				t.Errorf("SanitizeUTF8(%q) = %q, want %q", tt.input, got, tt.want)
			}
			testutil.AssertValidUTF8(t, got)
		})
	}
}

func TestSanitizeUTF8ValidInputUnchanged(t *testing.T) {
	in := strings.Repeat("résumé ", 100)
	if got := SanitizeUTF8(in); got != in {
		t.Error("valid input was rewritten")
	}
}
