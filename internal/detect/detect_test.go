package detect

import "testing"

func pad(b []byte) []byte {
	for len(b) < 12 {
		b = append(b, 0)
	}
	return b
}

func TestClassifySignatures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		buf  []byte
		hint Hint
		want Kind
	}{
		{name: "pdf", buf: pad([]byte("%PDF-1.7")), want: KindPDF},
		{name: "zip docx", buf: pad([]byte{'P', 'K', 0x03, 0x04}), want: KindDocx},
		{name: "png", buf: pad([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}), want: KindImage},
		{name: "jpeg", buf: pad([]byte{0xFF, 0xD8, 0xFF, 0xE0}), want: KindImage},
		{name: "gif", buf: pad([]byte("GIF89a")), want: KindImage},
		{name: "webp", buf: append([]byte("RIFF\x00\x00\x00\x00"), []byte("WEBP")...), want: KindImage},
		{name: "id3 mp3", buf: pad([]byte("ID3\x04")), want: KindAudio},
		{name: "mp3 frame", buf: pad([]byte{0xFF, 0xFB, 0x90, 0x00}), want: KindAudio},
		{name: "ogg", buf: pad([]byte("OggS")), want: KindAudio},
		{name: "wav", buf: append([]byte("RIFF\x24\x00\x00\x00"), []byte("WAVE")...), want: KindAudio},
		{name: "ole2 legacy doc", buf: pad([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}), want: KindDocx},
		{
			name: "ole2 outlook msg is unsupported",
			buf:  pad([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}),
			hint: Hint{FileName: "forwarded.msg"},
			want: KindUnknown,
		},
		{
			name: "ole2 outlook mime is unsupported",
			buf:  pad([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}),
			hint: Hint{ContentType: "application/vnd.ms-outlook"},
			want: KindUnknown,
		},
		{
			name: "ole2 legacy spreadsheet is unsupported",
			buf:  pad([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}),
			hint: Hint{FileName: "report.xls"},
			want: KindUnknown,
		},
		{name: "unknown bytes", buf: pad([]byte("\x00\x01\x02\x03\x04\x05\x06\x07")), want: KindUnknown},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tt.buf, tt.hint); got != tt.want {
				t.Fatalf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassifyFallsBackToDeclaredType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		hint Hint
		want Kind
	}{
		{name: "image mime", hint: Hint{ContentType: "image/png"}, want: KindImage},
		{name: "audio mime", hint: Hint{ContentType: "audio/ogg"}, want: KindAudio},
		{name: "pdf mime", hint: Hint{ContentType: "application/pdf"}, want: KindPDF},
		{name: "modern word mime", hint: Hint{ContentType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document"}, want: KindDocx},
		{name: "legacy word mime", hint: Hint{ContentType: "application/msword"}, want: KindDocx},
		{name: "video routes to image", hint: Hint{ContentType: "video/mp4"}, want: KindImage},
		{name: "no hint", hint: Hint{}, want: KindUnknown},
	}

	junk := []byte("not a known signature at all")
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(junk, tt.hint); got != tt.want {
				t.Fatalf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassifyShortBufferUsesHint(t *testing.T) {
	t.Parallel()

	if got := Classify([]byte("abc"), Hint{ContentType: "audio/mpeg"}); got != KindAudio {
		t.Fatalf("Classify() = %q, want %q", got, KindAudio)
	}
	if got := Classify(nil, Hint{}); got != KindUnknown {
		t.Fatalf("Classify() = %q, want unknown", got)
	}
}

func TestSignatureBeatsDeclaredType(t *testing.T) {
	t.Parallel()

	// A PDF declared as an image classifies as pdf; the stored type is
	// corrected downstream.
	got := Classify(pad([]byte("%PDF-1.4")), Hint{ContentType: "image/jpeg", FileName: "scan.jpg"})
	if got != KindPDF {
		t.Fatalf("Classify() = %q, want %q", got, KindPDF)
	}
}
