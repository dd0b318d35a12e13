package service

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// Transcriber turns an uploaded solution image into LaTeX text.
type Transcriber interface {
	Transcribe(ctx context.Context, image []byte) (string, error)
}

// PNGTextTranscriber is the placeholder OCR engine. It reads the tEXt chunks a
// scanner or editor embedded in a PNG; any other image yields no text.
type PNGTextTranscriber struct{}

func (PNGTextTranscriber) Transcribe(ctx context.Context, image []byte) (string, error) {
	if !mimetype.Detect(image).Is("image/png") {
		return "", nil
	}
	var parts []string
	rest := image[len(pngSignature):]
	for len(rest) >= 12 {
		length := binary.BigEndian.Uint32(rest[:4])
		kind := string(rest[4:8])
		if uint64(len(rest)) < 12+uint64(length) {
			return "", fmt.Errorf("truncated %s chunk", kind)
		}
		data := rest[8 : 8+length]
		switch kind {
		case "tEXt":
			if i := bytes.IndexByte(data, 0); i >= 0 {
				parts = append(parts, strings.TrimSpace(string(data[i+1:])))
			}
		case "IEND":
			return strings.TrimSpace(strings.Join(parts, "\n")), nil
		}
		rest = rest[12+length:]
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), nil
}
