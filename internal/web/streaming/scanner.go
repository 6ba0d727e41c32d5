package streaming

import (
	"bufio"
	"io"
)

// jpegScanner splits a byte stream into complete JPEG images. The
// transcoder's mpjpeg output wraps each image in multipart headers;
// everything between an EOI marker and the next SOI, headers included,
// is discarded.
type jpegScanner struct {
	br *bufio.Reader
}

func newJPEGScanner(r io.Reader) *jpegScanner {
	return &jpegScanner{br: bufio.NewReaderSize(r, 256*1024)}
}

// Next returns the next complete image, from SOI (FF D8) through EOI
// (FF D9), or the read error that ended the stream.
func (s *jpegScanner) Next() ([]byte, error) {
	for {
		b, err := s.br.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != 0xff {
			continue
		}
		next, err := s.br.ReadByte()
		if err != nil {
			return nil, err
		}
		if next == 0xd8 {
			break
		}
		// Not a frame start; the byte may still open one.
		if err := s.br.UnreadByte(); err != nil {
			return nil, err
		}
	}

	frame := []byte{0xff, 0xd8}
	for {
		b, err := s.br.ReadByte()
		if err != nil {
			return nil, err
		}
		frame = append(frame, b)
		if len(frame) >= 4 && frame[len(frame)-2] == 0xff && frame[len(frame)-1] == 0xd9 {
			return frame, nil
		}
	}
}
