package fetcher

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// decodeBody undoes content encodings Colly leaves in place. Colly already
// inflates gzip, so only brotli and deflate are handled here. On a decode
// failure the raw body is returned with the error.
func decodeBody(encoding string, body []byte) ([]byte, error) {
	encoding = strings.ToLower(strings.TrimSpace(encoding))
	if len(body) == 0 || encoding == "" {
		return body, nil
	}

	var r io.Reader
	switch {
	case strings.Contains(encoding, "br"):
		r = brotli.NewReader(bytes.NewReader(body))
	case strings.Contains(encoding, "deflate"):
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			// Some servers send raw deflate without the zlib wrapper.
			r = flate.NewReader(bytes.NewReader(body))
		} else {
			r = zr
		}
	default:
		return body, nil
	}

	decoded, err := io.ReadAll(r)
	if err != nil {
		return body, err
	}
	return decoded, nil
}
