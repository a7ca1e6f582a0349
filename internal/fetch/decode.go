package fetch

import (
	"bufio"
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"golang.org/x/net/html/charset"
)

// ErrBodyTooLarge is returned when a response exceeds the configured body cap.
var ErrBodyTooLarge = errors.New("response body too large")

var gzipMagic = []byte{0x1f, 0x8b}

// readBody drains resp.Body, undoing Content-Encoding and the gzip container
// of .gz URLs, then converts HTML bodies to UTF-8.
func readBody(resp *http.Response, rawURL string, maxBytes int64) ([]byte, error) {
	reader, closer, err := decodingReader(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}
	if closer != nil {
		defer closer.Close()
	}

	body, err := readLimited(reader, maxBytes)
	if err != nil {
		return nil, err
	}

	if isGzipURL(rawURL) && bytes.HasPrefix(body, gzipMagic) {
		body, err = gunzip(body, maxBytes)
		if err != nil {
			return nil, err
		}
	}

	if isHTML(resp.Header.Get("Content-Type")) {
		body, err = toUTF8(body, resp.Header.Get("Content-Type"))
		if err != nil {
			return nil, err
		}
	}
	return body, nil
}

func decodingReader(body io.Reader, encoding string) (io.Reader, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nil, nil
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, nil, fmt.Errorf("open gzip body: %w", err)
		}
		return gz, gz, nil
	case "deflate":
		// Servers disagree on whether deflate means zlib-wrapped or raw.
		buffered := bufio.NewReader(body)
		header, _ := buffered.Peek(2)
		if len(header) == 2 && header[0]&0x0f == 8 && (uint16(header[0])<<8|uint16(header[1]))%31 == 0 {
			zr, err := zlib.NewReader(buffered)
			if err != nil {
				return nil, nil, fmt.Errorf("open zlib body: %w", err)
			}
			return zr, zr, nil
		}
		fr := flate.NewReader(buffered)
		return fr, fr, nil
	default:
		return body, nil, nil
	}
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		body, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return body, nil
	}
	body, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("read body: %w (limit %d bytes)", ErrBodyTooLarge, maxBytes)
	}
	return body, nil
}

func gunzip(data []byte, maxBytes int64) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip payload: %w", err)
	}
	defer gz.Close()
	return readLimited(gz, maxBytes)
}

func isGzipURL(rawURL string) bool {
	path := rawURL
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func toUTF8(body []byte, contentType string) ([]byte, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		// Unknown label: keep the raw bytes rather than failing the fetch.
		return body, nil
	}
	converted, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("convert charset: %w", err)
	}
	return converted, nil
}
