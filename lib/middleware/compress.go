package middleware

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"

	"github.com/axonhttp/axon/lib/web"
)

// CompressOptions configures response compression.
type CompressOptions struct {
	Threshold int // minimum body size in bytes, default 1024
	Level     int // compression level, default gzip.DefaultCompression
}

// encodingPref is a parsed Accept-Encoding entry.
type encodingPref struct {
	encoding string
	quality  float64
}

// server preference when the client's qualities tie
var encodingOrder = []string{"br", "gzip", "deflate"}

// Compress returns a middleware compressing responses larger than the threshold
// with the best encoding the client accepts. Bodies below the threshold, streams
// of unknown size excepted, pass through with their length intact.
func Compress(opts CompressOptions) web.Handler {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = 1024
	}
	level := opts.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}

	return func(c *web.Context, next web.Next) error {
		if err := next(); err != nil {
			return err
		}

		if c.Method() == "HEAD" {
			return nil
		}
		if c.Response.Get("Content-Encoding") != "" {
			return nil
		}

		body := c.Body()
		if body == nil {
			return nil
		}

		encoding := negotiateEncoding(c.Request.Header.Get("Accept-Encoding"))
		c.Response.Append("Vary", "Accept-Encoding")
		if encoding == "" {
			return nil
		}

		switch b := body.(type) {
		case string:
			if len(b) < threshold {
				return nil
			}
			return compressBytes(c, []byte(b), encoding, level)
		case []byte:
			if len(b) < threshold {
				return nil
			}
			return compressBytes(c, b, encoding, level)
		case io.Reader:
			// unknown length, compress unconditionally
			return compressStream(c, b, encoding, level)
		default:
			raw, err := web.MarshalBody(b)
			if err != nil {
				return err
			}
			if len(raw) < threshold {
				return nil
			}
			return compressBytes(c, raw, encoding, level)
		}
	}
}

func compressBytes(c *web.Context, raw []byte, encoding string, level int) error {
	var buf bytes.Buffer
	cw, err := newEncodingWriter(&buf, encoding, level)
	if err != nil {
		return err
	}
	if _, err = cw.Write(raw); err != nil {
		return err
	}
	if err = cw.Close(); err != nil {
		return err
	}
	c.Response.Set("Content-Encoding", encoding)
	c.Response.Remove("Content-Length")
	// hand finalization a reader, the byte-slice path would stamp the
	// compressed size back onto Content-Length
	c.Response.ReplaceBody(bytes.NewReader(buf.Bytes()))
	return nil
}

func compressStream(c *web.Context, r io.Reader, encoding string, level int) error {
	pr, pw := io.Pipe()
	cw, err := newEncodingWriter(pw, encoding, level)
	if err != nil {
		return err
	}
	go func() {
		_, cpErr := io.Copy(cw, r)
		if clErr := cw.Close(); cpErr == nil {
			cpErr = clErr
		}
		_ = pw.CloseWithError(cpErr)
		if rc, ok := r.(io.Closer); ok {
			_ = rc.Close()
		}
	}()
	c.Response.Set("Content-Encoding", encoding)
	c.Response.Remove("Content-Length")
	c.Response.ReplaceBody(pr)
	return nil
}

func newEncodingWriter(w io.Writer, encoding string, level int) (io.WriteCloser, error) {
	switch encoding {
	case "gzip":
		if level > gzip.BestCompression {
			level = gzip.BestCompression
		}
		return gzip.NewWriterLevel(w, level)
	case "deflate":
		if level > flate.BestCompression {
			level = flate.BestCompression
		}
		return flate.NewWriter(w, level)
	case "br":
		if level < 0 || level > brotli.BestCompression {
			level = brotli.DefaultCompression
		}
		return brotli.NewWriterLevel(w, level), nil
	}
	return nil, &web.PipelineError{Reason: "unsupported content encoding " + encoding}
}

// negotiateEncoding picks the best supported encoding from an Accept-Encoding
// header per RFC 7231 section 5.3.4. Empty result means identity.
func negotiateEncoding(header string) string {
	prefs := parseAcceptEncoding(header)
	if len(prefs) == 0 {
		return ""
	}

	client := make(map[string]float64, len(prefs))
	wildcard := -1.0
	for _, p := range prefs {
		if p.encoding == "*" {
			wildcard = p.quality
			continue
		}
		client[strings.ToLower(p.encoding)] = p.quality
	}

	best, bestQ := "", -1.0
	for _, enc := range encodingOrder {
		q, explicit := client[enc]
		if !explicit {
			if wildcard < 0 {
				continue
			}
			q = wildcard
		}
		if q <= 0 {
			continue
		}
		if q > bestQ {
			best, bestQ = enc, q
		}
	}
	return best
}

func parseAcceptEncoding(header string) []encodingPref {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	prefs := make([]encodingPref, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		enc, q := part, 1.0
		if idx := strings.Index(part, ";"); idx != -1 {
			enc = strings.TrimSpace(part[:idx])
			param := strings.TrimSpace(part[idx+1:])
			if strings.HasPrefix(param, "q=") {
				if v, err := strconv.ParseFloat(param[2:], 64); err == nil {
					q = v
				}
			}
		}
		prefs = append(prefs, encodingPref{encoding: enc, quality: q})
	}
	return prefs
}
