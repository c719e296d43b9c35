// internal/browser/static/transport.go
package static

import (
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

var (
	gzipReaderPool = sync.Pool{
		New: func() interface{} { return new(gzip.Reader) },
	}
	brotliReaderPool = sync.Pool{
		New: func() interface{} { return brotli.NewReader(nil) },
	}
	emptyReader = strings.NewReader("")
)

// compressionTransport advertises br/gzip/deflate and transparently decodes
// the response body. The static driver parses HTML itself, so it cannot rely
// on net/http's gzip-only handling.
type compressionTransport struct {
	next http.RoundTripper
}

func newCompressionTransport(next http.RoundTripper) *compressionTransport {
	return &compressionTransport{next: next}
}

// newHTTPTransport builds the default transport. Decompression is left to
// compressionTransport so brotli and deflate are handled too.
func newHTTPTransport(logger *zap.Logger) *http.Transport {
	dialer := &net.Dialer{Timeout: 15 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
		DisableCompression:    true,
		ForceAttemptHTTP2:     true,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1", zap.Error(err))
	}
	return transport
}

func (t *compressionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "br, gzip, deflate")
	}
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if err := decompress(resp); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to initialize response decompression: %w", err)
	}
	return resp, nil
}

// CloseIdleConnections forwards to the wrapped transport so Page.Close frees
// pooled connections.
func (t *compressionTransport) CloseIdleConnections() {
	if c, ok := t.next.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}

// decodedBody closes the decoder and the original body, returning pooled
// readers once.
type decodedBody struct {
	io.Reader
	closeDecoder func() error
	original     io.ReadCloser
}

func (b *decodedBody) Close() error {
	var err1 error
	if b.closeDecoder != nil {
		err1 = b.closeDecoder()
		b.closeDecoder = nil
	}
	return errors.Join(err1, b.original.Close())
}

// decompress wraps resp.Body according to Content-Encoding. Only the
// outermost encoding is handled; layered encodings are rare for HTML.
func decompress(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	encodings := resp.Header.Values("Content-Encoding")
	if len(encodings) == 0 {
		return nil
	}
	encoding := strings.ToLower(strings.TrimSpace(encodings[len(encodings)-1]))

	var body *decodedBody
	switch encoding {
	case "", "identity":
		return nil
	case "gzip", "x-gzip":
		zr := gzipReaderPool.Get().(*gzip.Reader)
		if err := zr.Reset(resp.Body); err != nil {
			gzipReaderPool.Put(zr)
			return fmt.Errorf("gzip: %w", err)
		}
		body = &decodedBody{Reader: zr, original: resp.Body, closeDecoder: func() error {
			err := zr.Close()
			_ = zr.Reset(emptyReader)
			gzipReaderPool.Put(zr)
			return err
		}}
	case "br":
		br := brotliReaderPool.Get().(*brotli.Reader)
		if err := br.Reset(resp.Body); err != nil {
			brotliReaderPool.Put(br)
			return fmt.Errorf("brotli: %w", err)
		}
		body = &decodedBody{Reader: br, original: resp.Body, closeDecoder: func() error {
			_ = br.Reset(emptyReader)
			brotliReaderPool.Put(br)
			return nil
		}}
	case "deflate":
		// Servers disagree on whether deflate means zlib framing or raw
		// deflate. Try zlib first and fall back to raw on a header error.
		buffered := newPeekReader(resp.Body)
		var rc io.ReadCloser
		if zr, err := zlib.NewReader(buffered); err == nil {
			rc = zr
		} else {
			buffered.rewind()
			rc = flate.NewReader(buffered)
		}
		body = &decodedBody{Reader: rc, original: resp.Body, closeDecoder: rc.Close}
	default:
		return fmt.Errorf("unsupported content encoding '%s'", encoding)
	}

	resp.Body = body
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// peekReader records what it reads until rewind is called, so a failed zlib
// header probe can be replayed into a raw flate reader.
type peekReader struct {
	src      io.Reader
	buf      []byte
	pos      int
	replay   bool
	recorded bool
}

func newPeekReader(src io.Reader) *peekReader {
	return &peekReader{src: src, recorded: true}
}

func (p *peekReader) rewind() {
	p.replay = true
	p.recorded = false
	p.pos = 0
}

func (p *peekReader) Read(b []byte) (int, error) {
	if p.replay && p.pos < len(p.buf) {
		n := copy(b, p.buf[p.pos:])
		p.pos += n
		return n, nil
	}
	n, err := p.src.Read(b)
	if p.recorded && n > 0 {
		p.buf = append(p.buf, b[:n]...)
	}
	return n, err
}

// ReadByte lets flate and zlib read the header without over-reading.
func (p *peekReader) ReadByte() (byte, error) {
	var one [1]byte
	n, err := p.Read(one[:])
	if n == 1 {
		return one[0], nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return 0, err
}
