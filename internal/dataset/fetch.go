package dataset

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/docintel/internal/resilience"
)

const fetchUserAgent = "docintel/1.0"

// Fetcher downloads a dataset URL to a local file.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewFetcher builds a fetcher. timeout bounds each HTTP attempt and the
// FTP dial; zero means 30s.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(5, 5),
		retry:   resilience.DownloadRetry(),
	}
}

// Fetch downloads rawURL to destPath. Supports http(s) and ftp schemes.
// Returns bytes written.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, destPath string) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, eris.Wrapf(err, "dataset: parse url %s", rawURL)
	}

	var body io.ReadCloser
	switch u.Scheme {
	case "http", "https":
		body, err = f.downloadHTTP(ctx, rawURL)
	case "ftp":
		body, err = f.downloadFTP(ctx, u)
	default:
		return 0, eris.Errorf("dataset: unsupported url scheme %q", u.Scheme)
	}
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	file, err := os.Create(destPath)
	if err != nil {
		return 0, eris.Wrapf(err, "dataset: create %s", destPath)
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, body)
	if err != nil {
		return n, eris.Wrapf(err, "dataset: write %s", destPath)
	}
	zap.L().Info("dataset fetched",
		zap.String("url", rawURL),
		zap.String("dest", destPath),
		zap.Int64("bytes", n),
	)
	return n, nil
}

func (f *Fetcher) downloadHTTP(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	return resilience.DoVal(ctx, f.retry, func(ctx context.Context) (io.ReadCloser, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "dataset: rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "dataset: create request")
		}
		req.Header.Set("User-Agent", fetchUserAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: fetch %s", rawURL)
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			err := eris.Errorf("dataset: unexpected status %d from %s", resp.StatusCode, rawURL)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}
		return resp.Body, nil
	})
}

// ftpReader ties the FTP data stream to its control connection so one
// Close releases both.
type ftpReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpReader) Read(p []byte) (int, error) { return r.resp.Read(p) }

func (r *ftpReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "dataset: close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "dataset: quit ftp connection")
	}
	return nil
}

func (f *Fetcher) downloadFTP(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "21")
	}
	if u.Path == "" {
		return nil, eris.New("dataset: empty path in ftp url")
	}

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(f.client.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "dataset: ftp dial")
	}

	user, pass := "anonymous", "anonymous@"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrap(err, "dataset: ftp login")
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		_ = conn.Quit()
		return nil, eris.Wrap(err, "dataset: ftp retrieve")
	}
	return &ftpReader{resp: resp, conn: conn}, nil
}
