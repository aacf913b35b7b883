package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// chunkSize is the read size used when streaming a response body to disk.
const chunkSize = 1 << 20

// DefaultTaskTimeout bounds a single file transfer, including the body read.
const DefaultTaskTimeout = 10 * time.Minute

var (
	// DownloadError wraps HTTP and local write failures of a single task.
	DownloadError = errs.Class("download")
	// IntegrityError wraps a hash mismatch between written bytes and the
	// expected hash.
	IntegrityError = errs.Class("integrity")

	// ErrHashMismatch is matched by every *HashMismatchError.
	ErrHashMismatch = errors.New("hash mismatch")
)

// HashMismatchError reports the expected and actual digest of a download.
type HashMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// Unwrap returns ErrHashMismatch so callers can use errors.Is.
func (e *HashMismatchError) Unwrap() error { return ErrHashMismatch }

// IntegrityPolicy decides what happens to a file whose hash does not match.
type IntegrityPolicy int

const (
	// IntegrityWarn logs the mismatch and keeps the file.
	IntegrityWarn IntegrityPolicy = iota
	// IntegrityStrict discards the file and fails the task.
	IntegrityStrict
)

// Task is one pending transfer.
type Task struct {
	Path string
	URL  string
	// Size is the length the caller declared. Zero means unknown; the
	// response Content-Length is used instead once the transfer starts.
	Size int64
	// Hash is the expected hex SHA-256; empty skips verification.
	Hash string

	expected    atomic.Int64
	transferred atomic.Int64
}

// Expected returns the byte count progress is measured against.
func (t *Task) Expected() int64 {
	return t.expected.Load()
}

// Transferred returns the bytes written so far, never more than Expected.
func (t *Task) Transferred() int64 {
	n := t.transferred.Load()
	if size := t.expected.Load(); n > size {
		return size
	}
	return n
}

// learnSize adopts the server-reported length when none was declared.
func (t *Task) learnSize(contentLength int64) {
	if contentLength > 0 {
		t.expected.CompareAndSwap(0, contentLength)
	}
}

func (t *Task) complete() {
	if t.expected.Load() <= 0 {
		t.expected.CompareAndSwap(0, t.transferred.Load())
	}
	size := t.expected.Load()
	for {
		n := t.transferred.Load()
		if n >= size || t.transferred.CompareAndSwap(n, size) {
			return
		}
	}
}

// Result is the outcome of one task.
type Result struct {
	Task *Task
	Err  error
	// Warning carries a tolerated IntegrityError under IntegrityWarn.
	Warning error
}

// Progress is the aggregate view of a batch.
type Progress struct {
	Total       int64
	Transferred int64
}

// Batch is a set of transfers executed together with a shared progress view.
type Batch struct {
	client      *http.Client
	concurrency int
	policy      IntegrityPolicy
	taskTimeout time.Duration
	log         *zap.Logger

	mu    sync.Mutex
	tasks []*Task
}

// Option configures a Batch.
type Option func(*Batch)

// WithHTTPClient overrides the HTTP client used for transfers.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Batch) { b.client = c }
}

// WithConcurrency sets the worker pool size. Values below 1 select
// DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(b *Batch) { b.concurrency = n }
}

// WithIntegrityPolicy selects how hash mismatches are handled.
func WithIntegrityPolicy(p IntegrityPolicy) Option {
	return func(b *Batch) { b.policy = p }
}

// WithTaskTimeout bounds each transfer. Zero disables the bound.
func WithTaskTimeout(d time.Duration) Option {
	return func(b *Batch) { b.taskTimeout = d }
}

// WithLogger sets the batch logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Batch) { b.log = l }
}

// DefaultConcurrency is a small multiple of the CPU count.
func DefaultConcurrency() int {
	n := 2 * runtime.NumCPU()
	if n > 16 {
		n = 16
	}
	return n
}

// NewBatch creates an empty batch.
func NewBatch(opts ...Option) *Batch {
	b := &Batch{
		client:      http.DefaultClient,
		taskTimeout: DefaultTaskTimeout,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.concurrency < 1 {
		b.concurrency = DefaultConcurrency()
	}
	return b
}

// Add enqueues a transfer of url to path.
func (b *Batch) Add(path, url string, size int64, hash string) *Task {
	t := &Task{Path: path, URL: url, Size: size, Hash: hash}
	if size > 0 {
		t.expected.Store(size)
	}
	b.mu.Lock()
	b.tasks = append(b.tasks, t)
	b.mu.Unlock()
	return t
}

// Tasks returns a snapshot of the enqueued tasks.
func (b *Batch) Tasks() []*Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Task(nil), b.tasks...)
}

// Len returns the number of enqueued tasks.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tasks)
}

// Progress sums expected and transferred bytes across all tasks. It returns
// the zero Progress when there is nothing to show.
func (b *Batch) Progress() Progress {
	var p Progress
	for _, t := range b.Tasks() {
		p.Total += t.Expected()
		p.Transferred += t.Transferred()
	}
	if p.Total <= 0 {
		return Progress{}
	}
	return p
}

// Run executes every enqueued task on a bounded worker pool and waits for all
// of them. Per-task failures are reported in the results; they never stop
// the other tasks.
func (b *Batch) Run(ctx context.Context) []Result {
	tasks := b.Tasks()
	results := make([]Result, len(tasks))

	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for i, t := range tasks {
		g.Go(func() error {
			results[i] = b.runTask(ctx, t)
			if results[i].Err != nil {
				b.log.Error("download failed", zap.String("path", t.Path), zap.String("url", t.URL), zap.Error(results[i].Err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (b *Batch) runTask(ctx context.Context, t *Task) Result {
	if b.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.taskTimeout)
		defer cancel()
	}

	b.log.Debug("download start", zap.String("path", t.Path), zap.String("url", t.URL), zap.Int64("bytes", t.Size))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return Result{Task: t, Err: DownloadError.New("creating request for %s: %v", t.Path, err)}
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return Result{Task: t, Err: DownloadError.Wrap(fmt.Errorf("downloading %s: %w", t.URL, err))}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{Task: t, Err: DownloadError.New("downloading %s: HTTP %d", t.URL, resp.StatusCode)}
	}
	t.learnSize(resp.ContentLength)

	tmpPath := t.Path + ".part"
	actual, err := writeBody(tmpPath, resp.Body, &t.transferred)
	if err != nil {
		os.Remove(tmpPath)
		return Result{Task: t, Err: DownloadError.Wrap(fmt.Errorf("writing %s: %w", t.Path, err))}
	}

	var warning error
	if t.Hash != "" && !strings.EqualFold(actual, t.Hash) {
		mismatch := IntegrityError.Wrap(&HashMismatchError{Path: t.Path, Expected: strings.ToLower(t.Hash), Actual: actual})
		if b.policy == IntegrityStrict {
			os.Remove(tmpPath)
			return Result{Task: t, Err: mismatch}
		}
		b.log.Error("downloaded file hash mismatch", zap.String("path", t.Path),
			zap.String("expected", t.Hash), zap.String("actual", actual))
		warning = mismatch
	}

	if err := os.Rename(tmpPath, t.Path); err != nil {
		os.Remove(tmpPath)
		return Result{Task: t, Err: DownloadError.Wrap(fmt.Errorf("finalizing %s: %w", t.Path, err))}
	}
	t.complete()
	b.log.Debug("download complete", zap.String("path", t.Path), zap.String("hash", actual))

	return Result{Task: t, Warning: warning}
}

// writeBody truncates path, streams body into it in chunkSize reads, and
// returns the hex SHA-256 of the bytes written. counter is advanced after
// every chunk.
func writeBody(path string, body io.Reader, counter *atomic.Int64) (string, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	buf := make([]byte, chunkSize)
	var copyErr error
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				copyErr = werr
				break
			}
			h.Write(buf[:n])
			counter.Add(int64(n))
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			copyErr = rerr
			break
		}
	}

	closeErr := f.Close()
	if copyErr != nil {
		return "", copyErr
	}
	if closeErr != nil {
		return "", closeErr
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Download fetches a single file as a one-task batch and returns its error.
func Download(ctx context.Context, url, path string, size int64, hash string, opts ...Option) error {
	b := NewBatch(opts...)
	b.Add(path, url, size, hash)
	r := b.Run(ctx)[0]
	if r.Err != nil {
		return r.Err
	}
	return r.Warning
}

// Failed returns the results that carry an error.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	return failed
}
