// Package browser drives one headless Chrome session per capture. Each call
// launches an isolated browser process, reads the rendered page, and tears
// the process down on every exit path.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"goldwatch/internal/gold"
)

// ErrCapture wraps browser launch and navigation failures.
var ErrCapture = errors.New("page capture failed")

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Signal is everything one capture reads off a page: the free-text fallback
// signal plus, when a well-known price element was present, a structured
// numeric reading. StructuredValue is 0 when no element yielded a number.
type Signal struct {
	BodyText        string
	HTML            string
	StructuredValue float64
}

type Driver struct {
	execPath       string
	quiesceTimeout time.Duration
	captureTimeout time.Duration
}

func New(opts ...Option) *Driver {
	d := &Driver{
		quiesceTimeout: 5 * time.Second,
		captureTimeout: 90 * time.Second,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

type Option func(*Driver)

// WithExecPath points the driver at a specific Chrome binary.
func WithExecPath(path string) Option {
	return func(d *Driver) { d.execPath = path }
}

// WithQuiesceTimeout bounds the post-load wait for network quiescence.
func WithQuiesceTimeout(t time.Duration) Option {
	return func(d *Driver) { d.quiesceTimeout = t }
}

// WithCaptureTimeout bounds the whole capture, launch to teardown.
func WithCaptureTimeout(t time.Duration) Option {
	return func(d *Driver) { d.captureTimeout = t }
}

// Capture navigates a fresh headless browser to url and reads the rendered
// page. The quiescence wait is best-effort: a page that never goes quiet is
// read as-is once the bounded wait expires.
func (d *Driver) Capture(ctx context.Context, url string, source gold.Source) (*Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, d.captureTimeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(userAgent),
	)
	if d.execPath != "" {
		opts = append(opts, chromedp.ExecPath(d.execPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	// Cancelling the allocator kills the Chrome process; the deferred calls
	// run on success, extraction failure, and navigation errors alike.
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	sig := &Signal{}
	var nodes []structuredNode

	err := chromedp.Run(browserCtx,
		network.Enable(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		d.waitNetworkIdle(),
		chromedp.Evaluate(`document.body ? document.body.innerText || '' : ''`, &sig.BodyText),
		chromedp.Evaluate(`document.documentElement ? document.documentElement.outerHTML : ''`, &sig.HTML),
		chromedp.Evaluate(structuredScript(source), &nodes),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapture, err)
	}

	sig.StructuredValue = reduceStructured(nodes)
	return sig, nil
}

type structuredNode struct {
	Aria string `json:"aria"`
	Text string `json:"text"`
}

// structuredScript reads the well-known price element(s) for a source. CCB
// renders a single .price element; CMB renders one .price-info-amount per
// weight tier, with the accessible label carrying the precise value.
func structuredScript(source gold.Source) string {
	if source == gold.SourceCMB {
		return `Array.from(document.querySelectorAll('.price-info-amount')).map((n) => ({
			aria: n.getAttribute('aria-label') || '',
			text: (n.textContent || '').trim(),
		}))`
	}
	return `(() => {
		const n = document.querySelector('.price');
		return n ? [{aria: '', text: (n.textContent || '').trim()}] : [];
	})()`
}

// reduceStructured takes each node's accessible label over its visible text
// and reduces to the maximum value found. When several tiers qualify, the
// maximum is the authoritative live quote.
func reduceStructured(nodes []structuredNode) float64 {
	best := 0.0
	for _, n := range nodes {
		v, ok := gold.ParseNumber(n.Aria)
		if !ok {
			v, ok = gold.ParseNumber(n.Text)
		}
		if ok && v > best {
			best = v
		}
	}
	return best
}

// waitNetworkIdle waits until no request has been in flight for a short idle
// window, giving up after the configured quiescence timeout. The timeout is
// non-fatal: the caller proceeds with whatever rendered.
func (d *Driver) waitNetworkIdle() chromedp.ActionFunc {
	const idleWindow = 500 * time.Millisecond

	return func(ctx context.Context) error {
		var mu sync.Mutex
		inflight := 0
		activity := make(chan struct{}, 1)

		lctx, cancel := context.WithCancel(ctx)
		defer cancel()

		chromedp.ListenTarget(lctx, func(ev any) {
			mu.Lock()
			switch ev.(type) {
			case *network.EventRequestWillBeSent:
				inflight++
			case *network.EventLoadingFinished, *network.EventLoadingFailed:
				if inflight > 0 {
					inflight--
				}
			default:
				mu.Unlock()
				return
			}
			mu.Unlock()
			select {
			case activity <- struct{}{}:
			default:
			}
		})

		deadline := time.NewTimer(d.quiesceTimeout)
		defer deadline.Stop()
		idle := time.NewTimer(idleWindow)
		defer idle.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-deadline.C:
				return nil
			case <-activity:
				if !idle.Stop() {
					select {
					case <-idle.C:
					default:
					}
				}
				mu.Lock()
				busy := inflight > 0
				mu.Unlock()
				if !busy {
					idle.Reset(idleWindow)
				}
			case <-idle.C:
				mu.Lock()
				busy := inflight > 0
				mu.Unlock()
				if !busy {
					return nil
				}
			}
		}
	}
}
