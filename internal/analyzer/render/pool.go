// Package render manages a bounded pool of headless Chrome browsers shared by
// the website analyzer.
package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrUnavailable is returned when no browser can be provisioned or the pool is closed.
var ErrUnavailable = errors.New("render: browser unavailable")

// Config controls how browsers are launched.
type Config struct {
	Size      int
	ExecPath  string
	Headless  bool
	UserAgent string
}

type browser struct {
	id     int
	ctx    context.Context
	cancel context.CancelFunc
}

// Pool hands out exclusive browser leases. A browser that crashes is
// relaunched; when no browser is left the pool closes itself.
type Pool struct {
	logger      *zap.Logger
	allocCancel context.CancelFunc
	launch      func(id int) (*browser, error)
	alive       atomic.Int32
	mu          sync.Mutex
	all         []*browser
	idle        chan *browser
	closed      chan struct{}
	closeOnce   sync.Once
}

// New launches cfg.Size browsers from one allocator. Any launch failure tears
// the pool down and returns an error wrapping ErrUnavailable.
func New(cfg Config, logger *zap.Logger) (*Pool, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("%w: pool size must be > 0", ErrUnavailable)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.NoSandbox,
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	launch := func(id int) (*browser, error) {
		bctx, bcancel := chromedp.NewContext(allocCtx)
		if err := chromedp.Run(bctx); err != nil {
			bcancel()
			return nil, fmt.Errorf("start browser %d: %w", id, err)
		}
		return &browser{id: id, ctx: bctx, cancel: bcancel}, nil
	}

	browsers := make([]*browser, 0, cfg.Size)
	for i := 0; i < cfg.Size; i++ {
		b, err := launch(i)
		if err != nil {
			for _, b := range browsers {
				b.cancel()
			}
			allocCancel()
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		browsers = append(browsers, b)
	}

	p := newPool(browsers, logger)
	p.allocCancel = allocCancel
	p.launch = launch
	logger.Info("render pool ready", zap.Int("browsers", len(browsers)), zap.Bool("headless", cfg.Headless))
	return p, nil
}

func newPool(browsers []*browser, logger *zap.Logger) *Pool {
	p := &Pool{
		logger:      logger,
		allocCancel: func() {},
		all:         browsers,
		idle:        make(chan *browser, len(browsers)),
		closed:      make(chan struct{}),
	}
	for _, b := range browsers {
		p.idle <- b
	}
	p.alive.Store(int32(len(browsers)))
	return p
}

// Size returns the number of browsers managed by the pool.
func (p *Pool) Size() int {
	return len(p.all)
}

// Alive returns the number of browsers still in service.
func (p *Pool) Alive() int {
	return int(p.alive.Load())
}

// Available returns the number of idle browsers.
func (p *Pool) Available() int {
	return len(p.idle)
}

// Acquire blocks until a browser is free, ctx is done, or the pool closes.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	select {
	case <-p.closed:
		return nil, ErrUnavailable
	default:
	}
	select {
	case b := <-p.idle:
		return &Lease{pool: p, browser: b}, nil
	case <-p.closed:
		return nil, ErrUnavailable
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire browser: %w", ctx.Err())
	}
}

// Close shuts every browser down. Outstanding leases stay valid until released.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.mu.Lock()
		for _, b := range p.all {
			b.cancel()
		}
		p.mu.Unlock()
		p.allocCancel()
	})
}

// Lease is exclusive use of one browser until Release.
type Lease struct {
	pool    *Pool
	browser *browser
	once    sync.Once
}

// BrowserID identifies the leased browser in logs.
func (l *Lease) BrowserID() int {
	return l.browser.id
}

// NewTab opens a tab in the leased browser bounded by timeout. Cancelling
// parent cancels the tab too. The returned func must be called to close the tab.
func (l *Lease) NewTab(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	tabCtx, cancelTab := chromedp.NewContext(l.browser.ctx)
	taskCtx, cancelTask := context.WithTimeout(tabCtx, timeout)
	stopForward := forwardCancel(parent, cancelTask)
	return taskCtx, func() {
		stopForward()
		cancelTask()
		cancelTab()
	}
}

// Release returns the browser to the pool. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		select {
		case <-l.pool.closed:
			return
		default:
		}
		l.pool.idle <- l.browser
	})
}

// Discard retires a browser that crashed or stopped answering and puts a
// freshly launched one in its place. If the relaunch fails the pool shrinks;
// losing the last browser closes the pool so Acquire reports ErrUnavailable.
// Release after Discard is a no-op.
func (l *Lease) Discard() {
	l.once.Do(func() {
		p := l.pool
		l.browser.cancel()
		select {
		case <-p.closed:
			return
		default:
		}
		if p.launch != nil {
			fresh, err := p.launch(l.browser.id)
			if err == nil {
				p.mu.Lock()
				for i, b := range p.all {
					if b == l.browser {
						p.all[i] = fresh
					}
				}
				p.mu.Unlock()
				p.logger.Warn("browser relaunched", zap.Int("browser_id", fresh.id))
				p.idle <- fresh
				return
			}
			p.logger.Error("browser relaunch failed", zap.Int("browser_id", l.browser.id), zap.Error(err))
		}
		if left := p.alive.Add(-1); left <= 0 {
			p.logger.Error("no browsers left, closing render pool")
			p.Close()
		}
	})
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
