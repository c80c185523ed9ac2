package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/prospect-crawler/internal/analyzer/render"
	"github.com/JakeFAU/prospect-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/prospect-crawler/internal/prospect"
)

// BrowserConfig controls page loading in headless Chrome.
type BrowserConfig struct {
	UserAgent   string
	NavTimeout  time.Duration
	Settle      time.Duration
	IdleTimeout time.Duration
	Budgets     Budgets
}

func (c BrowserConfig) withDefaults() BrowserConfig {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 25 * time.Second
	}
	if c.Settle < 0 {
		c.Settle = 0
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 3 * time.Second
	}
	c.Budgets = c.Budgets.withDefaults()
	return c
}

// BrowserAnalyzer renders the page in a pooled browser and runs facets against the live DOM.
type BrowserAnalyzer struct {
	cfg     BrowserConfig
	pool    *render.Pool
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// NewBrowserAnalyzer wires a BrowserAnalyzer. limiter may be nil.
func NewBrowserAnalyzer(pool *render.Pool, limiter *ratelimit.Limiter, cfg BrowserConfig, logger *zap.Logger) *BrowserAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BrowserAnalyzer{
		cfg:     cfg.withDefaults(),
		pool:    pool,
		limiter: limiter,
		logger:  logger.Named("analyzer.browser"),
	}
}

// Analyze implements prospect.Analyzer.
func (b *BrowserAnalyzer) Analyze(ctx context.Context, target string) (prospect.SiteAssessment, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx, target); err != nil {
			return prospect.SiteAssessment{}, fmt.Errorf("render budget: %w", err)
		}
	}
	lease, err := b.pool.Acquire(ctx)
	if err != nil {
		return prospect.SiteAssessment{}, fmt.Errorf("acquire browser: %w", err)
	}
	defer lease.Release()

	lifetime := b.cfg.NavTimeout + b.cfg.Settle + b.cfg.IdleTimeout + b.cfg.Budgets.Performance + b.cfg.Budgets.Facet
	tabCtx, closeTab := lease.NewTab(ctx, lifetime)
	defer closeTab()
	if err := chromedp.Run(tabCtx); err != nil {
		if ctx.Err() != nil {
			return prospect.SiteAssessment{}, fmt.Errorf("open tab: %w", ctx.Err())
		}
		// A browser that cannot open a tab is gone.
		b.logger.Warn("browser unresponsive, discarding", zap.Int("browser_id", lease.BrowserID()), zap.Error(err))
		lease.Discard()
		return prospect.SiteAssessment{}, fmt.Errorf("open tab: %w: %v", render.ErrUnavailable, err)
	}

	meta := newResponseMeta()
	idle := make(chan struct{}, 1)
	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			meta.capture(e)
		case *page.EventLifecycleEvent:
			if e.Name == "networkIdle" {
				select {
				case idle <- struct{}{}:
				default:
				}
			}
		}
	})

	start := time.Now()
	navErr := b.navigate(tabCtx, target)
	loadTime := time.Since(start)
	status, finalURL := meta.snapshot(target)

	if navErr != nil {
		if ctx.Err() != nil {
			return prospect.SiteAssessment{}, fmt.Errorf("browser analysis canceled: %w", ctx.Err())
		}
		b.logger.Debug("navigation failed", zap.String("url", target), zap.Error(navErr))
		return failedWithStatus(target, "", prospect.ModeBrowser, status, navErr.Error()), nil
	}
	if status >= http.StatusBadRequest {
		return failedWithStatus(target, finalURL, prospect.ModeBrowser, status, fmt.Sprintf("http status %d", status)), nil
	}

	b.settle(tabCtx, idle)

	info := pageInfo{
		URL:        target,
		FinalURL:   finalURL,
		StatusCode: status,
		LoadTimeMs: loadTime.Milliseconds(),
		Mode:       prospect.ModeBrowser,
	}
	return assess(tabCtx, &domProbe{}, info, b.cfg.Budgets, b.logger), nil
}

func (b *BrowserAnalyzer) navigate(tabCtx context.Context, target string) error {
	navCtx, cancel := context.WithTimeout(tabCtx, b.cfg.NavTimeout)
	defer cancel()

	actions := []chromedp.Action{
		network.Enable(),
		page.SetLifecycleEventsEnabled(true),
	}
	if b.cfg.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(b.cfg.UserAgent))
	}
	actions = append(actions,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err := chromedp.Run(navCtx, actions...); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return nil
}

// settle waits the fixed delay, then for network idle up to IdleTimeout. Idle
// is best effort: pages with long-polling never go idle.
func (b *BrowserAnalyzer) settle(ctx context.Context, idle <-chan struct{}) {
	if b.cfg.Settle > 0 {
		select {
		case <-time.After(b.cfg.Settle):
		case <-ctx.Done():
			return
		}
	}
	select {
	case <-idle:
	case <-time.After(b.cfg.IdleTimeout):
	case <-ctx.Done():
	}
}

type responseMeta struct {
	mu     sync.RWMutex
	frame  cdp.FrameID
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

// capture records the main frame's document response; iframe documents are ignored.
func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frame == "" {
		m.frame = event.FrameID
	}
	if event.FrameID != m.frame {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *responseMeta) snapshot(fallbackURL string) (int, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, url := m.status, m.url
	if url == "" {
		url = fallbackURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}

// domProbe queries the live page in the tab carried by ctx.
type domProbe struct {
	mu  sync.Mutex
	doc *goquery.Document
}

func (p *domProbe) Document(ctx context.Context) (*goquery.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc != nil {
		return p.doc, nil
	}
	var html string
	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("snapshot dom: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse dom: %w", err)
	}
	p.doc = doc
	return doc, nil
}

func (p *domProbe) Text(ctx context.Context) (string, error) {
	var text string
	if err := chromedp.Run(ctx, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text)); err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}
	return text, nil
}

func (p *domProbe) Globals(ctx context.Context, names []string) ([]string, error) {
	encoded, err := json.Marshal(names)
	if err != nil {
		return nil, fmt.Errorf("encode globals: %w", err)
	}
	var defined []string
	script := fmt.Sprintf(`(%s).filter(n => typeof window[n] !== "undefined")`, encoded)
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &defined)); err != nil {
		return nil, fmt.Errorf("probe globals: %w", err)
	}
	return defined, nil
}

const imagesScript = `(() => {
  const imgs = Array.from(document.images);
  const broken = imgs.filter(i => i.complete && i.naturalWidth === 0 && (i.currentSrc || i.src)).length;
  return {total: imgs.length, broken: broken};
})()`

func (p *domProbe) Images(ctx context.Context) (int, int, error) {
	var out struct {
		Total  int `json:"total"`
		Broken int `json:"broken"`
	}
	if err := chromedp.Run(ctx, chromedp.Evaluate(imagesScript, &out)); err != nil {
		return 0, 0, fmt.Errorf("count images: %w", err)
	}
	return out.Total, out.Broken, nil
}

const responsiveScript = `(() => {
  const meta = Array.from(document.querySelectorAll("meta[name]")).find(m => m.name.toLowerCase() === "viewport");
  const viewport = !!meta && /width\s*=\s*device-width/i.test(meta.content || "");
  let media = false;
  for (const sheet of Array.from(document.styleSheets)) {
    let rules;
    try { rules = sheet.cssRules; } catch (e) { continue; }
    for (const r of Array.from(rules || [])) {
      if (r.media && /(max|min)-width/.test(r.media.mediaText)) { media = true; break; }
    }
    if (media) break;
  }
  return viewport && (media || document.documentElement.scrollWidth <= window.innerWidth + 1);
})()`

func (p *domProbe) Responsive(ctx context.Context) (bool, error) {
	var ok bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(responsiveScript, &ok)); err != nil {
		return false, fmt.Errorf("check viewport: %w", err)
	}
	return ok, nil
}
