package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/prospect-crawler/internal/prospect"
)

// HTTPConfig controls the lightweight analyzer.
type HTTPConfig struct {
	UserAgent string
	Timeout   time.Duration
	Budgets   Budgets
}

// HTTPAnalyzer fetches the page without a browser and pattern-matches the HTML.
// Broken images and viewport behaviour are inferred from markup only.
type HTTPAnalyzer struct {
	cfg    HTTPConfig
	base   *colly.Collector
	logger *zap.Logger
}

// NewHTTPAnalyzer builds an HTTPAnalyzer with a pooled transport.
func NewHTTPAnalyzer(cfg HTTPConfig, logger *zap.Logger) *HTTPAnalyzer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	c.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &HTTPAnalyzer{cfg: cfg, base: c, logger: logger.Named("analyzer.http")}
}

type fetchResult struct {
	status   int
	finalURL string
	body     []byte
	err      error
}

// Analyze implements prospect.Analyzer. Unreachable hosts and HTTP errors
// produce a failed assessment, not an error.
func (h *HTTPAnalyzer) Analyze(ctx context.Context, target string) (prospect.SiteAssessment, error) {
	start := time.Now()
	res, err := h.fetch(ctx, target)
	if err != nil {
		return prospect.SiteAssessment{}, err
	}
	elapsed := time.Since(start)

	if res.status == 0 {
		reason := "unreachable"
		if res.err != nil {
			reason = res.err.Error()
		}
		return failedWithStatus(target, "", prospect.ModeHTTP, 0, reason), nil
	}
	if res.status >= http.StatusBadRequest {
		return failedWithStatus(target, res.finalURL, prospect.ModeHTTP, res.status, fmt.Sprintf("http status %d", res.status)), nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.body))
	if err != nil {
		return failedWithStatus(target, res.finalURL, prospect.ModeHTTP, res.status, fmt.Sprintf("parse html: %v", err)), nil
	}

	page := pageInfo{
		URL:        target,
		FinalURL:   res.finalURL,
		StatusCode: res.status,
		LoadTimeMs: elapsed.Milliseconds(),
		Mode:       prospect.ModeHTTP,
	}
	return assess(ctx, newHTMLProbe(doc), page, h.cfg.Budgets, h.logger), nil
}

func (h *HTTPAnalyzer) fetch(ctx context.Context, target string) (fetchResult, error) {
	var res fetchResult
	collector := h.base.Clone()
	collector.OnResponse(func(r *colly.Response) {
		res.status = r.StatusCode
		res.finalURL = r.Request.URL.String()
		res.body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		res.err = err
		if r != nil && r.StatusCode > 0 {
			res.status = r.StatusCode
			res.finalURL = r.Request.URL.String()
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fetchResult{}, fmt.Errorf("http analysis canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil && res.err == nil {
			res.err = err
		}
		return res, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

// htmlProbe answers facet queries from a static document.
type htmlProbe struct {
	doc  *goquery.Document
	text string
}

func newHTMLProbe(doc *goquery.Document) *htmlProbe {
	return &htmlProbe{doc: doc, text: visibleText(doc)}
}

func (p *htmlProbe) Document(context.Context) (*goquery.Document, error) {
	return p.doc, nil
}

func (p *htmlProbe) Text(context.Context) (string, error) {
	return p.text, nil
}

func (p *htmlProbe) Globals(context.Context, []string) ([]string, error) {
	return nil, nil
}

func (p *htmlProbe) Images(context.Context) (int, int, error) {
	total, broken := staticImages(p.doc)
	return total, broken, nil
}

func (p *htmlProbe) Responsive(context.Context) (bool, error) {
	return hasViewportMeta(p.doc), nil
}
