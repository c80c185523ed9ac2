package maps

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/prospect-crawler/internal/analyzer/render"
)

// chromePage drives the feed in a tab of a leased pool browser.
type chromePage struct {
	pool    *render.Pool
	timeout time.Duration
	pause   func(context.Context)
}

func (p *chromePage) Listings(ctx context.Context, searchURL string, scrollRounds int) (string, error) {
	var out string
	err := p.inTab(ctx, func(tabCtx context.Context) error {
		return chromedp.Run(tabCtx,
			chromedp.Navigate(searchURL),
			chromedp.ActionFunc(func(ctx context.Context) error {
				p.pause(ctx)
				return chromedp.Evaluate(consentScript, nil).Do(ctx)
			}),
			chromedp.WaitVisible(`div[role="feed"]`, chromedp.ByQuery),
			chromedp.ActionFunc(func(ctx context.Context) error {
				for i := 0; i < scrollRounds; i++ {
					if err := chromedp.Evaluate(scrollScript, nil).Do(ctx); err != nil {
						return fmt.Errorf("scroll feed: %w", err)
					}
					p.pause(ctx)
				}
				return nil
			}),
			chromedp.Evaluate(cardsScript, &out),
		)
	})
	return out, err
}

func (p *chromePage) Contact(ctx context.Context, placeURL string) (string, error) {
	var out string
	err := p.inTab(ctx, func(tabCtx context.Context) error {
		return chromedp.Run(tabCtx,
			chromedp.Navigate(placeURL),
			chromedp.Evaluate(consentScript, nil),
			chromedp.WaitVisible(`h1`, chromedp.ByQuery),
			chromedp.Evaluate(contactScript, &out),
		)
	})
	return out, err
}

func (p *chromePage) inTab(ctx context.Context, fn func(context.Context) error) error {
	lease, err := p.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()
	tabCtx, closeTab := lease.NewTab(ctx, p.timeout)
	defer closeTab()
	return fn(tabCtx)
}

const consentScript = `(function () {
  const selectors = [
    'button[aria-label="Accept all"]',
    'button[aria-label="I agree"]',
    'button[aria-label="Alles akzeptieren"]',
    'form[action*="consent"] button'
  ];
  for (const sel of selectors) {
    const btn = document.querySelector(sel);
    if (btn) { btn.click(); return true; }
  }
  return false;
})();`

const scrollScript = `(function () {
  const feed = document.querySelector('div[role="feed"]');
  if (feed) { feed.scrollBy(0, feed.offsetHeight); }
})();`

const cardsScript = `(function () {
  const text = (root, sel) => {
    const n = root && root.querySelector(sel);
    return n ? n.textContent.trim() : '';
  };
  const cards = Array.from(document.querySelectorAll('div[role="feed"] div.Nv2PK'));
  return JSON.stringify(cards.map(card => {
    const link = card.querySelector('a.hfpxzc');
    const info = card.querySelectorAll('.W4Efsd span');
    const addr = card.querySelector('.W4Efsd span:last-child');
    return {
      name: text(card, '.qBF1Pd'),
      category: info.length ? info[0].textContent.trim() : '',
      address: addr ? addr.textContent.trim() : '',
      rating: text(card, '.MW4etd'),
      reviews: text(card, '.UY7F9'),
      url: link ? link.href : ''
    };
  }));
})();`

const contactScript = `(function () {
  const first = (sels) => {
    for (const sel of sels) {
      const n = document.querySelector(sel);
      if (n) return n;
    }
    return null;
  };
  const site = first(['a[data-item-id="authority"]', 'a[aria-label^="Website"]']);
  const mail = first(['a[href^="mailto:"]']);
  const tel = first(['button[data-item-id^="phone:tel"]', 'a[href^="tel:"]', 'div[data-item-id^="phone"] span']);
  const phone = tel ? ((tel.getAttribute('data-item-id') || '').replace('phone:tel:', '') || tel.href || tel.textContent || '') : '';
  return JSON.stringify({
    website: site ? (site.href || '') : '',
    email: mail ? (mail.href || '') : '',
    phone: phone.trim()
  });
})();`
