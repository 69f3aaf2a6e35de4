package view

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/a-h/templ"

	"github.com/dreschagin/link-preview/internal/application/dto"
)

// IndexData данные главной страницы
type IndexData struct {
	AuthEnabled   bool
	Authenticated bool
	Recent        []*dto.CaptureDTO
}

// Index страница с формой захвата, превью результата и лентой последних скриншотов
func Index(data IndexData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`+
			`<meta name="viewport" content="width=device-width, initial-scale=1">`+
			`<title>Link Preview</title>`+
			`<link rel="stylesheet" href="/static/css/style.css">`+
			`</head>`); err != nil {
			return err
		}

		if _, err := fmt.Fprintf(w, `<body data-auth-enabled="%s" data-authenticated="%s">`,
			strconv.FormatBool(data.AuthEnabled), strconv.FormatBool(data.Authenticated)); err != nil {
			return err
		}

		if err := header().Render(ctx, w); err != nil {
			return err
		}
		if data.AuthEnabled && !data.Authenticated {
			if err := loginForm().Render(ctx, w); err != nil {
				return err
			}
		}
		if err := captureForm().Render(ctx, w); err != nil {
			return err
		}
		if err := RecentCaptures(data.Recent).Render(ctx, w); err != nil {
			return err
		}

		_, err := io.WriteString(w, `<script src="/static/js/app.js" defer></script></body></html>`)
		return err
	})
}

func header() templ.Component {
	return templ.Raw(`<header class="page-header"><h1>Link Preview</h1>` +
		`<p class="subtitle">Full-page screenshots of any public URL</p></header>`)
}

func loginForm() templ.Component {
	return templ.Raw(`<section class="card" id="login-card">` +
		`<form id="login-form" autocomplete="off">` +
		`<label for="token-input">Access token</label>` +
		`<div class="row"><input id="token-input" name="token" type="password" required>` +
		`<button type="submit">Sign in</button></div>` +
		`<p class="error" id="login-error" hidden></p>` +
		`</form></section>`)
}

func captureForm() templ.Component {
	return templ.Raw(`<main class="card" id="capture-card">` +
		`<form id="capture-form">` +
		`<label for="url-input">Page URL</label>` +
		`<div class="row"><input id="url-input" name="url" type="url" placeholder="https://example.com" required>` +
		`<button id="capture-button" type="submit">Capture</button></div>` +
		`</form>` +
		`<p class="status" id="capture-status" hidden>Capturing screenshot&hellip;</p>` +
		`<p class="error" id="capture-error" hidden></p>` +
		`<figure id="capture-result" hidden>` +
		`<a id="result-link" target="_blank" rel="noopener"><img id="result-image" alt="Screenshot preview"></a>` +
		`<figcaption><a id="result-url" target="_blank" rel="noopener"></a></figcaption>` +
		`</figure></main>`)
}

// RecentCaptures лента последних скриншотов; JS дополняет ее из /ws
func RecentCaptures(items []*dto.CaptureDTO) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<section class="recent"><h2>Recent captures</h2><ul id="recent-list">`); err != nil {
			return err
		}
		for _, item := range items {
			if err := captureItem(item).Render(ctx, w); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</ul></section>`)
		return err
	})
}

func captureItem(item *dto.CaptureDTO) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if item == nil {
			return nil
		}
		imageURL := templ.EscapeString(string(templ.URL(item.URL)))
		_, err := fmt.Fprintf(w,
			`<li class="recent-item" data-id="%s"><a href="%s" target="_blank" rel="noopener">`+
				`<img src="%s" alt="" loading="lazy"><span>%s</span></a>`+
				`<time datetime="%s">%s</time></li>`,
			templ.EscapeString(item.ID),
			imageURL,
			imageURL,
			templ.EscapeString(item.SourceURL),
			item.CapturedAt.UTC().Format("2006-01-02T15:04:05Z"),
			item.CapturedAt.UTC().Format("02 Jan 15:04"),
		)
		return err
	})
}
