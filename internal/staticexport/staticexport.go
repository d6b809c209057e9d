// Package staticexport post-processes the exported single page app before it is
// uploaded to an Apache host.
package staticexport

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/net/html"
)

// Marker identifies the injected script so that reruns leave pages untouched.
const Marker = "data-jelly-fallback"

// FallbackScript reloads the page once when a lazily loaded chunk is missing after a
// deploy, and logs unexpected errors to the console when ?debug is set.
const FallbackScript = `(function () {
  var debug = /[?&]debug(=|&|$)/.test(window.location.search);
  window.addEventListener("error", function (e) {
    var target = e.target || {};
    var src = target.src || target.href || "";
    if (src && /\/_next\/|\/assets\//.test(src) && !sessionStorage.getItem("jelly-reloaded")) {
      sessionStorage.setItem("jelly-reloaded", "1");
      window.location.reload();
      return;
    }
    if (debug) { console.error("[jelly]", e.message || src, e.error || ""); }
  }, true);
  window.addEventListener("load", function () { sessionStorage.removeItem("jelly-reloaded"); });
})();`

// DefaultHtaccess rewrites unknown paths to index.html and sets cache headers:
// hashed assets are immutable, HTML is always revalidated.
const DefaultHtaccess = `Options -MultiViews
RewriteEngine On
RewriteBase /
RewriteRule ^index\.html$ - [L]
RewriteCond %{REQUEST_FILENAME} !-f
RewriteCond %{REQUEST_FILENAME} !-d
RewriteRule . /index.html [L]

<IfModule mod_headers.c>
  <FilesMatch "\.(js|css|woff2?|png|jpe?g|gif|svg|webp|ico)$">
    Header set Cache-Control "public, max-age=31536000, immutable"
  </FilesMatch>
  <FilesMatch "\.html$">
    Header set Cache-Control "no-cache, must-revalidate"
  </FilesMatch>
</IfModule>

<IfModule mod_deflate.c>
  AddOutputFilterByType DEFLATE text/html text/css application/javascript application/json image/svg+xml
</IfModule>
`

var ErrNoIndex = errors.New("export directory has no index.html")

// Options configures a post-processing run.
type Options struct {
	Dir      string
	Script   string // defaults to FallbackScript
	Htaccess string // defaults to DefaultHtaccess
	DryRun   bool
}

// Result lists what a run changed.
type Result struct {
	Injected        []string `json:"injected"`
	AlreadyInjected []string `json:"alreadyInjected"`
	Htaccess        string   `json:"htaccess"`
	HtaccessChanged bool     `json:"htaccessChanged"`
}

// Processor applies the post-processing steps on a filesystem.
type Processor struct {
	fs     afero.Fs
	logger *slog.Logger
}

func NewProcessor(fsys afero.Fs, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{fs: fsys, logger: logger}
}

// Run injects the fallback script into every HTML page under opts.Dir and writes the
// .htaccess file. Running it twice produces the same tree.
func (p *Processor) Run(opts Options) (Result, error) {
	var res Result
	if opts.Script == "" {
		opts.Script = FallbackScript
	}
	if opts.Htaccess == "" {
		opts.Htaccess = DefaultHtaccess
	}
	dir := filepath.Clean(opts.Dir)
	if ok, _ := afero.Exists(p.fs, filepath.Join(dir, "index.html")); !ok {
		return res, fmt.Errorf("%w: %s", ErrNoIndex, dir)
	}

	tag := scriptTag(opts.Script)
	err := afero.Walk(p.fs, dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.EqualFold(filepath.Ext(path), ".html") {
			return nil
		}
		changed, err := p.injectFile(path, tag, info.Mode(), opts.DryRun)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		if changed {
			res.Injected = append(res.Injected, rel)
		} else {
			res.AlreadyInjected = append(res.AlreadyInjected, rel)
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	res.Htaccess = filepath.Join(dir, ".htaccess")
	res.HtaccessChanged, err = p.writeIfChanged(res.Htaccess, []byte(opts.Htaccess), opts.DryRun)
	if err != nil {
		return res, fmt.Errorf("write .htaccess: %w", err)
	}
	p.logger.Info("static export processed",
		"dir", dir, "injected", len(res.Injected), "unchanged", len(res.AlreadyInjected),
		"htaccessChanged", res.HtaccessChanged, "dryRun", opts.DryRun)
	return res, nil
}

func scriptTag(script string) string {
	return "<script " + Marker + ">" + script + "</script>"
}

func (p *Processor) injectFile(path, tag string, mode os.FileMode, dryRun bool) (bool, error) {
	data, err := afero.ReadFile(p.fs, path)
	if err != nil {
		return false, err
	}
	out, changed := Inject(data, tag)
	if !changed || dryRun {
		return changed, nil
	}
	return true, afero.WriteFile(p.fs, path, out, mode.Perm())
}

// Inject places tag right after the opening <head> so it runs before any bundle.
// Pages without a head get it prepended. Pages that already carry the marker are returned as is.
func Inject(page []byte, tag string) ([]byte, bool) {
	if bytes.Contains(page, []byte(Marker)) {
		return page, false
	}
	at := headEnd(page)
	if at < 0 {
		return append([]byte(tag), page...), true
	}
	out := make([]byte, 0, len(page)+len(tag))
	out = append(out, page[:at]...)
	out = append(out, tag...)
	out = append(out, page[at:]...)
	return out, true
}

// headEnd returns the offset just past the opening head tag, or -1. Tokenizing skips
// look-alikes such as <header> or "<head>" inside comments and inline scripts.
func headEnd(page []byte) int {
	z := html.NewTokenizer(bytes.NewReader(page))
	offset := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return -1
		}
		offset += len(z.Raw())
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		if name, _ := z.TagName(); string(name) == "head" {
			return offset
		}
	}
}

func (p *Processor) writeIfChanged(path string, data []byte, dryRun bool) (bool, error) {
	existing, err := afero.ReadFile(p.fs, path)
	if err == nil && bytes.Equal(existing, data) {
		return false, nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if dryRun {
		return true, nil
	}
	return true, afero.WriteFile(p.fs, path, data, 0o644)
}
