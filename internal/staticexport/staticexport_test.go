package staticexport

import (
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

const page = `<!DOCTYPE html><html><head lang="fr"><title>Jelly</title></head><body></body></html>`

func newExport(t *testing.T) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for path, body := range map[string]string{
		"/out/index.html":        page,
		"/out/status/index.html": page,
		"/out/404.html":          "<p>not found</p>",
		"/out/assets/app.js":     "console.log(1)",
	} {
		if err := afero.WriteFile(fsys, path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return fsys
}

func TestRunIsIdempotent(t *testing.T) {
	fsys := newExport(t)
	p := NewProcessor(fsys, nil)

	first, err := p.Run(Options{Dir: "/out"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(first.Injected) != 3 || !first.HtaccessChanged {
		t.Fatalf("unexpected first result: %+v", first)
	}

	index, _ := afero.ReadFile(fsys, "/out/index.html")
	if !strings.HasPrefix(string(index), `<!DOCTYPE html><html><head lang="fr"><script `+Marker+`>`) {
		t.Fatalf("script not injected after <head>: %s", index)
	}
	notFound, _ := afero.ReadFile(fsys, "/out/404.html")
	if !strings.HasPrefix(string(notFound), "<script "+Marker) {
		t.Fatalf("headless page should get the script prepended: %s", notFound)
	}
	js, _ := afero.ReadFile(fsys, "/out/assets/app.js")
	if string(js) != "console.log(1)" {
		t.Fatal("non html files must not be touched")
	}

	second, err := p.Run(Options{Dir: "/out"})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(second.Injected) != 0 || len(second.AlreadyInjected) != 3 || second.HtaccessChanged {
		t.Fatalf("second run should change nothing: %+v", second)
	}
	again, _ := afero.ReadFile(fsys, "/out/index.html")
	if string(again) != string(index) {
		t.Fatal("index.html changed on rerun")
	}
	if strings.Count(string(again), Marker) != 1 {
		t.Fatal("script injected twice")
	}
}

func TestRunWritesHtaccess(t *testing.T) {
	fsys := newExport(t)
	if _, err := NewProcessor(fsys, nil).Run(Options{Dir: "/out"}); err != nil {
		t.Fatal(err)
	}
	data, err := afero.ReadFile(fsys, "/out/.htaccess")
	if err != nil {
		t.Fatalf("read .htaccess: %v", err)
	}
	for _, want := range []string{"RewriteRule . /index.html [L]", "immutable", "no-cache"} {
		if !strings.Contains(string(data), want) {
			t.Fatalf(".htaccess missing %q", want)
		}
	}
}

func TestDryRunLeavesFilesAlone(t *testing.T) {
	fsys := newExport(t)
	res, err := NewProcessor(fsys, nil).Run(Options{Dir: "/out", DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Injected) != 3 || !res.HtaccessChanged {
		t.Fatalf("dry run should report pending changes: %+v", res)
	}
	if ok, _ := afero.Exists(fsys, "/out/.htaccess"); ok {
		t.Fatal("dry run wrote .htaccess")
	}
	index, _ := afero.ReadFile(fsys, "/out/index.html")
	if string(index) != page {
		t.Fatal("dry run modified index.html")
	}
}

func TestRunRequiresIndex(t *testing.T) {
	_, err := NewProcessor(afero.NewMemMapFs(), nil).Run(Options{Dir: "/empty"})
	if !errors.Is(err, ErrNoIndex) {
		t.Fatalf("expected ErrNoIndex, got %v", err)
	}
}

func TestInjectSkipsHeadLookalikes(t *testing.T) {
	const tag = "<script " + Marker + "></script>"
	src := `<!-- <head> --><html><head><title>x</title></head><body><header>h</header></body></html>`
	out, changed := Inject([]byte(src), tag)
	if !changed {
		t.Fatal("expected injection")
	}
	want := `<!-- <head> --><html><head>` + tag + `<title>x</title>`
	if !strings.HasPrefix(string(out), want) {
		t.Fatalf("unexpected placement: %s", out)
	}

	noHead := `<body><header>menu</header></body>`
	out, _ = Inject([]byte(noHead), tag)
	if string(out) != tag+noHead {
		t.Fatalf("header must not be mistaken for head: %s", out)
	}
}
