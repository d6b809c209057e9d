package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/spf13/afero"

	"jelly/internal/staticexport"
)

func main() {
	var (
		dir          = flag.String("dir", "out", "Static export directory")
		scriptPath   = flag.String("script", "", "Replace the fallback script with the contents of this file")
		htaccessPath = flag.String("htaccess", "", "Replace the default .htaccess with the contents of this file")
		dryRun       = flag.Bool("dry-run", false, "Report changes without writing")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	fsys := afero.NewOsFs()

	opts := staticexport.Options{Dir: *dir, DryRun: *dryRun}
	if *scriptPath != "" {
		data, err := afero.ReadFile(fsys, *scriptPath)
		if err != nil {
			logger.Error("read script", "path", *scriptPath, "error", err)
			os.Exit(1)
		}
		opts.Script = string(data)
	}
	if *htaccessPath != "" {
		data, err := afero.ReadFile(fsys, *htaccessPath)
		if err != nil {
			logger.Error("read htaccess", "path", *htaccessPath, "error", err)
			os.Exit(1)
		}
		opts.Htaccess = string(data)
	}

	res, err := staticexport.NewProcessor(fsys, logger).Run(opts)
	if err != nil {
		logger.Error("post-process export", "dir", *dir, "error", err)
		os.Exit(1)
	}
	for _, page := range res.Injected {
		logger.Info("injected fallback script", "page", page)
	}
}
