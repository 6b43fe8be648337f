package report

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ErrChromeNotFound is returned when no Chrome or Chromium binary is available.
var ErrChromeNotFound = errors.New("chrome/chromium not found")

// ChromeOptions configures headless printing.
type ChromeOptions struct {
	ExecPath string        // browser binary, looked up on PATH when empty
	Timeout  time.Duration // default 60s
}

var chromeCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"headless-shell",
	"chrome",
}

func findChrome(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("%w: %s", ErrChromeNotFound, explicit)
		}
		return explicit, nil
	}
	for _, name := range chromeCandidates {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	if runtime.GOOS == "darwin" {
		p := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", ErrChromeNotFound
}

// PrintPDF loads htmlPath in headless Chrome and prints it to a PDF next
// to it, returning the PDF path.
func PrintPDF(ctx context.Context, htmlPath string, opts ChromeOptions) (string, error) {
	execPath, err := findChrome(opts.ExecPath)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(htmlPath)
	if err != nil {
		return "", fmt.Errorf("resolve html path: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(execPath),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer allocCancel()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()
	browserCtx, cancel := context.WithTimeout(browserCtx, timeout)
	defer cancel()

	fileURL := (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
	var buf []byte
	err = chromedp.Run(browserCtx,
		chromedp.Navigate(fileURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			data, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPreferCSSPageSize(true).
				Do(ctx)
			if err != nil {
				return err
			}
			buf = data
			return nil
		}),
	)
	if err != nil {
		return "", fmt.Errorf("chrome print: %w", err)
	}

	pdfPath := strings.TrimSuffix(htmlPath, filepath.Ext(htmlPath)) + ".pdf"
	if err := os.WriteFile(pdfPath, buf, 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", pdfPath, err)
	}
	return pdfPath, nil
}
