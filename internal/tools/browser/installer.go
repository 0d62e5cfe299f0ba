package browser

import (
	"fmt"
	"strings"
	"sync"

	"github.com/playwright-community/playwright-go"
)

var installMu sync.Mutex

// isMissingBrowserError matches the playwright error raised when the
// requested browser binary has not been downloaded yet.
func isMissingBrowserError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "executable doesn't exist") ||
		strings.Contains(msg, "please run the following command") ||
		strings.Contains(msg, "browser has not been found")
}

// installBrowser downloads the named browser's binaries. Serialized so
// concurrent runs do not race the download.
func installBrowser(name string) error {
	installMu.Lock()
	defer installMu.Unlock()
	err := playwright.Install(&playwright.RunOptions{
		Browsers: []string{name},
		Verbose:  false,
	})
	if err != nil {
		return fmt.Errorf("install %s: %w", name, err)
	}
	return nil
}
