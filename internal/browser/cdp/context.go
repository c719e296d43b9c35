package cdp

import "context"

// combineContext derives a context from primary that is also canceled when
// secondary is done. primary carries the chromedp target; secondary carries
// the caller's deadline.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
