package browser

import (
	"context"
	"strings"

	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/phuslu/log"
)

// attachConsoleListener mirrors page console output and uncaught
// exceptions into the trace log. Sites under automation often report
// bot detection or API failures only in the browser console.
func attachConsoleListener(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *cdpruntime.EventConsoleAPICalled:
			var parts []string
			for _, arg := range e.Args {
				if len(arg.Value) > 0 {
					parts = append(parts, string(arg.Value))
				}
			}
			if len(parts) == 0 {
				return
			}
			message := strings.Join(parts, " ")
			switch e.Type {
			case cdpruntime.APITypeError:
				log.Debug().Str("source", "page").Msg("console.error: " + message)
			case cdpruntime.APITypeWarning:
				log.Trace().Str("source", "page").Msg("console.warn: " + message)
			default:
				log.Trace().Str("source", "page").Msg("console: " + message)
			}
		case *cdpruntime.EventExceptionThrown:
			if e.ExceptionDetails != nil {
				log.Debug().Str("source", "page").Msg("uncaught: " + e.ExceptionDetails.Text)
			}
		}
	})
}
