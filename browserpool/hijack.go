package browserpool

import (
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceTypeByName maps human-readable config strings to rod's protocol
// resource types.
var resourceTypeByName = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
	"Script":     proto.NetworkResourceTypeScript,
}

// setupResourceBlocking installs a request interceptor that blocks the
// configured resource types, cutting bandwidth and skipping decode/layout
// work the crawler's request handler never looks at. Every block is tallied
// on c so Pool.Stats/the health endpoint can report it. It returns the
// running HijackRouter, or nil if nothing is configured to block.
func setupResourceBlocking(page *rod.Page, c *BrowserController, blockedTypes []string) *rod.HijackRouter {
	blocked := make(map[proto.NetworkResourceType]struct{}, len(blockedTypes))
	for _, name := range blockedTypes {
		if rt, ok := resourceTypeByName[name]; ok {
			blocked[rt] = struct{}{}
		}
	}
	if len(blocked) == 0 {
		return nil
	}

	router := page.HijackRequests()
	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		if _, shouldBlock := blocked[ctx.Request.Type()]; shouldBlock {
			c.blockedRequests.Add(1)
			slog.Debug("browserpool: blocked resource request", "controller", c.ID, "type", ctx.Request.Type(), "url", ctx.Request.URL())
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}
