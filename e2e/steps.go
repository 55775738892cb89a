package e2e

import (
	"github.com/cucumber/godog"

	"govid/e2e/steps/auth"
	"govid/e2e/steps/common"
	"govid/e2e/steps/consent"
	"govid/e2e/steps/ratelimit"
)

// RegisterSteps registers the step definitions of every feature area.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	auth.RegisterSteps(ctx, tc)
	consent.RegisterSteps(ctx, tc)
	ratelimit.RegisterSteps(ctx, tc)
}
