package auth

import (
	"context"

	"github.com/cucumber/godog"
)

// TestContext is the part of the scenario context these steps use.
type TestContext interface {
	SetActor(externalID string)
	SetToken(token string)
	ClearToken()
}

// RegisterSteps registers steps that choose who the scenario acts as.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &authSteps{tc: tc}

	ctx.Step(`^I am authenticated as "([^"]*)"$`, steps.authenticateAs)
	ctx.Step(`^I am not authenticated$`, steps.notAuthenticated)
	ctx.Step(`^I present the bearer token "([^"]*)"$`, steps.presentToken)
}

type authSteps struct {
	tc TestContext
}

func (s *authSteps) authenticateAs(_ context.Context, externalID string) error {
	s.tc.SetActor(externalID)
	return nil
}

func (s *authSteps) notAuthenticated(context.Context) error {
	s.tc.ClearToken()
	return nil
}

func (s *authSteps) presentToken(_ context.Context, token string) error {
	s.tc.SetToken(token)
	return nil
}
