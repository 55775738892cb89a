package common

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext is the part of the scenario context these steps use.
type TestContext interface {
	GET(path string) error
	LastStatus() int
	LastBody() []byte
	ResponseField(path string) (any, error)
}

// RegisterSteps registers generic request and response assertions.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^I GET "([^"]*)"$`, steps.get)
	ctx.Step(`^the response status should be (\d+)$`, steps.statusShouldBe)
	ctx.Step(`^the response error should be "([^"]*)"$`, steps.errorShouldBe)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, steps.fieldShouldEqual)
	ctx.Step(`^the response field "([^"]*)" should be present$`, steps.fieldShouldBePresent)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) get(_ context.Context, path string) error {
	return s.tc.GET(path)
}

func (s *commonSteps) statusShouldBe(_ context.Context, want int) error {
	if got := s.tc.LastStatus(); got != want {
		return fmt.Errorf("expected status %d, got %d: %s", want, got, s.tc.LastBody())
	}
	return nil
}

func (s *commonSteps) errorShouldBe(_ context.Context, code string) error {
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(s.tc.LastBody(), &envelope); err != nil {
		return fmt.Errorf("response is not an error envelope: %s", s.tc.LastBody())
	}
	if envelope.Error != code {
		return fmt.Errorf("expected error %q, got %q", code, envelope.Error)
	}
	return nil
}

func (s *commonSteps) fieldShouldEqual(_ context.Context, path, want string) error {
	v, err := s.tc.ResponseField(path)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(v); got != want {
		return fmt.Errorf("expected %s = %q, got %q", path, want, got)
	}
	return nil
}

func (s *commonSteps) fieldShouldBePresent(_ context.Context, path string) error {
	_, err := s.tc.ResponseField(path)
	return err
}
