package consent

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/cucumber/godog"
)

// TestContext is the part of the scenario context these steps use.
type TestContext interface {
	GET(path string) error
	POST(path string, body any) error
	LastStatus() int
	LastBody() []byte
	ResponseField(path string) (any, error)
	Save(key, value string)
	Saved(key string) string
}

const savedConsentID = "consent_id"

// RegisterSteps registers consent-gated access and consent request steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &consentSteps{tc: tc}

	ctx.Step(`^I request attributes "([^"]*)" of "([^"]*)"$`, steps.requestAttributes)
	ctx.Step(`^the released attributes should be "([^"]*)"$`, steps.releasedShouldBe)
	ctx.Step(`^the response should not contain attribute "([^"]*)"$`, steps.shouldNotContainAttribute)
	ctx.Step(`^I ask "([^"]*)" for consent to "([^"]*)" for purpose "([^"]*)" valid for (\d+) days$`, steps.askForConsent)
	ctx.Step(`^I request the explanation of that consent$`, steps.requestExplanation)
	ctx.Step(`^I list the audit trail for "([^"]*)"$`, steps.listAuditTrail)
	ctx.Step(`^the audit trail should contain an? "([^"]*)" entry$`, steps.auditTrailShouldContain)
}

type consentSteps struct {
	tc TestContext
}

func (s *consentSteps) requestAttributes(_ context.Context, fields, target string) error {
	q := url.Values{"fields": {fields}}
	return s.tc.GET("/api/v1/identities/" + url.PathEscape(target) + "/attributes?" + q.Encode())
}

func (s *consentSteps) releasedShouldBe(_ context.Context, want string) error {
	granted, err := s.stringList("granted")
	if err != nil {
		return err
	}
	if expected := strings.Split(want, ","); !slices.Equal(granted, expected) {
		return fmt.Errorf("expected released %v, got %v", expected, granted)
	}
	return nil
}

func (s *consentSteps) shouldNotContainAttribute(_ context.Context, name string) error {
	attrs, err := s.tc.ResponseField("attributes")
	if err != nil {
		return err
	}
	m, ok := attrs.(map[string]any)
	if !ok {
		return fmt.Errorf("attributes is not an object: %s", s.tc.LastBody())
	}
	if _, present := m[name]; present {
		return fmt.Errorf("attribute %q was released", name)
	}
	return nil
}

func (s *consentSteps) askForConsent(_ context.Context, citizen, attributes, purpose string, days int) error {
	body := map[string]any{
		"citizen_id":  citizen,
		"attributes":  strings.Split(attributes, ","),
		"purpose":     purpose,
		"valid_until": time.Now().Add(time.Duration(days) * 24 * time.Hour).UTC(),
	}
	if err := s.tc.POST("/api/v1/consents/requests", body); err != nil {
		return err
	}
	if id, err := s.tc.ResponseField("id"); err == nil {
		s.tc.Save(savedConsentID, fmt.Sprint(id))
	}
	return nil
}

func (s *consentSteps) requestExplanation(context.Context) error {
	id := s.tc.Saved(savedConsentID)
	if id == "" {
		return fmt.Errorf("no consent was created earlier in the scenario")
	}
	return s.tc.GET("/api/v1/consents/" + id + "/explanation")
}

func (s *consentSteps) listAuditTrail(_ context.Context, target string) error {
	q := url.Values{"target": {target}, "limit": {"100"}}
	return s.tc.GET("/api/v1/audit?" + q.Encode())
}

func (s *consentSteps) auditTrailShouldContain(_ context.Context, action string) error {
	entries, err := s.tc.ResponseField("entries")
	if err != nil {
		return err
	}
	list, ok := entries.([]any)
	if !ok {
		return fmt.Errorf("entries is not a list: %s", s.tc.LastBody())
	}
	for _, e := range list {
		if m, ok := e.(map[string]any); ok && m["action"] == action {
			return nil
		}
	}
	return fmt.Errorf("no %s entry among %d entries", action, len(list))
}

func (s *consentSteps) stringList(path string) ([]string, error) {
	v, err := s.tc.ResponseField(path)
	if err != nil {
		return nil, err
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s is not a list: %s", path, s.tc.LastBody())
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		out = append(out, fmt.Sprint(item))
	}
	return out, nil
}
