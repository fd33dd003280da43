package config

import (
	"net/url"
	"strings"
)

const redacted = "redacted"

// Redacted returns a copy safe to show operators: URL userinfo and query
// values are replaced and contact numbers are masked to their last two
// digits.
func (c *Config) Redacted() *Config {
	cp := *c
	if c.Cameras != nil {
		cp.Cameras = make(map[string]string, len(c.Cameras))
		for name, u := range c.Cameras {
			cp.Cameras[name] = redactURL(u)
		}
	}
	if c.Vision.Endpoint != nil {
		ep := redactURL(*c.Vision.Endpoint)
		cp.Vision.Endpoint = &ep
	}
	if c.Alerts.WebhookURL != "" {
		cp.Alerts.WebhookURL = redactURL(c.Alerts.WebhookURL)
	}
	if c.Alerts.Contacts != nil {
		cp.Alerts.Contacts = make([]string, len(c.Alerts.Contacts))
		for i, n := range c.Alerts.Contacts {
			cp.Alerts.Contacts[i] = maskContact(n)
		}
	}
	return &cp
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return redacted
	}
	if u.User != nil {
		u.User = url.User(redacted)
	}
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			q[k] = []string{redacted}
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func maskContact(n string) string {
	if len(n) <= 2 {
		return strings.Repeat("*", len(n))
	}
	return strings.Repeat("*", len(n)-2) + n[len(n)-2:]
}
