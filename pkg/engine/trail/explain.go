package trail

import (
	"fmt"
	"strings"
)

// Explanation is the console summary printed for a record/rule match.
// It is a reporting artifact and never persisted with the hit.
type Explanation struct {
	Rule        string
	Description string
	File        string

	EventTime string
	Region    string
	EventName string
	SourceIP  string
	UserAgent string
	Actor     string
	ActorName string
	Resources []string
	SecretID  string
}

// Explain extracts the reported fields of rec for the named rule.
func Explain(rule, description string, rec Record) Explanation {
	return Explanation{
		Rule:        rule,
		Description: description,
		EventTime:   rec.Text("eventTime"),
		Region:      rec.Text("awsRegion"),
		EventName:   rec.Text("eventName"),
		SourceIP:    rec.Text("sourceIPAddress"),
		UserAgent:   rec.Text("userAgent"),
		Actor:       rec.Text("userIdentity.arn"),
		ActorName:   rec.ActorName(),
		Resources:   rec.ResourceARNs(2),
		SecretID:    rec.Text("requestParameters.secretId"),
	}
}

// Render formats the explanation as plain text, one field group per line.
func (e Explanation) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]\n", e.Rule)
	if e.Description != "" {
		fmt.Fprintf(&b, "%s\n", e.Description)
	}
	fmt.Fprintf(&b, "%s %s\n", orNone(e.EventTime), orNone(e.Region))
	fmt.Fprintf(&b, "eventName: %s sourceIPAddress: %s\n", orNone(e.EventName), orNone(e.SourceIP))
	fmt.Fprintf(&b, "userAgent: %s\n", orNone(e.UserAgent))

	actor := orNone(e.Actor)
	if e.ActorName != "" {
		actor = fmt.Sprintf("%s (%s)", actor, e.ActorName)
	}
	fmt.Fprintf(&b, "userIdentity: %s\n", actor)

	for _, arn := range e.Resources {
		fmt.Fprintf(&b, "resource: %s\n", arn)
	}
	if e.SecretID != "" {
		fmt.Fprintf(&b, "secretId: %s\n", e.SecretID)
	}
	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}
