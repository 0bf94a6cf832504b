package telephony

import (
	"bytes"
	"encoding/xml"
)

// Minimal TwiML builder for outbound counseling calls.
// It intentionally avoids any provider SDK dependency; only the verbs we
// actually send are modeled.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

const counselingGreeting = "Hello. This is an automated call from your school's student support team. " +
	"A counselor would like to speak with you about your student's attendance and wellbeing. " +
	"Please stay on the line."

// CounselingGreetingTwiML renders the TwiML played when an outbound
// counseling call is answered.
func CounselingGreetingTwiML() string {
	r := twimlResponse{
		Verbs: []any{
			twimlSay{Voice: "alice", Text: counselingGreeting},
			twimlPause{Length: 2},
		},
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	// Encoding a static struct cannot fail; fall back to an empty response if
	// it somehow does.
	if err := enc.Encode(r); err != nil {
		return xml.Header + "<Response></Response>"
	}
	_ = enc.Flush()
	return buf.String()
}
