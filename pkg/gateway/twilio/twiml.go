package twilio

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// StreamTwiML renders the voice response that connects an incoming call
// to the media-stream websocket at host. Per-call parameters are carried
// to the stream as custom parameters so the bridge can greet the caller
// and tag the transcript.
func StreamTwiML(host, firstMessage, callerNumber string) string {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString("<Response>\n")
	b.WriteString("    <Connect>\n")
	fmt.Fprintf(&b, "        <Stream url=\"wss://%s/media-stream\">\n", xmlEscape(host))
	fmt.Fprintf(&b, "            <Parameter name=\"firstMessage\" value=\"%s\" />\n", xmlEscape(firstMessage))
	fmt.Fprintf(&b, "            <Parameter name=\"callerNumber\" value=\"%s\" />\n", xmlEscape(callerNumber))
	b.WriteString("        </Stream>\n")
	b.WriteString("    </Connect>\n")
	b.WriteString("</Response>")
	return b.String()
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
