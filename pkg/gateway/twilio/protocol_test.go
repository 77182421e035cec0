package twilio

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeFrameStart(t *testing.T) {
	raw := `{
		"event": "start",
		"streamSid": "MZ123",
		"start": {
			"accountSid": "AC1",
			"callSid": "CA1",
			"tracks": ["inbound"],
			"customParameters": {"firstMessage": " Hi there ", "callerNumber": "+15550001111"},
			"mediaFormat": {"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1}
		}
	}`
	frame, err := DecodeFrame([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	start, ok := frame.(Start)
	if !ok {
		t.Fatalf("expected Start, got %T", frame)
	}
	if start.StreamSID != "MZ123" || start.CallSID != "CA1" {
		t.Fatalf("unexpected start %+v", start)
	}
	if start.FirstMessage() != "Hi there" {
		t.Fatalf("FirstMessage = %q", start.FirstMessage())
	}
	if start.CallerNumber() != "+15550001111" {
		t.Fatalf("CallerNumber = %q", start.CallerNumber())
	}
	if start.MediaFormat.SampleRate != 8000 {
		t.Fatalf("sample rate = %d", start.MediaFormat.SampleRate)
	}
}

func TestDecodeFrameMedia(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte{0xFF, 0x7F})
	frame, err := DecodeFrame([]byte(`{"event":"media","streamSid":"MZ1","media":{"track":"inbound","payload":"` + payload + `"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	media := frame.(Media)
	if media.StreamSID != "MZ1" || media.Track != "inbound" {
		t.Fatalf("unexpected media %+v", media)
	}
	if !bytes.Equal(media.Payload, []byte{0xFF, 0x7F}) {
		t.Fatalf("payload = %v", media.Payload)
	}

	_, err = DecodeFrame([]byte(`{"event":"media","streamSid":"MZ1","media":{"payload":"%%%"}}`))
	var de *DecodeError
	if !asDecodeError(err, &de) || de.Param != "media.payload" {
		t.Fatalf("expected payload decode error, got %v", err)
	}
}

func TestDecodeFrameStopAndMark(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"event":"stop","streamSid":"MZ1","stop":{"callSid":"CA1"}}`))
	if err != nil {
		t.Fatalf("decode stop: %v", err)
	}
	if stop := frame.(Stop); stop.CallSID != "CA1" || stop.StreamSID != "MZ1" {
		t.Fatalf("unexpected stop %+v", frame)
	}

	frame, err = DecodeFrame([]byte(`{"event":"mark","streamSid":"MZ1","mark":{"name":"greeting"}}`))
	if err != nil {
		t.Fatalf("decode mark: %v", err)
	}
	if mark := frame.(Mark); mark.Name != "greeting" {
		t.Fatalf("unexpected mark %+v", frame)
	}
}

func TestDecodeFrameRejectsBadFrames(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		param string
	}{
		{"invalid json", `{nope`, ""},
		{"missing event", `{"streamSid":"MZ1"}`, "event"},
		{"unknown event", `{"event":"dtmf"}`, "event"},
		{"start without body", `{"event":"start"}`, "start"},
		{"start without sid", `{"event":"start","start":{}}`, "streamSid"},
		{"media without body", `{"event":"media","streamSid":"MZ1"}`, "media"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeFrame([]byte(tc.raw))
			var de *DecodeError
			if !asDecodeError(err, &de) {
				t.Fatalf("expected DecodeError, got %v", err)
			}
			if de.Param != tc.param {
				t.Fatalf("param = %q, want %q", de.Param, tc.param)
			}
		})
	}
}

func asDecodeError(err error, target **DecodeError) bool {
	de, ok := err.(*DecodeError)
	if ok {
		*target = de
	}
	return ok
}

func TestEncodeMediaRoundTrip(t *testing.T) {
	raw, err := EncodeMedia("MZ1", []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var frame struct {
		Event     string `json:"event"`
		StreamSID string `json:"streamSid"`
		Media     struct {
			Payload string `json:"payload"`
		} `json:"media"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.Event != "media" || frame.StreamSID != "MZ1" {
		t.Fatalf("unexpected frame %+v", frame)
	}
	decoded, err := base64.StdEncoding.DecodeString(frame.Media.Payload)
	if err != nil || !bytes.Equal(decoded, []byte{1, 2, 3}) {
		t.Fatalf("payload = %q", frame.Media.Payload)
	}
}

func TestEncodeClear(t *testing.T) {
	raw, err := EncodeClear("MZ1")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame["event"] != "clear" || frame["streamSid"] != "MZ1" {
		t.Fatalf("unexpected frame %v", frame)
	}
}

func TestStreamTwiML(t *testing.T) {
	twiml := StreamTwiML("bridge.example.com", `Hello "caller" <now>`, "+15550001111")

	if !strings.Contains(twiml, `<Stream url="wss://bridge.example.com/media-stream">`) {
		t.Fatalf("missing stream url in %q", twiml)
	}
	if !strings.Contains(twiml, `name="callerNumber" value="+15550001111"`) {
		t.Fatalf("missing caller parameter in %q", twiml)
	}
	if strings.Contains(twiml, `<now>`) {
		t.Fatal("unescaped XML in parameter value")
	}
	if !strings.Contains(twiml, "&lt;now&gt;") {
		t.Fatalf("expected escaped angle brackets in %q", twiml)
	}
}
