// Package twilio implements the telephony media-stream wire protocol:
// typed inbound frames, outbound frame encoders, and the TwiML used to
// route a call into the stream endpoint.
package twilio

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

// MediaFormat describes the audio the telephony provider streams.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// Connected is the first frame after the socket opens.
type Connected struct {
	Protocol string `json:"protocol"`
	Version  string `json:"version"`
}

// Start announces the stream and carries the per-call parameters set in
// the TwiML. The greeting and caller identity ride in CustomParameters.
type Start struct {
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

// FirstMessage returns the greeting parameter, if set.
func (s Start) FirstMessage() string {
	return strings.TrimSpace(s.CustomParameters["firstMessage"])
}

// CallerNumber returns the caller identity parameter, if set.
func (s Start) CallerNumber() string {
	return strings.TrimSpace(s.CustomParameters["callerNumber"])
}

// Media carries one chunk of caller audio, decoded from base64.
type Media struct {
	StreamSID string
	Track     string
	Payload   []byte
}

// Mark acknowledges a playback marker previously sent outbound.
type Mark struct {
	StreamSID string
	Name      string
}

// Stop signals the end of the stream.
type Stop struct {
	StreamSID  string
	AccountSID string
	CallSID    string
}

// DecodeFrame parses one inbound frame from the telephony socket.
func DecodeFrame(data []byte) (any, error) {
	var envelope struct {
		Event     string `json:"event"`
		StreamSID string `json:"streamSid"`
		Protocol  string `json:"protocol"`
		Version   string `json:"version"`
		Start     *Start `json:"start"`
		Media     *struct {
			Track   string `json:"track"`
			Payload string `json:"payload"`
		} `json:"media"`
		Mark *struct {
			Name string `json:"name"`
		} `json:"mark"`
		Stop *struct {
			AccountSID string `json:"accountSid"`
			CallSID    string `json:"callSid"`
		} `json:"stop"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame("invalid json frame", "")
	}

	switch strings.TrimSpace(envelope.Event) {
	case "connected":
		return Connected{Protocol: envelope.Protocol, Version: envelope.Version}, nil

	case "start":
		if envelope.Start == nil {
			return nil, badFrame("start frame missing start body", "start")
		}
		start := *envelope.Start
		if start.StreamSID == "" {
			start.StreamSID = envelope.StreamSID
		}
		if strings.TrimSpace(start.StreamSID) == "" {
			return nil, badFrame("start frame missing streamSid", "streamSid")
		}
		return start, nil

	case "media":
		if envelope.Media == nil {
			return nil, badFrame("media frame missing media body", "media")
		}
		payload, err := base64.StdEncoding.DecodeString(envelope.Media.Payload)
		if err != nil {
			return nil, badFrame("media payload is not valid base64", "media.payload")
		}
		return Media{
			StreamSID: envelope.StreamSID,
			Track:     envelope.Media.Track,
			Payload:   payload,
		}, nil

	case "mark":
		if envelope.Mark == nil {
			return nil, badFrame("mark frame missing mark body", "mark")
		}
		return Mark{StreamSID: envelope.StreamSID, Name: envelope.Mark.Name}, nil

	case "stop":
		stop := Stop{StreamSID: envelope.StreamSID}
		if envelope.Stop != nil {
			stop.AccountSID = envelope.Stop.AccountSID
			stop.CallSID = envelope.Stop.CallSID
		}
		return stop, nil

	case "":
		return nil, badFrame("missing event", "event")

	default:
		return nil, badFrame("unsupported event", "event")
	}
}

// EncodeMedia builds an outbound audio frame for the given stream.
func EncodeMedia(streamSID string, audio []byte) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event":     "media",
		"streamSid": streamSID,
		"media": map[string]string{
			"payload": base64.StdEncoding.EncodeToString(audio),
		},
	})
}

// EncodeClear builds the frame that flushes buffered playback, used when
// the caller interrupts the assistant mid-sentence.
func EncodeClear(streamSID string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event":     "clear",
		"streamSid": streamSID,
	})
}

// EncodeMark builds a playback marker frame.
func EncodeMark(streamSID, name string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event":     "mark",
		"streamSid": streamSID,
		"mark":      map[string]string{"name": name},
	})
}
