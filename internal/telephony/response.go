// Package telephony builds the XML response documents the telephony
// webhook provider expects back from each state handler (spec.md §4.1:
// "returns a telephony-XML document describing the next caller
// interaction"), and, in client.go, the small outbound REST surface for
// sending SMS and downloading recordings. Grounded on the teacher's
// internal/conversation/telnyx_voice_client.go HTTP idiom; the XML shape
// itself follows the Say/Gather/Record/Dial/Redirect/Hangup verb set used
// by every TwiML-compatible provider in the retrieval pack (see
// omnivoice-twilio's buildMediaStreamTwiML for the same verb family,
// rendered here with encoding/xml instead of fmt.Sprintf so verbs compose).
package telephony

import "encoding/xml"

// Response is the root telephony-XML document. Verbs execute in document
// order; exactly one of Gather/Record/Dial/Redirect/Hangup is expected to
// be terminal for a given state (spec.md §4.1's state table).
type Response struct {
	XMLName  xml.Name  `xml:"Response"`
	Say      []Say     `xml:"Say,omitempty"`
	Pause    *Pause    `xml:"Pause,omitempty"`
	Gather   *Gather   `xml:"Gather,omitempty"`
	Record   *Record   `xml:"Record,omitempty"`
	Dial     *Dial     `xml:"Dial,omitempty"`
	Redirect *Redirect `xml:"Redirect,omitempty"`
	Hangup   *Hangup   `xml:"Hangup,omitempty"`
}

// Pause holds the line silent for Length seconds, used to give a
// background job (e.g. transcription) time to finish before the matching
// Redirect polls again.
type Pause struct {
	Length int `xml:"length,attr,omitempty"`
}

// Say speaks text to the caller in German.
type Say struct {
	Language string `xml:"language,attr,omitempty"`
	Text     string `xml:",chardata"`
}

// Gather collects either speech or DTMF digits and posts the result to
// Action.
type Gather struct {
	Input         string `xml:"input,attr"` // "speech" or "dtmf"
	Action        string `xml:"action,attr"`
	Method        string `xml:"method,attr,omitempty"`
	NumDigits     int    `xml:"numDigits,attr,omitempty"`
	SpeechTimeout string `xml:"speechTimeout,attr,omitempty"`
	Language      string `xml:"language,attr,omitempty"`
	Say           *Say   `xml:"Say,omitempty"`
}

// Record captures the caller's spoken address for background STT
// (spec.md §4.1's ask-address → process-address transition).
type Record struct {
	Action                  string `xml:"action,attr"`
	Method                  string `xml:"method,attr,omitempty"`
	MaxLength               int    `xml:"maxLength,attr,omitempty"`
	Timeout                 int    `xml:"timeout,attr,omitempty"`
	RecordingStatusCallback string `xml:"recordingStatusCallback,attr,omitempty"`
	PlayBeep                bool   `xml:"playBeep,attr,omitempty"`
}

// Dial places a single outbound dial leg with a status callback
// (spec.md §4.2's `start_transfer`).
type Dial struct {
	Action              string `xml:"action,attr,omitempty"`
	Method              string `xml:"method,attr,omitempty"`
	TimeoutSeconds      int    `xml:"timeout,attr,omitempty"`
	Number              DialNumber `xml:"Number"`
}

// DialNumber is the single phone number dialed, with its own status
// callback so the FSM can react to completed/no-answer/busy independently
// of the leg that invoked Dial.
type DialNumber struct {
	StatusCallback       string `xml:"statusCallback,attr,omitempty"`
	StatusCallbackEvent  string `xml:"statusCallbackEvent,attr,omitempty"`
	Number               string `xml:",chardata"`
}

// Redirect hands control of the call to a different webhook endpoint
// without speaking or gathering input.
type Redirect struct {
	Method string `xml:"method,attr,omitempty"`
	URL    string `xml:",chardata"`
}

// Hangup ends the call.
type Hangup struct{}

// Marshal renders the document with the XML declaration every telephony
// provider in the pack expects as the first line.
func (r Response) Marshal() ([]byte, error) {
	body, err := xml.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

// Speak returns a minimal Say-only response, e.g. for a dead-end apology
// before Hangup.
func Speak(text string) Response {
	return Response{Say: []Say{{Language: "de-DE", Text: text}}}
}

// SpeakThenHangup is the shape every exit state in spec.md §4.1 uses: an
// apology or closing remark, then hang up.
func SpeakThenHangup(text string) Response {
	return Response{Say: []Say{{Language: "de-DE", Text: text}}, Hangup: &Hangup{}}
}

// GatherSpeech prompts text and gathers a spoken utterance, posting the
// result to action.
func GatherSpeech(text, action string) Response {
	return Response{Gather: &Gather{
		Input:         "speech",
		Action:        action,
		Method:        "POST",
		SpeechTimeout: "auto",
		Language:      "de-DE",
		Say:           &Say{Language: "de-DE", Text: text},
	}}
}

// GatherDigits prompts text and gathers exactly numDigits DTMF digits
// (spec.md §4.1's ask-plz state).
func GatherDigits(text, action string, numDigits int) Response {
	return Response{Gather: &Gather{
		Input:     "dtmf",
		Action:    action,
		Method:    "POST",
		NumDigits: numDigits,
		Say:       &Say{Language: "de-DE", Text: text},
	}}
}

// RecordAddress prompts text and records the caller's reply for
// background transcription.
func RecordAddress(text, action, recordingStatusCallback string, maxLengthSeconds, timeoutSeconds int) Response {
	return Response{
		Say: []Say{{Language: "de-DE", Text: text}},
		Record: &Record{
			Action:                  action,
			Method:                  "POST",
			MaxLength:               maxLengthSeconds,
			Timeout:                 timeoutSeconds,
			RecordingStatusCallback: recordingStatusCallback,
			PlayBeep:                true,
		},
	}
}

// DialContact places a single outbound leg to number with a status
// callback at statusCallbackURL (spec.md §4.2's `start_transfer`).
func DialContact(number, statusCallbackURL string, ringTimeoutSeconds int) Response {
	return Response{Dial: &Dial{
		TimeoutSeconds: ringTimeoutSeconds,
		Number: DialNumber{
			Number:              number,
			StatusCallback:      statusCallbackURL,
			StatusCallbackEvent: "completed",
		},
	}}
}

// RedirectTo hands off to another webhook endpoint without speaking.
func RedirectTo(url string) Response {
	return Response{Redirect: &Redirect{Method: "POST", URL: url}}
}

// PauseThenRedirect holds the line for seconds, then hands off to url. Used
// by the background-STT poll loop (spec.md §4.1's process-address →
// address-processed transition) while a transcription job is still pending.
func PauseThenRedirect(seconds int, url string) Response {
	return Response{
		Pause:    &Pause{Length: seconds},
		Redirect: &Redirect{Method: "POST", URL: url},
	}
}
