package channel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MrWong99/livetranslate/pkg/types"
)

// Control actions understood by the remote translation service.
const (
	ActionStart = "start"
	ActionStop  = "stop"
)

// ErrMalformedLine is returned by [ParseLine] when a payload cannot be
// interpreted as a translation line. The whole message is dropped.
var ErrMalformedLine = errors.New("channel: malformed line payload")

// ControlMessage is an outbound client → service message.
type ControlMessage struct {
	Action         string `json:"action"`
	SourceLanguage string `json:"sourceLanguage,omitempty"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
}

// StartMessage asks the service to start streaming lines for pair.
func StartMessage(pair types.LanguagePair) ControlMessage {
	return ControlMessage{
		Action:         ActionStart,
		SourceLanguage: pair.Source,
		TargetLanguage: pair.Target,
	}
}

// StopMessage asks the service to stop streaming lines.
func StopMessage() ControlMessage {
	return ControlMessage{Action: ActionStop}
}

// linePayload is the inbound JSON shape. Pointers distinguish missing fields
// from empty ones.
type linePayload struct {
	Original       *string         `json:"original"`
	Translation    *string         `json:"translation"`
	SourceLanguage *string         `json:"sourceLanguage"`
	TargetLanguage *string         `json:"targetLanguage"`
	Timestamp      json.RawMessage `json:"timestamp"`
}

// epochMillisThreshold separates unix seconds from unix milliseconds in
// numeric timestamps. 1e12 seconds is tens of thousands of years away.
const epochMillisThreshold = 1e12

// ParseLine decodes one inbound message into a [types.TranslationLine].
// original, translation and timestamp are required. sourceLanguage and
// targetLanguage are optional; when absent, the values of pair are used.
// The returned line has no sequence number; the caller assigns it.
func ParseLine(data []byte, pair types.LanguagePair) (types.TranslationLine, error) {
	var p linePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return types.TranslationLine{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	if p.Original == nil {
		return types.TranslationLine{}, fmt.Errorf("%w: missing original", ErrMalformedLine)
	}
	if p.Translation == nil {
		return types.TranslationLine{}, fmt.Errorf("%w: missing translation", ErrMalformedLine)
	}

	ts, err := parseTimestamp(p.Timestamp)
	if err != nil {
		return types.TranslationLine{}, err
	}

	src, err := optionalLang("sourceLanguage", p.SourceLanguage, pair.Source)
	if err != nil {
		return types.TranslationLine{}, err
	}
	dst, err := optionalLang("targetLanguage", p.TargetLanguage, pair.Target)
	if err != nil {
		return types.TranslationLine{}, err
	}

	return types.TranslationLine{
		Original:   *p.Original,
		Translated: *p.Translation,
		SourceLang: src,
		TargetLang: dst,
		Timestamp:  ts,
	}, nil
}

func optionalLang(field string, v *string, fallback string) (string, error) {
	if v == nil {
		return fallback, nil
	}
	if *v == "" {
		return "", fmt.Errorf("%w: empty %s", ErrMalformedLine, field)
	}
	return *v, nil
}

// localISOLayout matches ISO 8601 timestamps without a zone offset, as
// produced by Python's datetime.isoformat() on naive datetimes.
const localISOLayout = "2006-01-02T15:04:05.999999999"

// parseTimestamp accepts an RFC 3339 string, an ISO 8601 string without zone
// offset (read as local time) or a unix epoch number, either in (possibly
// fractional) seconds or in milliseconds.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, fmt.Errorf("%w: missing timestamp", ErrMalformedLine)
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp: %v", ErrMalformedLine, err)
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err == nil {
			return ts, nil
		}
		if local, lerr := time.ParseInLocation(localISOLayout, s, time.Local); lerr == nil {
			return local, nil
		}
		return time.Time{}, fmt.Errorf("%w: timestamp: %v", ErrMalformedLine, err)
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp: %v", ErrMalformedLine, err)
	}
	if n <= 0 || math.IsInf(n, 0) || math.IsNaN(n) {
		return time.Time{}, fmt.Errorf("%w: timestamp %v out of range", ErrMalformedLine, n)
	}
	if n >= epochMillisThreshold {
		return time.UnixMilli(int64(n)), nil
	}
	sec, frac := math.Modf(n)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))), nil
}
