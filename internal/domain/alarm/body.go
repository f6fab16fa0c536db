package alarm

import (
	"bytes"
	"encoding/json"
	"mime"
	"net"
	"strings"
)

// ParseErrorInvalidJSON is recorded when a payload declared as JSON does not parse.
const ParseErrorInvalidJSON = "invalid json"

// ParseFailure is stored as the body of an alarm whose declared JSON payload
// could not be parsed. The field names are part of the wire contract.
type ParseFailure struct {
	ParseError string `json:"parseError"`
	RawText    string `json:"rawText"`
}

// IsJSONContentType reports whether a Content-Type header declares JSON,
// either application/json or any structured "+json" media type.
func IsJSONContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// DecodeBody turns a raw payload into the JSON value stored as an alarm body.
// Declared JSON that parses is kept verbatim; declared JSON that does not
// parse becomes a ParseFailure record; anything else is stored as a string.
// DecodeBody never fails.
func DecodeBody(raw []byte, contentType string) json.RawMessage {
	if IsJSONContentType(contentType) {
		if json.Valid(raw) {
			return compact(raw)
		}
		return mustMarshal(ParseFailure{ParseError: ParseErrorInvalidJSON, RawText: string(raw)})
	}
	return mustMarshal(string(raw))
}

// IsParseFailure reports whether DecodeBody would record raw as a ParseFailure.
func IsParseFailure(raw []byte, contentType string) bool {
	return IsJSONContentType(contentType) && !json.Valid(raw)
}

// SourceAddress derives the originating address of a request: the first hop
// of X-Forwarded-For when present, otherwise the host part of the peer address.
func SourceAddress(forwardedFor, remoteAddr string) string {
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func compact(raw []byte) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return json.RawMessage(raw)
	}
	return buf.Bytes()
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// strings and ParseFailure always marshal
		panic(err)
	}
	return b
}
