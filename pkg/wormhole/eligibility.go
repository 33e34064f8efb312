// Package wormhole routes privileged artefacts through model-planned
// infrastructure actions. Only artefacts explicitly marked for the path are
// processed; everything else is left to standard classification.
package wormhole

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// TokenHeader prefixes the in-band marker line.
const TokenHeader = "X-Wormhole-Token:"

// Metadata describes an artefact handed to the router.
type Metadata struct {
	Wormhole      bool   `json:"wormhole"`
	Name          string `json:"name,omitempty"`
	ContentType   string `json:"contentType,omitempty"`
	NodeReference string `json:"nodeReference,omitempty"`
	Command       string `json:"command,omitempty"`
	Target        string `json:"target,omitempty"`
	Source        string `json:"source,omitempty"`
}

// Gate decides eligibility. The in-band token is only honoured when a secret
// is configured.
type Gate struct {
	secret []byte
}

func NewGate(secret string) Gate {
	return Gate{secret: []byte(secret)}
}

// Eligible reports whether content may take the privileged path: either the
// metadata flag is set or the first line carries a valid token for the rest
// of the content. Keywords in the content never qualify.
func (g Gate) Eligible(content string, meta Metadata) bool {
	if meta.Wormhole {
		return true
	}
	if len(g.secret) == 0 {
		return false
	}
	token, body, ok := splitToken(content)
	if !ok {
		return false
	}
	want := g.mac(body)
	got, err := hex.DecodeString(token)
	return err == nil && hmac.Equal(got, want)
}

// Sign returns content prefixed with a valid token line.
func (g Gate) Sign(body string) string {
	return TokenHeader + " " + hex.EncodeToString(g.mac(body)) + "\n" + body
}

func (g Gate) mac(body string) []byte {
	m := hmac.New(sha256.New, g.secret)
	m.Write([]byte(body))
	return m.Sum(nil)
}

// StripToken removes a leading token line, if any.
func StripToken(content string) string {
	if _, body, ok := splitToken(content); ok {
		return body
	}
	return content
}

func splitToken(content string) (token, body string, ok bool) {
	first, rest, _ := strings.Cut(content, "\n")
	first = strings.TrimRight(first, "\r")
	if !strings.HasPrefix(first, TokenHeader) {
		return "", "", false
	}
	token = strings.TrimSpace(strings.TrimPrefix(first, TokenHeader))
	if token == "" {
		return "", "", false
	}
	return token, rest, true
}
