package contracts

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"
)

// Amount is an order size that accepts a JSON number or a numeric string.
// Anything else marks it invalid and fails validation later, so that every
// malformed field is reported together.
type Amount struct {
	Value   float64
	invalid bool
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = Amount{}
		return nil
	}
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			a.invalid = true
			return nil
		}
	} else {
		s = string(b)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*a = Amount{}
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		a.invalid = true
		return nil
	}
	*a = Amount{Value: v}
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Value)
}

// Input is a raw submission as received from a caller.
type Input struct {
	CompanyName         string         `json:"companyName" validate:"required,min=2,max=200"`
	ContactEmail        string         `json:"contactEmail" validate:"required,email,max=320"`
	LeadType            string         `json:"leadType" validate:"omitempty,max=40"`
	OrderSize           Amount         `json:"orderSize"`
	InterestFlags       *InterestFlags `json:"interestFlags,omitempty"`
	InterestType        *InterestFlags `json:"interestType,omitempty"`
	NodeReference       string         `json:"nodeReference,omitempty" validate:"omitempty,max=200"`
	SecurePassphrase    string         `json:"securePassphrase,omitempty" validate:"omitempty,min=4,max=72"`
	Passphrase          string         `json:"passphrase,omitempty" validate:"omitempty,max=72"`
	ArtifactName        string         `json:"artifact,omitempty" validate:"omitempty,max=255"`
	ArtifactContent     string         `json:"artifactContent,omitempty"`
	ArtifactContentType string         `json:"artifactContentType,omitempty" validate:"omitempty,max=127"`
	ArtifactRef         string         `json:"artifactRef,omitempty" validate:"omitempty,max=512"`
	Wormhole            bool           `json:"wormhole,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeInput parses a JSON submission and validates it.
func DecodeInput(raw []byte) (*Input, error) {
	var in Input
	if err := json.Unmarshal(raw, &in); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return nil, NewValidationError(typeErr.Field, "expected "+typeErr.Type.String())
		}
		return nil, NewValidationError("body", "malformed JSON")
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return &in, nil
}

// Validate reports every invalid field. Text fields are checked in their
// trimmed NFC form; the submission itself is left byte-for-byte as received.
func (in *Input) Validate() error {
	n := in.normalized()
	verr := &ValidationError{}
	if err := validate.Struct(&n); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return NewValidationError("body", err.Error())
		}
		for _, fe := range fieldErrs {
			verr.Fields = append(verr.Fields, FieldError{Field: fe.Field(), Reason: reasonFor(fe)})
		}
	}
	if in.OrderSize.invalid {
		verr.Fields = append(verr.Fields, FieldError{Field: "orderSize", Reason: "must be a number"})
	} else if in.OrderSize.Value < 0 {
		verr.Fields = append(verr.Fields, FieldError{Field: "orderSize", Reason: "must be non-negative"})
	}
	if _, ok := ParseLeadType(in.LeadType); !ok {
		verr.Fields = append(verr.Fields, FieldError{Field: "leadType", Reason: "unknown lead type"})
	}
	if in.ArtifactContent != "" {
		if _, _, err := decodeContent(in.ArtifactContent); err != nil {
			verr.Fields = append(verr.Fields, FieldError{Field: "artifactContent", Reason: err.Error()})
		}
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func (in *Input) normalized() Input {
	n := *in
	n.CompanyName = norm.NFC.String(strings.TrimSpace(in.CompanyName))
	n.ContactEmail = strings.TrimSpace(in.ContactEmail)
	n.NodeReference = norm.NFC.String(strings.TrimSpace(in.NodeReference))
	n.ArtifactName = strings.TrimSpace(in.ArtifactName)
	return n
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	}
	return "failed " + fe.Tag()
}

// Interests returns the interest flags, honoring the legacy field name.
func (in *Input) Interests() InterestFlags {
	switch {
	case in.InterestFlags != nil:
		return *in.InterestFlags
	case in.InterestType != nil:
		return *in.InterestType
	}
	return InterestFlags{}
}

// Lead returns the canonical lead type. Call after Validate.
func (in *Input) Lead() LeadType {
	lt, _ := ParseLeadType(in.LeadType)
	return lt
}

// HasInlineArtifact reports whether the submission carries artefact bytes.
func (in *Input) HasInlineArtifact() bool {
	return in.ArtifactContent != ""
}

// ArtifactBytes decodes inline artefact content. A data URL is decoded from
// base64 and its media type returned; plain content is returned as UTF-8 text.
func (in *Input) ArtifactBytes() ([]byte, string, error) {
	data, ct, err := decodeContent(in.ArtifactContent)
	if err != nil {
		return nil, "", err
	}
	if in.ArtifactContentType != "" {
		ct = in.ArtifactContentType
	}
	return data, ct, nil
}

func decodeContent(content string) ([]byte, string, error) {
	if !strings.HasPrefix(content, "data:") {
		return []byte(content), "text/plain; charset=utf-8", nil
	}
	header, payload, ok := strings.Cut(strings.TrimPrefix(content, "data:"), ",")
	if !ok {
		return nil, "", errors.New("malformed data URL")
	}
	mediaType, isBase64 := strings.CutSuffix(header, ";base64")
	if mediaType == "" {
		mediaType = "text/plain; charset=utf-8"
	}
	if !isBase64 {
		return []byte(payload), mediaType, nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", errors.New("invalid base64 payload")
	}
	return data, mediaType, nil
}
