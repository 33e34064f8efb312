// Package contracts defines the records that flow between the intake
// pipeline, its collaborators and the ledger.
package contracts

import (
	"strings"
	"time"
)

// LeadType identifies who submitted a signal.
type LeadType string

const (
	LeadBuyer          LeadType = "Buyer"
	LeadSignalObserver LeadType = "SignalObserver"
	LeadLLMMonitor     LeadType = "LLMMonitor"
	LeadUnknown        LeadType = "Unknown"
)

// ParseLeadType maps a submitted lead type onto the canonical set. The spaced
// spellings used by older intake forms are accepted. Empty input is Unknown.
func ParseLeadType(s string) (LeadType, bool) {
	key := strings.ToLower(strings.Join(strings.Fields(s), ""))
	switch key {
	case "":
		return LeadUnknown, true
	case "buyer":
		return LeadBuyer, true
	case "signalobserver":
		return LeadSignalObserver, true
	case "llmmonitor":
		return LeadLLMMonitor, true
	case "unknown":
		return LeadUnknown, true
	}
	return "", false
}

// SecurityStatus records whether the submission was passphrase protected.
type SecurityStatus string

const (
	SecurityUnsecured SecurityStatus = "UNSECURED"
	SecuritySecured   SecurityStatus = "SECURED"
)

// InterestFlags are the commercial interests ticked on a submission.
type InterestFlags struct {
	Stripe       bool `json:"stripe"`
	Invoice      bool `json:"invoice"`
	SignalAccess bool `json:"signalAccess"`
	Mirror       bool `json:"mirror"`
}

// StoredArtifactHandle references an artefact blob in the store.
type StoredArtifactHandle struct {
	Key         string `json:"key"`
	Name        string `json:"name,omitempty"`
	ContentHash string `json:"contentHash"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
}

// PaymentHandle is the normalized result of a payment intent creation.
type PaymentHandle struct {
	IntentID string  `json:"intentId"`
	Amount   float64 `json:"amount"`
	Status   string  `json:"status"`
}

// Signal is one ledger record. Records are append-only: once persisted a
// signal is never rewritten.
type Signal struct {
	ID               string                `json:"id"`
	Timestamp        time.Time             `json:"timestamp"`
	CompanyName      string                `json:"companyName"`
	ContactEmail     string                `json:"contactEmail"`
	LeadType         LeadType              `json:"leadType"`
	OrderSize        float64               `json:"orderSize"`
	InterestFlags    InterestFlags         `json:"interestFlags"`
	NodeReference    string                `json:"nodeReference,omitempty"`
	SecurePassphrase string                `json:"securePassphrase,omitempty"` // bcrypt hash, never plaintext
	SecurityStatus   SecurityStatus        `json:"securityStatus"`
	ArtifactRef      *StoredArtifactHandle `json:"artifactRef,omitempty"`
	Classification   *ClassificationResult `json:"classification,omitempty"`
	PaymentRef       *PaymentHandle        `json:"paymentRef,omitempty"`
	Wormhole         *WormholeOutcome      `json:"wormhole,omitempty"`
	Flags            Flags                 `json:"flags"`
	Notes            []string              `json:"notes,omitempty"`
}

// Flags are derived markers used by the ledger filters.
type Flags struct {
	HighSignal        bool `json:"highSignal"`
	NeedsMirror       bool `json:"needsMirror"`
	HighRisk          bool `json:"highRisk"`
	StripeConfirmed   bool `json:"stripeConfirmed"`
	ArtifactLoaded    bool `json:"artifactLoaded"`
	Classified        bool `json:"classified"`
	WormholeProcessed bool `json:"wormholeProcessed"`
}

// HighSignalConfidence is the minimum confidence of a Confirmed
// classification for the record to be flagged high signal.
const HighSignalConfidence = 0.8

// DeriveFlags computes the flag set from the record's enrichment results.
func DeriveFlags(s *Signal) Flags {
	f := Flags{
		NeedsMirror:       s.InterestFlags.Mirror,
		StripeConfirmed:   s.PaymentRef != nil,
		ArtifactLoaded:    s.ArtifactRef != nil,
		Classified:        s.Classification != nil,
		WormholeProcessed: s.Wormhole != nil && s.Wormhole.Eligible,
	}
	if c := s.Classification; c != nil {
		switch c.Category {
		case CategoryConfirmed:
			f.HighSignal = c.Confidence >= HighSignalConfidence
		case CategoryNeedsMirror:
			f.NeedsMirror = true
		case CategorySuspicious:
			f.HighRisk = true
		}
	}
	return f
}

// Flag names accepted by the ledger's flag filter.
const (
	FlagHighRisk        = "HIGH-RISK"
	FlagArtifactLoaded  = "ARTEFACT-LOADED"
	FlagStripeConfirmed = "STRIPE-CONFIRMED"
	FlagNeedsMirror     = "NEEDS-MIRROR"
	FlagHighSignal      = "HIGH-SIGNAL"
	FlagWormhole        = "WORMHOLE"
)

// Has reports whether the named flag is set. Unknown names report false.
func (f Flags) Has(name string) bool {
	switch strings.ToUpper(name) {
	case FlagHighRisk:
		return f.HighRisk
	case FlagArtifactLoaded, "ARTIFACT-LOADED":
		return f.ArtifactLoaded
	case FlagStripeConfirmed:
		return f.StripeConfirmed
	case FlagNeedsMirror:
		return f.NeedsMirror
	case FlagHighSignal:
		return f.HighSignal
	case FlagWormhole:
		return f.WormholeProcessed
	}
	return false
}
