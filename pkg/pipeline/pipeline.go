// Package pipeline turns a raw submission into a persisted signal record:
// validation, the passphrase gate, artefact storage, wormhole routing or
// classification, payment intent creation and the ledger write.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/buildcoprojects/signalhub/pkg/artifacts"
	"github.com/buildcoprojects/signalhub/pkg/audit"
	"github.com/buildcoprojects/signalhub/pkg/contracts"
	"github.com/buildcoprojects/signalhub/pkg/extract"
	"github.com/buildcoprojects/signalhub/pkg/llm"
	"github.com/buildcoprojects/signalhub/pkg/observability"
	"github.com/buildcoprojects/signalhub/pkg/payment"
	"github.com/buildcoprojects/signalhub/pkg/wormhole"
)

// Persister is the ledger surface the pipeline writes to.
type Persister interface {
	Append(ctx context.Context, s *contracts.Signal) (string, error)
}

// Router is the wormhole surface the pipeline uses.
type Router interface {
	Eligible(content string, meta wormhole.Metadata) bool
	ProcessArtefact(ctx context.Context, content string, meta wormhole.Metadata) (contracts.WormholeOutcome, error)
}

// Deps are the pipeline's collaborators. Store, Ledger and Classifier are
// required; Payments, Router, Audit and Telemetry are optional.
type Deps struct {
	Store      artifacts.Store
	Ledger     Persister
	Classifier llm.Classifier
	Payments   payment.Provider
	Router     Router
	Audit      audit.Logger
	Telemetry  *observability.Provider
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Result is the outcome of one submission. Err carries a
// *contracts.PersistenceError when the record could not be stored.
type Result struct {
	Signal    *contracts.Signal
	Persisted bool
	Tier      string
	Wormhole  *contracts.WormholeOutcome
	Err       error
}

type Pipeline struct {
	store      artifacts.Store
	ledger     Persister
	classifier llm.Classifier
	payments   payment.Provider
	router     Router
	audit      audit.Logger
	telemetry  *observability.Provider
	logger     *slog.Logger
	clock      func() time.Time

	mu   sync.Mutex
	last time.Time
}

func New(d Deps) (*Pipeline, error) {
	if d.Store == nil || d.Ledger == nil || d.Classifier == nil {
		return nil, errors.New("pipeline: Store, Ledger and Classifier are required")
	}
	p := &Pipeline{
		store:      d.Store,
		ledger:     d.Ledger,
		classifier: d.Classifier,
		payments:   d.Payments,
		router:     d.Router,
		audit:      d.Audit,
		telemetry:  d.Telemetry,
		logger:     d.Logger,
		clock:      d.Clock,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "pipeline")
	if p.clock == nil {
		p.clock = time.Now
	}
	return p, nil
}

// SubmitJSON decodes raw and submits it.
func (p *Pipeline) SubmitJSON(ctx context.Context, raw []byte) (*Result, error) {
	in, err := contracts.DecodeInput(raw)
	if err != nil {
		return nil, err
	}
	return p.Submit(ctx, *in)
}

// Submit processes one submission. The returned error is a
// *contracts.ValidationError or *contracts.SecurityError, both raised before
// any side effect. Collaborator failures are recorded as notes on the
// signal; a persistence failure is reported on Result.
func (p *Pipeline) Submit(ctx context.Context, in contracts.Input) (res *Result, err error) {
	ctx, done := p.track(ctx, "pipeline.submit")
	defer func() { done(err) }()

	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := contracts.CheckPassphrase(&in); err != nil {
		p.logger.WarnContext(ctx, "submission rejected by passphrase gate")
		return nil, err
	}

	sig := &contracts.Signal{
		ID:             "evt_" + uuid.NewString(),
		Timestamp:      p.stamp(),
		CompanyName:    in.CompanyName,
		ContactEmail:   in.ContactEmail,
		LeadType:       in.Lead(),
		OrderSize:      in.OrderSize.Value,
		InterestFlags:  in.Interests(),
		NodeReference:  in.NodeReference,
		SecurityStatus: contracts.SecurityUnsecured,
	}
	if in.SecurePassphrase != "" {
		hash, err := contracts.HashPassphrase(in.SecurePassphrase)
		if err != nil {
			return nil, err
		}
		sig.SecurePassphrase = hash
		sig.SecurityStatus = contracts.SecuritySecured
	}
	logger := p.logger.With("signal_id", sig.ID)

	var notes noteList
	data := p.storeArtefact(ctx, &in, sig, &notes)

	eligible := false
	meta := wormhole.Metadata{
		Wormhole:      in.Wormhole,
		NodeReference: in.NodeReference,
		Source:        "signal",
	}
	if sig.ArtifactRef != nil {
		meta.Name = sig.ArtifactRef.Name
		meta.ContentType = sig.ArtifactRef.ContentType
	}
	if p.router != nil && data != nil {
		eligible = p.router.Eligible(string(data), meta)
	}

	var g errgroup.Group
	if eligible {
		g.Go(func() error {
			p.routeWormhole(ctx, string(data), meta, sig, &notes)
			return nil
		})
	} else {
		g.Go(func() error {
			p.classify(ctx, &in, sig, data, &notes)
			return nil
		})
	}
	if p.payments != nil && sig.InterestFlags.Stripe && sig.OrderSize > 0 {
		g.Go(func() error {
			p.createPayment(ctx, sig, &notes)
			return nil
		})
	}
	_ = g.Wait()

	sig.Notes = notes.sorted()
	sig.Flags = contracts.DeriveFlags(sig)

	res = &Result{Signal: sig, Wormhole: sig.Wormhole}
	pctx, persistDone := p.track(ctx, "ledger.append")
	tier, perr := p.ledger.Append(pctx, sig)
	persistDone(perr)
	if perr != nil {
		res.Err = perr
		logger.ErrorContext(ctx, "signal returned unpersisted", "error", perr)
	} else {
		res.Persisted = true
		res.Tier = tier
		if p.telemetry != nil {
			p.telemetry.RecordPersisted(ctx, tier)
		}
	}

	if sig.Wormhole != nil && sig.Wormhole.Eligible {
		p.auditWormhole(ctx, sig, res.Persisted)
	}

	logger.InfoContext(ctx, "signal processed",
		"lead_type", sig.LeadType,
		"persisted", res.Persisted,
		"tier", res.Tier,
		"wormhole", eligible,
		"notes", len(sig.Notes),
	)
	return res, nil
}

// stamp returns a timestamp never earlier than the previous one.
func (p *Pipeline) stamp() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.clock().UTC()
	if t.Before(p.last) {
		t = p.last
	}
	p.last = t
	return t
}

// storeArtefact stores inline content or resolves a reference. It returns
// the artefact bytes, or nil when there is no usable artefact.
func (p *Pipeline) storeArtefact(ctx context.Context, in *contracts.Input, sig *contracts.Signal, notes *noteList) []byte {
	switch {
	case in.HasInlineArtifact():
		data, ct, err := in.ArtifactBytes()
		if err != nil {
			notes.add(fmt.Sprintf("artefact: %v", err))
			return nil
		}
		name := strings.TrimSpace(in.ArtifactName)
		if name == "" {
			name = "artefact"
		}
		h, err := artifacts.PutArtefact(ctx, p.store, name, data, ct)
		if err != nil {
			notes.dependency("artefact store", err)
			return data
		}
		sig.ArtifactRef = &h
		return data
	case in.ArtifactRef != "":
		h, data, err := artifacts.LoadArtefact(ctx, p.store, in.ArtifactRef)
		if err != nil {
			notes.dependency("artefact store", err)
			return nil
		}
		sig.ArtifactRef = &h
		return data
	}
	return nil
}

func (p *Pipeline) routeWormhole(ctx context.Context, content string, meta wormhole.Metadata, sig *contracts.Signal, notes *noteList) {
	ctx, done := p.track(ctx, "wormhole.process")
	out, err := p.router.ProcessArtefact(ctx, content, meta)
	done(err)
	if err != nil {
		notes.add(fmt.Sprintf("wormhole: %v", err))
	}
	sig.Wormhole = &out
	if out.Analysis != nil {
		a := *out.Analysis
		sig.Classification = &a
	}
	if p.telemetry != nil {
		p.telemetry.RecordActions(ctx, out.ExecutionResults)
	}
}

func (p *Pipeline) classify(ctx context.Context, in *contracts.Input, sig *contracts.Signal, data []byte, notes *noteList) {
	ctx, done := p.track(ctx, "classifier.classify")
	meta := map[string]any{
		"company":  sig.CompanyName,
		"leadType": string(sig.LeadType),
	}
	if sig.NodeReference != "" {
		meta["nodeReference"] = sig.NodeReference
	}
	verdict, err := p.classifier.Classify(ctx, describe(in, sig, data), meta)
	done(err)
	if err != nil {
		notes.dependency("classifier", err)
		return
	}
	sig.Classification = &verdict
}

func (p *Pipeline) createPayment(ctx context.Context, sig *contracts.Signal, notes *noteList) {
	ctx, done := p.track(ctx, "payment.create_intent")
	h, err := p.payments.CreateIntent(ctx, sig.OrderSize, payment.Customer{
		Email:         strings.TrimSpace(sig.ContactEmail),
		Name:          strings.TrimSpace(sig.CompanyName),
		LeadType:      sig.LeadType,
		NodeReference: sig.NodeReference,
	})
	done(err)
	if err != nil {
		notes.dependency("payment", err)
		return
	}
	sig.PaymentRef = &h
}

func (p *Pipeline) auditWormhole(ctx context.Context, sig *contracts.Signal, persisted bool) {
	if p.audit == nil {
		return
	}
	out := sig.Wormhole
	md := map[string]any{
		"actions":   len(out.Actions),
		"succeeded": out.Succeeded(),
		"persisted": persisted,
	}
	if out.Analysis != nil {
		md["category"] = string(out.Analysis.Category)
	}
	if out.Error != "" {
		md["error"] = out.Error
	}
	if err := p.audit.Record(ctx, audit.EventCommand, "wormhole.execute", sig.ID, md); err != nil {
		p.logger.WarnContext(ctx, "audit write failed", "signal_id", sig.ID, "error", err)
	}
}

func (p *Pipeline) track(ctx context.Context, name string) (context.Context, func(error)) {
	if p.telemetry == nil {
		return ctx, func(error) {}
	}
	return p.telemetry.TrackOperation(ctx, name, attribute.String("component", "pipeline"))
}

// maxDescribedArtefact bounds the artefact text, in runes, sent for
// classification.
const maxDescribedArtefact = 4000

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// describe synthesizes the text the standard path classifies.
func describe(in *contracts.Input, sig *contracts.Signal, data []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n", sig.CompanyName)
	if _, domain, ok := strings.Cut(sig.ContactEmail, "@"); ok {
		fmt.Fprintf(&b, "Contact domain: %s\n", domain)
	}
	fmt.Fprintf(&b, "Lead type: %s\n", sig.LeadType)
	if sig.OrderSize > 0 {
		fmt.Fprintf(&b, "Order size: %.2f\n", sig.OrderSize)
	}
	if sig.NodeReference != "" {
		fmt.Fprintf(&b, "Node reference: %s\n", sig.NodeReference)
	}
	var interests []string
	f := sig.InterestFlags
	for _, it := range []struct {
		on   bool
		name string
	}{{f.Stripe, "stripe"}, {f.Invoice, "invoice"}, {f.SignalAccess, "signal access"}, {f.Mirror, "mirror"}} {
		if it.on {
			interests = append(interests, it.name)
		}
	}
	if len(interests) > 0 {
		fmt.Fprintf(&b, "Interests: %s\n", strings.Join(interests, ", "))
	}
	if sig.ArtifactRef != nil && data != nil {
		if text, err := extract.Text(sig.ArtifactRef.ContentType, data); err == nil {
			text = truncateRunes(text, maxDescribedArtefact)
			fmt.Fprintf(&b, "Artefact %q:\n%s\n", sig.ArtifactRef.Name, text)
		} else {
			fmt.Fprintf(&b, "Artefact %q (%s, %d bytes)\n", sig.ArtifactRef.Name, sig.ArtifactRef.ContentType, sig.ArtifactRef.SizeBytes)
		}
	} else if in.ArtifactName != "" {
		fmt.Fprintf(&b, "Artefact: %s\n", in.ArtifactName)
	}
	return b.String()
}
