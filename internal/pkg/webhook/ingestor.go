package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/studymate/checkout/app/models"
	"github.com/studymate/checkout/internal/pkg/checkout"
)

// Ingestor receives provider push notifications, deduplicates them and
// delegates approved payments to the orchestrator's finalize path. The push
// payload is only a pointer: amounts and status are always re-fetched from
// the provider.
type Ingestor struct {
	repo         checkout.Repository
	orchestrator *checkout.Service
}

func NewIngestor(orchestrator *checkout.Service) *Ingestor {
	return &Ingestor{repo: orchestrator.Repo(), orchestrator: orchestrator}
}

// Outcome describes what happened to a notification. Every variant is a
// success toward the provider; providers expect 2xx even for irrelevant
// events to stop retrying.
type Outcome struct {
	Ignored        bool
	Duplicate      bool
	Finalized      bool
	AlreadyApplied bool
}

// HandleNotification normalizes, deduplicates and resolves one inbound
// notification. The dedup row is inserted before the outbound fetch, so a
// failure mid-fetch leaves "event seen, not yet resolved" rather than losing
// the event; a later redelivery of an unresolved event resumes it.
func (i *Ingestor) HandleNotification(ctx context.Context, provider string, raw []byte, query map[string]string) (*Outcome, error) {
	n := parseNotification(raw, query)
	if !n.paymentRelated() {
		fiberlog.Infof("[Webhook] ignoring non-payment notification (topic=%q)", n.Topic)
		return &Outcome{Ignored: true}, nil
	}
	if n.PaymentID == "" {
		fiberlog.Warnf("[Webhook] payment notification without payment id, ignoring")
		return &Outcome{Ignored: true}, nil
	}

	created, stored, err := i.repo.CreateWebhookEventIfNotExists(ctx, &models.WebhookEvent{
		Provider:    provider,
		EventID:     n.eventID(),
		EventType:   n.Action,
		PayloadJSON: string(raw),
	})
	if err != nil {
		return nil, fmt.Errorf("persist webhook event: %w", err)
	}
	if !created && stored.ProcessedAt != nil {
		fiberlog.Infof("[Webhook] duplicate event %s/%s, no-op", provider, stored.EventID)
		return &Outcome{Duplicate: true}, nil
	}

	gw, ok := i.orchestrator.Gateway(provider)
	if !ok {
		return nil, fmt.Errorf("%w: %q", checkout.ErrUnsupportedProvider, provider)
	}

	payment, err := gw.GetPayment(ctx, n.PaymentID)
	if err != nil {
		// Event row stays unresolved; provider retry or reconciliation
		// picks it up.
		return nil, fmt.Errorf("fetch payment %s: %w", n.PaymentID, err)
	}

	if !payment.Approved() {
		fiberlog.Infof("[Webhook] payment %s status=%s, recorded and skipped", payment.ID, payment.Status)
		if err := i.repo.MarkWebhookProcessed(ctx, stored.ID, ""); err != nil {
			return nil, err
		}
		return &Outcome{Ignored: true}, nil
	}

	if payment.CheckoutID == "" {
		// Approved money we cannot correlate. Failing would make the
		// provider retry forever, so record it for operators and move on.
		fiberlog.Errorf("[Webhook] approved payment %s has no checkout reference", payment.ID)
		if err := i.repo.MarkWebhookProcessed(ctx, stored.ID, "approved payment without checkout reference"); err != nil {
			return nil, err
		}
		return &Outcome{Ignored: true}, nil
	}

	res, err := i.orchestrator.FinalizePayment(ctx, checkout.FinalizeInput{
		CheckoutRef: payment.CheckoutID,
		Provider:    provider,
		TxID:        payment.ID,
		AmountCents: payment.AmountCents,
		Currency:    payment.Currency,
	})
	if err != nil {
		if isDefiniteOutcome(err) {
			fiberlog.Errorf("[Webhook] payment %s not applied: %v", payment.ID, err)
			if markErr := i.repo.MarkWebhookProcessed(ctx, stored.ID, err.Error()); markErr != nil {
				return nil, markErr
			}
			return &Outcome{Ignored: true}, nil
		}
		return nil, fmt.Errorf("finalize payment %s: %w", payment.ID, err)
	}

	if err := i.repo.MarkWebhookProcessed(ctx, stored.ID, ""); err != nil {
		return nil, err
	}
	fiberlog.Infof("[Webhook] payment %s finalized for %s (applied=%t)", payment.ID, payment.CheckoutID, res.Applied)
	return &Outcome{Finalized: true, AlreadyApplied: !res.Applied}, nil
}

// isDefiniteOutcome separates outcomes no provider retry can change from
// transient failures worth surfacing as an error.
func isDefiniteOutcome(err error) bool {
	return errors.Is(err, checkout.ErrCheckoutNotFound) ||
		errors.Is(err, checkout.ErrExpired) ||
		errors.Is(err, checkout.ErrTransactionReused)
}

// notification is the normalized shape of a push across MercadoPago's body
// and query formats: type/topic/action may sit in either, the payment id
// under data.id or directly in the query.
type notification struct {
	Topic     string
	Action    string
	PaymentID string
}

func (n notification) paymentRelated() bool {
	return strings.Contains(strings.ToLower(n.Topic), "payment")
}

// eventID is deterministic across redeliveries of the same logical event.
func (n notification) eventID() string {
	return n.PaymentID + ":" + strings.ToLower(n.Action)
}

func parseNotification(raw []byte, query map[string]string) notification {
	var body struct {
		Type   string `json:"type"`
		Topic  string `json:"topic"`
		Action string `json:"action"`
		Data   struct {
			ID interface{} `json:"id"`
		} `json:"data"`
	}
	// Some deliveries carry everything in the query and an empty body.
	_ = json.Unmarshal(raw, &body)

	topic := firstNonEmpty(body.Type, body.Topic, query["type"], query["topic"])
	action := firstNonEmpty(body.Action, topic)

	id := stringifyID(body.Data.ID)
	if id == "" {
		id = firstNonEmpty(query["data.id"], query["id"])
	}

	return notification{
		Topic:     strings.TrimSpace(topic),
		Action:    strings.TrimSpace(action),
		PaymentID: strings.TrimSpace(id),
	}
}

func stringifyID(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
