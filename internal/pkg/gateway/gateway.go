// Package gateway holds one adapter per payment provider. An adapter opens
// payments at the provider and turns the provider's callbacks into verified
// payment.Event values; it never touches the ledger.
package gateway

import (
	"context"
	"fmt"
	"sort"

	"github.com/vpnshop/paycore/internal/pkg/config"
	"github.com/vpnshop/paycore/internal/pkg/payment"
)

// Adapter is the contract every provider implements.
type Adapter interface {
	Provider() string
	CreatePayment(ctx context.Context, req payment.CreateRequest) (*payment.CreateResult, error)
	// VerifyAndParse authenticates a raw callback and normalizes it. It
	// returns payment.ErrInvalidSignature, payment.ErrMalformedPayload or an
	// *payment.IgnoredError for verified deliveries without payment state.
	VerifyAndParse(req payment.WebhookRequest) (*payment.Event, error)
}

// Acknowledger is implemented by providers that expect a specific response
// body for a successfully handled callback.
type Acknowledger interface {
	Acknowledge(ev *payment.Event) (contentType string, body []byte)
}

// Quoter is implemented by providers that bill in a different unit than the
// one requested, such as Telegram Stars.
type Quoter interface {
	Quote(amountMinor int64, currency string) (payment.Quote, error)
}

// Registry maps provider names to their configured adapters.
type Registry struct {
	adapters map[string]Adapter
	limits   map[string]config.Limits
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		limits:   make(map[string]config.Limits),
	}
}

// Register adds a under its provider name. A second adapter for the same
// provider replaces the first.
func (r *Registry) Register(a Adapter, limits config.Limits) {
	name := payment.NormalizeProvider(a.Provider())
	r.adapters[name] = a
	r.limits[name] = limits
}

func (r *Registry) Adapter(provider string) (Adapter, bool) {
	a, ok := r.adapters[payment.NormalizeProvider(provider)]
	return a, ok
}

func (r *Registry) Limits(provider string) (config.Limits, bool) {
	l, ok := r.limits[payment.NormalizeProvider(provider)]
	return l, ok
}

// Names lists registered providers in alphabetical order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IsKnown reports whether provider is one of the supported names, registered
// or not.
func IsKnown(provider string) bool {
	provider = payment.NormalizeProvider(provider)
	for _, name := range config.AllProviders {
		if name == provider {
			return true
		}
	}
	return false
}

// Deps are the collaborators adapters need beyond their configuration.
type Deps struct {
	// Stars sends invoices through the bot; nil disables invoice creation.
	Stars InvoiceSender
}

// FromConfig builds adapters for every provider enabled in cfg.
func FromConfig(cfg config.ProvidersConfig, deps Deps) (*Registry, error) {
	r := NewRegistry()
	p := cfg
	if p.Robokassa.Enabled {
		r.Register(NewRobokassa(p.Robokassa), p.Robokassa.Limits)
	}
	if p.Wata.Enabled {
		a, err := NewWata(p.Wata)
		if err != nil {
			return nil, fmt.Errorf("wata: %w", err)
		}
		r.Register(a, p.Wata.Limits)
	}
	if p.Heleket.Enabled {
		r.Register(NewHeleket(p.Heleket), p.Heleket.Limits)
	}
	if p.TelegramStars.Enabled {
		r.Register(NewTelegramStars(p.TelegramStars, deps.Stars), p.TelegramStars.Limits)
	}
	if p.CryptoBot.Enabled {
		r.Register(NewCryptoBot(p.CryptoBot), p.CryptoBot.Limits)
	}
	if p.YooKassa.Enabled {
		a, err := NewYooKassa(p.YooKassa)
		if err != nil {
			return nil, fmt.Errorf("yookassa: %w", err)
		}
		r.Register(a, p.YooKassa.Limits)
	}
	if p.Tribute.Enabled {
		r.Register(NewTribute(p.Tribute), p.Tribute.Limits)
	}
	if p.MulenPay.Enabled {
		r.Register(NewMulenPay(p.MulenPay), p.MulenPay.Limits)
	}
	if p.Pal24.Enabled {
		r.Register(NewPal24(p.Pal24), p.Pal24.Limits)
	}
	if p.Platega.Enabled {
		r.Register(NewPlatega(p.Platega), p.Platega.Limits)
	}
	if p.FreeKassa.Enabled {
		r.Register(NewFreeKassa(p.FreeKassa), p.FreeKassa.Limits)
	}
	if p.KassaAI.Enabled {
		r.Register(NewKassaAI(p.KassaAI), p.KassaAI.Limits)
	}
	if p.CloudPayments.Enabled {
		r.Register(NewCloudPayments(p.CloudPayments), p.CloudPayments.Limits)
	}
	return r, nil
}
