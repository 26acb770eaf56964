package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/vpnshop/paycore/internal/pkg/config"
	"github.com/vpnshop/paycore/internal/pkg/payment"
)

// Pal24 (PayPalych) bills are created over the merchant API. Postbacks
// identify the payment by our order id only, so events leave the external
// id empty and the engine matches on the order.
type Pal24 struct {
	cfg config.Pal24Config
	api *apiClient
}

func NewPal24(cfg config.Pal24Config) *Pal24 {
	return &Pal24{cfg: cfg, api: newAPIClient(cfg.BaseURL, cfg.Timeout)}
}

func (p *Pal24) Provider() string { return payment.ProviderPal24 }

type pal24BillResponse struct {
	Success     any    `json:"success"`
	BillID      string `json:"bill_id"`
	LinkURL     string `json:"link_url"`
	LinkPageURL string `json:"link_page_url"`
	Message     string `json:"message"`
}

func (p *Pal24) CreatePayment(ctx context.Context, req payment.CreateRequest) (*payment.CreateResult, error) {
	currency := payment.NormalizeCurrency(req.Currency)
	form := url.Values{}
	form.Set("amount", fixed(req.AmountMinor, currency))
	form.Set("shop_id", p.cfg.ShopID)
	form.Set("order_id", req.OrderID)
	form.Set("description", req.Description)
	form.Set("type", "normal")
	form.Set("currency_in", currency)
	form.Set("payer_pays_commission", "1")
	form.Set("name", "Payment")

	var out pal24BillResponse
	headers := map[string]string{"Authorization": "Bearer " + p.cfg.APIToken}
	if err := p.api.do(ctx, "POST", "/api/v1/bill/create", headers, formBody(form.Encode()), &out); err != nil {
		return nil, rejected(err)
	}
	if out.BillID == "" || fmt.Sprint(out.Success) == "false" {
		return nil, fmt.Errorf("%w: pal24: %s", payment.ErrInvalidAmount, out.Message)
	}
	return &payment.CreateResult{
		RedirectURL: firstNonEmptyString(out.LinkPageURL, out.LinkURL),
		ExternalRef: out.BillID,
	}, nil
}

func (p *Pal24) VerifyAndParse(req payment.WebhookRequest) (*payment.Event, error) {
	form, err := req.Form()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrMalformedPayload, err)
	}
	outSum := form.Get("OutSum")
	invID := form.Get("InvId")
	if outSum == "" || invID == "" {
		return nil, fmt.Errorf("%w: OutSum and InvId are required", payment.ErrMalformedPayload)
	}
	expected := strings.ToUpper(md5Hex(outSum + ":" + invID + ":" + p.cfg.APIToken))
	if !equalFold(expected, form.Get("SignatureValue")) {
		return nil, payment.ErrInvalidSignature
	}

	providerStatus := strings.ToUpper(form.Get("Status"))
	var status payment.Status
	switch providerStatus {
	case "SUCCESS", "OVERPAID", "UNDERPAID":
		// the engine compares the amount, over and under payments land in review
		status = payment.StatusPaid
	case "FAIL":
		status = payment.StatusFailed
	default:
		return nil, &payment.IgnoredError{Reason: "pal24 status " + providerStatus}
	}

	currency := payment.NormalizeCurrency(firstNonEmptyString(form.Get("CurrencyIn"), p.cfg.Currency, "RUB"))
	amount, err := toMinor(outSum, currency)
	if err != nil {
		return nil, err
	}
	return &payment.Event{
		Provider:       payment.ProviderPal24,
		OrderID:        invID,
		Status:         status,
		ProviderStatus: providerStatus,
		AmountMinor:    amount,
		Currency:       currency,
		RawPayload:     req.Body,
	}, nil
}
