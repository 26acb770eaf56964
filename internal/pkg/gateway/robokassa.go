package gateway

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/vpnshop/paycore/internal/pkg/config"
	"github.com/vpnshop/paycore/internal/pkg/payment"
)

const robokassaOrderParam = "Shp_order"

// Robokassa builds signed redirect URLs and verifies ResultURL callbacks.
type Robokassa struct {
	cfg config.RobokassaConfig
}

func NewRobokassa(cfg config.RobokassaConfig) *Robokassa {
	return &Robokassa{cfg: cfg}
}

func (r *Robokassa) Provider() string { return payment.ProviderRobokassa }

// invoiceID derives Robokassa's numeric InvId from the order UUID.
func invoiceID(orderID string) (string, error) {
	u, err := uuid.Parse(orderID)
	if err != nil {
		return "", fmt.Errorf("robokassa: order id %q is not a uuid", orderID)
	}
	n := binary.BigEndian.Uint32(u[:4]) & 0x7fffffff
	if n == 0 {
		n = 1
	}
	return strconv.FormatUint(uint64(n), 10), nil
}

func (r *Robokassa) CreatePayment(_ context.Context, req payment.CreateRequest) (*payment.CreateResult, error) {
	invID, err := invoiceID(req.OrderID)
	if err != nil {
		return nil, err
	}
	outSum := fixed(req.AmountMinor, req.Currency)
	shp := map[string]string{robokassaOrderParam: req.OrderID}

	signature := md5Hex(strings.Join(append(
		[]string{r.cfg.Login, outSum, invID, r.cfg.Password1},
		shpPairs(shp)...,
	), ":"))

	params := url.Values{}
	params.Set("MerchantLogin", r.cfg.Login)
	params.Set("OutSum", outSum)
	params.Set("InvId", invID)
	params.Set("Description", req.Description)
	params.Set("SignatureValue", signature)
	params.Set("Culture", "ru")
	params.Set(robokassaOrderParam, req.OrderID)
	if r.cfg.IsTest {
		params.Set("IsTest", "1")
	}
	if req.Email != "" {
		params.Set("Email", req.Email)
	}
	return &payment.CreateResult{
		RedirectURL: r.cfg.BaseURL + "?" + params.Encode(),
		ExternalRef: invID,
	}, nil
}

func (r *Robokassa) VerifyAndParse(req payment.WebhookRequest) (*payment.Event, error) {
	if !ipAllowed(req.RemoteIP, r.cfg.TrustedIPs) {
		return nil, fmt.Errorf("%w: robokassa callback from untrusted ip %s", payment.ErrInvalidSignature, req.RemoteIP)
	}
	form, err := req.Form()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrMalformedPayload, err)
	}
	outSum := form.Get("OutSum")
	invID := form.Get("InvId")
	if outSum == "" || invID == "" {
		return nil, fmt.Errorf("%w: OutSum and InvId are required", payment.ErrMalformedPayload)
	}

	shp := map[string]string{}
	for k := range form {
		if strings.HasPrefix(k, "Shp_") || strings.HasPrefix(k, "shp_") {
			shp[k] = form.Get(k)
		}
	}
	expected := md5Hex(strings.Join(append([]string{outSum, invID, r.cfg.Password2}, shpPairs(shp)...), ":"))
	if !equalFold(expected, form.Get("SignatureValue")) {
		return nil, payment.ErrInvalidSignature
	}

	amount, err := toMinor(outSum, "RUB")
	if err != nil {
		return nil, err
	}
	return &payment.Event{
		Provider:          payment.ProviderRobokassa,
		ExternalPaymentID: invID,
		OrderID:           shp[robokassaOrderParam],
		Status:            payment.StatusPaid,
		ProviderStatus:    "result",
		AmountMinor:       amount,
		Currency:          "RUB",
		RawPayload:        req.Body,
	}, nil
}

func (r *Robokassa) Acknowledge(ev *payment.Event) (string, []byte) {
	return "text/plain", []byte("OK" + ev.ExternalPaymentID)
}

// shpPairs renders custom parameters as sorted key=value entries.
func shpPairs(shp map[string]string) []string {
	keys := make([]string, 0, len(shp))
	for k := range shp {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+shp[k])
	}
	return out
}
