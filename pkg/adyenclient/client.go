/**
 * @description
 * This package provides a client for the third-party payout network API.
 * It encapsulates the logic for making authenticated HTTP requests to the
 * network's payout, transfer-status and balance endpoints, handling request
 * body construction, idempotency headers, and response parsing.
 *
 * Upstream outcomes are never surfaced as Go errors from SubmitBankPayout:
 * a non-2xx status, a refusal, or a transport failure all map to a structured
 * PayoutResult so the caller can always record a terminal audit row.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 * - github.com/shopspring/decimal: Major-to-minor unit conversion.
 * - internal/bankident: Validated destination identifiers.
 */
package adyenclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/paydesk/payout-service/internal/bankident"
	"github.com/shopspring/decimal"
)

// Environments accepted by NewClient.
const (
	EnvTest = "test"
	EnvLive = "live"
)

const defaultTimeout = 8 * time.Second

// Client is a client for the payout network API.
type Client struct {
	PayoutBaseURL   string
	TransferBaseURL string
	APIKey          string
	MerchantAccount string
	BalanceAccount  string
	HTTPClient      *http.Client
}

// NewClient creates a new payout network client. Base URLs are derived from
// the environment unless overridden.
func NewClient(environment, apiKey, merchantAccount, balanceAccount string) *Client {
	payoutBase := "https://pal-test.adyenpayments.com/pal/servlet/Payout/v68"
	transferBase := "https://balanceplatform-api-test.adyen.com/btl/v4"
	if environment == EnvLive {
		payoutBase = "https://pal-live.adyenpayments.com/pal/servlet/Payout/v68"
		transferBase = "https://balanceplatform-api-live.adyen.com/btl/v4"
	}
	return &Client{
		PayoutBaseURL:   payoutBase,
		TransferBaseURL: transferBase,
		APIKey:          apiKey,
		MerchantAccount: merchantAccount,
		BalanceAccount:  balanceAccount,
		HTTPClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// PayoutRequest is the internal request for a bank payout.
type PayoutRequest struct {
	PaymentID   string
	Amount      decimal.Decimal // major units
	Currency    string
	OwnerName   string
	Destination bankident.Identifier
	Priority    string // optional, e.g. "regular" or "instant"
}

// IdempotencyKey derives the caller-supplied idempotency token from the
// payment identifier. The same payment always yields the same key, so the
// network treats repeat submissions as one transfer.
func (r PayoutRequest) IdempotencyKey() string {
	return "payment-" + r.PaymentID
}

// PayoutResult is the structured outcome of a payout submission.
// HTTPStatus 0 means the request never reached the network (transport
// failure); any other non-2xx status only means "not confirmed submitted",
// never a definitive decline.
type PayoutResult struct {
	Submitted    bool
	PSPReference string
	ResultCode   string
	HTTPStatus   int
	Message      string
}

// wire types

type payoutAmount struct {
	Currency string `json:"currency"`
	Value    int64  `json:"value"` // minor units
}

type payoutBank struct {
	OwnerName         string `json:"ownerName"`
	CountryCode       string `json:"countryCode"`
	IBAN              string `json:"iban,omitempty"`
	BankAccountNumber string `json:"bankAccountNumber,omitempty"`
	BankLocationID    string `json:"bankLocationId,omitempty"`
}

type payoutWireRequest struct {
	Amount           payoutAmount `json:"amount"`
	Reference        string       `json:"reference"`
	PayoutMethodCode string       `json:"payoutMethodCode"`
	MerchantAccount  string       `json:"merchantAccount"`
	Bank             payoutBank   `json:"bank"`
	Priority         string       `json:"priority,omitempty"`
}

type payoutWireResponse struct {
	PSPReference  string `json:"pspReference"`
	ResultCode    string `json:"resultCode"`
	RefusalReason string `json:"refusalReason"`
}

// TransferStatus is a read-only view of a previously submitted transfer.
type TransferStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}

// TransferFilter narrows ListTransfers queries.
type TransferFilter struct {
	Reference string
	Limit     int
}

// BalanceEntry is one reported balance line, value in minor units.
type BalanceEntry struct {
	Balance payoutAmount `json:"balance"`
}

// SubmitBankPayout builds and issues the payout request. The amount is
// converted to minor units by rounding the major-unit amount to the nearest
// cent.
func (c *Client) SubmitBankPayout(ctx context.Context, req PayoutRequest) *PayoutResult {
	wire := payoutWireRequest{
		Amount: payoutAmount{
			Currency: req.Currency,
			Value:    req.Amount.Shift(2).Round(0).IntPart(),
		},
		Reference:        req.PaymentID,
		PayoutMethodCode: "scheme",
		MerchantAccount:  c.MerchantAccount,
		Bank: payoutBank{
			OwnerName:         req.OwnerName,
			CountryCode:       req.Destination.Country,
			IBAN:              req.Destination.IBAN,
			BankAccountNumber: req.Destination.AccountNumber,
			BankLocationID:    req.Destination.BankLocationID(),
		},
		Priority: req.Priority,
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return &PayoutResult{HTTPStatus: 0, Message: fmt.Sprintf("failed to marshal payout request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.PayoutBaseURL+"/payout", bytes.NewBuffer(body))
	if err != nil {
		return &PayoutResult{HTTPStatus: 0, Message: fmt.Sprintf("failed to create payout request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-API-Key", c.APIKey)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey())

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		log.Printf("level=warn component=adyen_client op=payout reference=%s status=0 err=%v", req.PaymentID, err)
		return &PayoutResult{HTTPStatus: 0, Message: fmt.Sprintf("payout request failed: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &PayoutResult{HTTPStatus: resp.StatusCode, Message: fmt.Sprintf("failed to read payout response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=adyen_client op=payout reference=%s status=%d body=%q", req.PaymentID, resp.StatusCode, truncate(string(respBody), 512))
		return &PayoutResult{
			HTTPStatus: resp.StatusCode,
			Message:    fmt.Sprintf("payout not confirmed (status %d): %s", resp.StatusCode, truncate(string(respBody), 512)),
		}
	}

	var wireResp payoutWireResponse
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		return &PayoutResult{HTTPStatus: resp.StatusCode, Message: fmt.Sprintf("failed to decode payout response: %v", err)}
	}

	if wireResp.ResultCode != "Authorised" {
		msg := wireResp.RefusalReason
		if msg == "" {
			msg = "payout was not authorised"
		}
		return &PayoutResult{
			HTTPStatus:   resp.StatusCode,
			PSPReference: wireResp.PSPReference,
			ResultCode:   wireResp.ResultCode,
			Message:      msg,
		}
	}

	return &PayoutResult{
		Submitted:    true,
		HTTPStatus:   resp.StatusCode,
		PSPReference: wireResp.PSPReference,
		ResultCode:   wireResp.ResultCode,
	}
}

// GetTransferStatus fetches the current status of one transfer. Read-only,
// used by reconciliation, not by the submission path.
func (c *Client) GetTransferStatus(ctx context.Context, transferID string) (*TransferStatus, error) {
	endpoint := c.TransferBaseURL + "/transfers/" + url.PathEscape(transferID)

	var status TransferStatus
	if err := c.getJSON(ctx, endpoint, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListTransfers queries transfers filtered by merchant reference.
func (c *Client) ListTransfers(ctx context.Context, filter TransferFilter) ([]TransferStatus, error) {
	q := url.Values{}
	q.Set("balanceAccountId", c.BalanceAccount)
	if filter.Reference != "" {
		q.Set("reference", filter.Reference)
	}
	if filter.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", filter.Limit))
	}
	endpoint := c.TransferBaseURL + "/transfers?" + q.Encode()

	var payload struct {
		Data []TransferStatus `json:"data"`
	}
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

// QueryBalance sums the reported balance entries for the configured balance
// account. The returned value is in minor units.
func (c *Client) QueryBalance(ctx context.Context) (int64, error) {
	endpoint := c.TransferBaseURL + "/balanceAccounts/" + url.PathEscape(c.BalanceAccount) + "/balances"

	var payload struct {
		Balances []BalanceEntry `json:"balances"`
	}
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return 0, err
	}
	if len(payload.Balances) == 0 {
		return 0, fmt.Errorf("no balance entries reported")
	}

	var minor int64
	for _, entry := range payload.Balances {
		minor += entry.Balance.Value
	}
	return minor, nil
}

// getJSON is a helper for the read-only endpoints.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=adyen_client op=get status=%d url=%s body=%q", resp.StatusCode, endpoint, truncate(string(body), 256))
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
