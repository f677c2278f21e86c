package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"overunder/internal/domain"
)

// QuoteResponse is the subset of the Jupiter quote the oracle uses.
type QuoteResponse struct {
	InputMint      string      `json:"inputMint"`
	InAmount       string      `json:"inAmount"`
	OutputMint     string      `json:"outputMint"`
	OutAmount      string      `json:"outAmount"`
	PriceImpactPct string      `json:"priceImpactPct"`
	RoutePlan      []RoutePlan `json:"routePlan"`
	ContextSlot    int64       `json:"contextSlot"`
}

// RoutePlan is one hop of a quote.
type RoutePlan struct {
	SwapInfo struct {
		AmmKey     string `json:"ammKey"`
		Label      string `json:"label"`
		InputMint  string `json:"inputMint"`
		OutputMint string `json:"outputMint"`
		InAmount   string `json:"inAmount"`
		OutAmount  string `json:"outAmount"`
	} `json:"swapInfo"`
	Percent int `json:"percent"`
}

// Quote asks Jupiter for a swap route of amount base units of input into
// output. A body reporting NO_ROUTES_FOUND is ErrRouteNotFound.
func (c *Client) Quote(ctx context.Context, input, output string, amount uint64) (*QuoteResponse, error) {
	params := url.Values{}
	params.Set("inputMint", input)
	params.Set("outputMint", output)
	params.Set("amount", strconv.FormatUint(amount, 10))

	body, status, err := c.doGet(ctx, c.jupiterHost+"/quote?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("jupiter: quote: %w", err)
	}
	if bytes.Contains(body, []byte("NO_ROUTES_FOUND")) || bytes.Contains(body, []byte("COULD_NOT_FIND_ANY_ROUTE")) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrRouteNotFound, input, output)
	}
	if status != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &e)
		return nil, fmt.Errorf("jupiter: quote status %d: %s", status, e.Error)
	}

	var q QuoteResponse
	if err := json.Unmarshal(body, &q); err != nil {
		return nil, fmt.Errorf("jupiter: decode quote: %w", err)
	}
	return &q, nil
}

// Prices returns the price of each id denominated in vsToken. Ids the
// service does not know are absent from the map.
func (c *Client) Prices(ctx context.Context, ids []string, vsToken string) (map[string]float64, error) {
	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("vsToken", vsToken)

	body, status, err := c.doGet(ctx, c.jupiterHost+"/price?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("jupiter: price: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("jupiter: price status %d", status)
	}

	var resp struct {
		Data map[string]*struct {
			ID    string    `json:"id"`
			Price flexFloat `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("jupiter: decode price: %w", err)
	}

	out := make(map[string]float64, len(resp.Data))
	for key, p := range resp.Data {
		if p == nil {
			continue
		}
		id := p.ID
		if id == "" {
			id = key
		}
		out[id] = float64(p.Price)
	}
	return out, nil
}

// flexFloat accepts a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}
