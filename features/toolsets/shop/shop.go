// Package shop exposes an online purchase tool. Every purchase needs the
// user's explicit approval on their device before it is placed.
package shop

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/assistant0/assistant0/features/toolsets/internal/rest"
	"github.com/assistant0/assistant0/runtime/agent/toolerrors"
	"github.com/assistant0/assistant0/runtime/agent/tools"
	"github.com/assistant0/assistant0/runtime/auth/ciba"
)

// Toolset is the name tools of this package are grouped under.
const Toolset = "shop"

// ScopeBuy is the permission the approval token carries.
const ScopeBuy = "product:buy"

const shopOnlineSchema = `{
  "type": "object",
  "properties": {
    "product": {"type": "string", "minLength": 1, "description": "Name of the product to buy."},
    "qty": {"type": "integer", "minimum": 1, "description": "Quantity to buy."},
    "priceLimit": {"type": "number", "exclusiveMinimum": 0, "description": "Maximum total price the user accepts."}
  },
  "required": ["product", "qty"],
  "additionalProperties": false
}`

var binding = ciba.MustParseBindingTemplate("shop_online", "Do you want to buy {{.qty}} {{.product}}")

// Options configures the toolset.
type Options struct {
	// APIURL is the order endpoint. When empty, orders are simulated.
	APIURL string
	// Audience is the audience of the approval token, the shop API
	// identifier.
	Audience string
	// RequestedExpiry bounds how long the user has to approve. Zero uses the
	// flow default.
	RequestedExpiry time.Duration
}

// Order is the purchase sent to the shop API.
type Order struct {
	Product    string   `json:"product"`
	Qty        int      `json:"qty"`
	PriceLimit *float64 `json:"priceLimit,omitempty"`
}

type toolset struct {
	api *rest.Client
}

// Tools returns the shop tools.
func Tools(opts Options) []tools.Tool {
	ts := &toolset{}
	if opts.APIURL != "" {
		ts.api = &rest.Client{Service: "shop", BaseURL: opts.APIURL}
	}
	return []tools.Tool{{
		Name:        "shop_online",
		Toolset:     Toolset,
		Description: "Buy a product online. The user is asked to approve the purchase on their phone before the order is placed.",
		Schema:      json.RawMessage(shopOnlineSchema),
		Access: tools.Approval{Policy: ciba.Policy{
			Scopes:          []string{"openid", ScopeBuy},
			Audience:        opts.Audience,
			Binding:         binding,
			RequestedExpiry: opts.RequestedExpiry,
		}},
		Handler: ts.shopOnline,
	}}
}

func (ts *toolset) shopOnline(ctx context.Context, call tools.Call) (tools.Result, error) {
	var order Order
	if err := call.Decode(&order); err != nil {
		return tools.Result{}, err
	}
	if order.Qty < 1 {
		return tools.Result{}, toolerrors.New("Quantity must be at least 1.")
	}
	if ts.api == nil {
		return tools.Result{Value: fmt.Sprintf("Ordered %d %s", order.Qty, order.Product)}, nil
	}
	var resp json.RawMessage
	if err := ts.api.Post(ctx, "", order, &resp); err != nil {
		return tools.Result{}, err
	}
	if len(resp) == 0 {
		return tools.Result{Value: fmt.Sprintf("Ordered %d %s", order.Qty, order.Product)}, nil
	}
	return tools.Result{Value: resp}, nil
}
