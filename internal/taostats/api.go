package taostats

import (
	"context"
	"net/url"
	"strconv"
)

const (
	SubnetOwnersPath = "/api/v1/subnet/owner"
	ValidatorsPath   = "/api/v1/validator"
	DelegateInfoPath = "/api/v1/delegate/info"

	// OrderAmountDesc sorts validators by stake, largest first.
	OrderAmountDesc = "amount:desc"
)

// SubnetOwners returns the current owner of every subnet. The endpoint is
// not paginated when latest=true.
func (c *Client) SubnetOwners(ctx context.Context) ([]SubnetOwner, error) {
	var resp SubnetOwnersResponse
	if err := c.Get(ctx, SubnetOwnersPath, url.Values{"latest": {"true"}}, &resp); err != nil {
		return nil, err
	}
	return *resp.SubnetOwners, nil
}

// Validators returns every validator across all pages in the given order.
func (c *Client) Validators(ctx context.Context, order string) ([]Validator, error) {
	return FetchAll(ctx, func(ctx context.Context, page int) ([]Validator, error) {
		params := url.Values{
			"order": {order},
			"page":  {strconv.Itoa(page)},
		}
		var resp ValidatorsResponse
		if err := c.Get(ctx, ValidatorsPath, params, &resp); err != nil {
			return nil, err
		}
		return resp.Validators, nil
	})
}

// DelegateName looks up the registered name for a hotkey. ok is false
// unless the lookup matched exactly one delegate with a name.
func (c *Client) DelegateName(ctx context.Context, hotkey string) (name string, ok bool, err error) {
	var resp DelegatesResponse
	if err := c.Get(ctx, DelegateInfoPath, url.Values{"address": {hotkey}}, &resp); err != nil {
		return "", false, err
	}
	if resp.Count != 1 || len(resp.Delegates) == 0 || resp.Delegates[0].Name == nil {
		return "", false, nil
	}
	return *resp.Delegates[0].Name, true, nil
}
