package taostats

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// SubnetOwnersResponse is the body of GET /api/v1/subnet/owner.
type SubnetOwnersResponse struct {
	SubnetOwners *[]SubnetOwner `json:"subnet_owners"`
}

type SubnetOwner struct {
	Owner    string `json:"owner"`
	SubnetID Scalar `json:"subnet_id"`
}

// ValidatorsResponse is one page of GET /api/v1/validator. A null list is
// an empty page; only an absent key is malformed.
type ValidatorsResponse struct {
	Validators []Validator `json:"validators"`

	present bool
}

func (r *ValidatorsResponse) UnmarshalJSON(b []byte) error {
	var raw struct {
		Validators json.RawMessage `json:"validators"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.present = raw.Validators != nil
	r.Validators = nil
	if !r.present {
		return nil
	}
	return json.Unmarshal(raw.Validators, &r.Validators)
}

type Validator struct {
	Amount  Scalar `json:"amount"`
	ColdKey Key    `json:"cold_key"`
	HotKey  Key    `json:"hot_key"`
}

type Key struct {
	SS58 string `json:"ss58"`
}

// DelegatesResponse is the body of GET /api/v1/delegate/info.
type DelegatesResponse struct {
	Count     int        `json:"count"`
	Delegates []Delegate `json:"delegates"`
}

type Delegate struct {
	Name *string `json:"name"`
}

func (r *SubnetOwnersResponse) validate() error {
	if r.SubnetOwners == nil {
		return errors.New(`missing "subnet_owners"`)
	}
	for i, o := range *r.SubnetOwners {
		if o.Owner == "" {
			return fmt.Errorf(`subnet_owners[%d]: missing "owner"`, i)
		}
		if o.SubnetID == "" {
			return fmt.Errorf(`subnet_owners[%d]: missing "subnet_id"`, i)
		}
	}
	return nil
}

func (r *ValidatorsResponse) validate() error {
	if !r.present {
		return errors.New(`missing "validators"`)
	}
	for i, v := range r.Validators {
		switch {
		case v.Amount == "":
			return fmt.Errorf(`validators[%d]: missing "amount"`, i)
		case v.ColdKey.SS58 == "":
			return fmt.Errorf(`validators[%d]: missing "cold_key.ss58"`, i)
		case v.HotKey.SS58 == "":
			return fmt.Errorf(`validators[%d]: missing "hot_key.ss58"`, i)
		}
	}
	return nil
}

// Scalar keeps a JSON string or number as its exact text. Numbers are not
// routed through float64, so large stake amounts keep their precision.
type Scalar string

func (s *Scalar) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*s = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = Scalar(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*s = Scalar(n.String())
	return nil
}

func (s Scalar) String() string { return string(s) }

// Int parses the scalar as a base-10 integer.
func (s Scalar) Int() (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(string(s)), 10)
	if !ok {
		return nil, fmt.Errorf("taostats: %q is not an integer", string(s))
	}
	return n, nil
}
