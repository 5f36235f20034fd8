package taostatstest

import (
	"fmt"
	"strconv"
)

// SyntheticValidators generates n validators with strictly descending
// amounts starting at top, split into pages of size per. Keys are fake but
// unique per index.
func SyntheticValidators(n, per int, top int64) [][]Validator {
	var pages [][]Validator
	for i := 0; i < n; i += per {
		var page []Validator
		for j := i; j < i+per && j < n; j++ {
			page = append(page, Validator{
				Amount:  strconv.FormatInt(top-int64(j), 10),
				Coldkey: fmt.Sprintf("5Cold%04d", j),
				Hotkey:  fmt.Sprintf("5Hot%04d", j),
			})
		}
		pages = append(pages, page)
	}
	return pages
}
