// Package smsutil provides phone number validation and GSM-03.38 message
// sizing for the SMS send pipeline.
package smsutil

import (
	"fmt"

	"github.com/nyaruka/phonenumbers"
)

// NumberInfo is the result of validating a raw phone number.
type NumberInfo struct {
	Number          string `json:"number"`           // E.164
	CountryCode     string `json:"country_code"`     // ISO-3166 alpha-2
	NumberFormatted string `json:"number_formatted"` // international display format
	Descr           string `json:"descr,omitempty"`  // carrier name when known
	IsMobile        bool   `json:"is_mobile"`
}

// ValidateNumber parses raw against the given 2-letter default country and
// returns the normalized number. Unparsable or invalid numbers return an
// error. IsMobile is true for MOBILE and FIXED-OR-MOBILE number types.
func ValidateNumber(raw, defaultCountry string) (*NumberInfo, error) {
	parsed, err := phonenumbers.Parse(raw, defaultCountry)
	if err != nil {
		return nil, fmt.Errorf("invalid phone number %q: %w", raw, err)
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return nil, fmt.Errorf("invalid phone number %q for country %s", raw, defaultCountry)
	}

	isMobile := false
	switch phonenumbers.GetNumberType(parsed) {
	case phonenumbers.MOBILE, phonenumbers.FIXED_LINE_OR_MOBILE:
		isMobile = true
	}

	descr, _ := phonenumbers.GetCarrierForNumber(parsed, "en")

	return &NumberInfo{
		Number:          phonenumbers.Format(parsed, phonenumbers.E164),
		CountryCode:     phonenumbers.GetRegionCodeForNumber(parsed),
		NumberFormatted: phonenumbers.Format(parsed, phonenumbers.INTERNATIONAL),
		Descr:           descr,
		IsMobile:        isMobile,
	}, nil
}
