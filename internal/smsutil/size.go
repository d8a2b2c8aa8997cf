package smsutil

import "fmt"

// MaxMultipartLength is the largest message the multipart ladder can carry
// (9 parts of 153 septets).
const MaxMultipartLength = 1377

// partCapacities[n-1] is the maximum GSM-03.38 length of an n-part message.
var partCapacities = [9]int{160, 306, 459, 612, 765, 918, 1071, 1224, 1377}

// gsmExtension holds characters that encode as an escape pair (2 code units).
var gsmExtension = map[rune]bool{
	'\n': true, '[': true, '\\': true, ']': true, '^': true,
	'{': true, '|': true, '}': true, '~': true, '€': true,
}

// gsmBasic holds the GSM-03.38 default alphabet (1 code unit each).
var gsmBasic = map[rune]bool{}

func init() {
	const basic = "@£$¥èéùìòÇ\rØøÅåΔ_ΦΓΛΩΠΨΣΘΞÆæßÉ !\"#¤%&'()*+,-./0123456789:;<=>?" +
		"¡ABCDEFGHIJKLMNOPQRSTUVWXYZÄÖÑܧ¿abcdefghijklmnopqrstuvwxyzäöñüà"
	for _, r := range basic {
		gsmBasic[r] = true
	}
}

// MessageTooLongError is returned when a message exceeds the 9-part ladder.
type MessageTooLongError struct {
	Length int
}

func (e *MessageTooLongError) Error() string {
	return fmt.Sprintf("message length %d exceeds maximum multi-part SMS length %d", e.Length, MaxMultipartLength)
}

// Size describes the GSM-03.38 footprint of an SMS body.
type Size struct {
	Length int `json:"length"`
	Parts  int `json:"parts"`
}

// MessageSize computes the GSM-03.38 length of text (basic characters count
// 1, extension characters 2, anything else is ignored) and the number of SMS
// parts needed per the multipart ladder. Returns MessageTooLongError past
// 1377 code units.
func MessageSize(text string) (*Size, error) {
	length := 0
	for _, r := range text {
		switch {
		case gsmExtension[r]:
			length += 2
		case gsmBasic[r]:
			length++
		}
		// Characters outside both sets do not contribute to the length.
	}

	for n, capacity := range partCapacities {
		if length <= capacity {
			return &Size{Length: length, Parts: n + 1}, nil
		}
	}
	return nil, &MessageTooLongError{Length: length}
}
