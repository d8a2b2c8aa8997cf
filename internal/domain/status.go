package domain

// MessageStatus is the delivery state of a message. The authoritative value
// on a message row is maintained by the update_message trigger: inserting an
// event with a later timestamp advances the message's status.
type MessageStatus string

const (
	StatusRenderFailed      MessageStatus = "render_failed"
	StatusSendRequestFailed MessageStatus = "send_request_failed"
	StatusSpamDetected      MessageStatus = "spam_detected"
	StatusSend              MessageStatus = "send"
	StatusDeferral          MessageStatus = "deferral"
	StatusHardBounce        MessageStatus = "hard_bounce"
	StatusSoftBounce        MessageStatus = "soft_bounce"
	StatusOpen              MessageStatus = "open"
	StatusClick             MessageStatus = "click"
	StatusSpam              MessageStatus = "spam"
	StatusUnsub             MessageStatus = "unsub"
	StatusReject            MessageStatus = "reject"
	StatusScheduled         MessageStatus = "scheduled"
	StatusBuffered          MessageStatus = "buffered"
	StatusDelivered         MessageStatus = "delivered"
	StatusExpired           MessageStatus = "expired"
	StatusDeliveryFailed    MessageStatus = "delivery_failed"
)

var validStatuses = map[MessageStatus]bool{
	StatusRenderFailed:      true,
	StatusSendRequestFailed: true,
	StatusSpamDetected:      true,
	StatusSend:              true,
	StatusDeferral:          true,
	StatusHardBounce:        true,
	StatusSoftBounce:        true,
	StatusOpen:              true,
	StatusClick:             true,
	StatusSpam:              true,
	StatusUnsub:             true,
	StatusReject:            true,
	StatusScheduled:         true,
	StatusBuffered:          true,
	StatusDelivered:         true,
	StatusExpired:           true,
	StatusDeliveryFailed:    true,
}

// Valid reports whether s is a known message status.
func (s MessageStatus) Valid() bool { return validStatuses[s] }

// SendMethod identifies the transport+provider pair used for a message.
type SendMethod string

const (
	MethodEmailMandrill  SendMethod = "email-mandrill"
	MethodEmailSES       SendMethod = "email-ses"
	MethodEmailTest      SendMethod = "email-test"
	MethodSMSMessagebird SendMethod = "sms-messagebird"
	MethodSMSTest        SendMethod = "sms-test"
)

// EmailMethods lists the methods that deliver email.
func EmailMethods() []SendMethod {
	return []SendMethod{MethodEmailMandrill, MethodEmailSES, MethodEmailTest}
}

// SMSMethods lists the methods that deliver SMS.
func SMSMethods() []SendMethod {
	return []SendMethod{MethodSMSMessagebird, MethodSMSTest}
}

// Valid reports whether m is a known send method.
func (m SendMethod) Valid() bool {
	switch m {
	case MethodEmailMandrill, MethodEmailSES, MethodEmailTest, MethodSMSMessagebird, MethodSMSTest:
		return true
	}
	return false
}

// IsEmail reports whether m delivers email.
func (m SendMethod) IsEmail() bool {
	switch m {
	case MethodEmailMandrill, MethodEmailSES, MethodEmailTest:
		return true
	}
	return false
}

// IsSMS reports whether m delivers SMS.
func (m SendMethod) IsSMS() bool { return m.Valid() && !m.IsEmail() }
