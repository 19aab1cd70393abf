package postback

// Funnel statuses accepted by the tracking relay. StatusPaySuccess is the
// terminal conversion status and is reserved for the server-side
// webhook-triggered path; the client-facing relay refuses it.
const (
	StatusStartQuiz           = "start_quiz"
	StatusBlock1Completed     = "block1_completed"
	StatusBlock2Completed     = "block2_completed"
	StatusBlock3Completed     = "block3_completed"
	StatusBlock4Completed     = "block4_completed"
	StatusBlock5Completed     = "block5_completed"
	StatusBlock6Completed     = "block6_completed"
	StatusBlock7Completed     = "block7_completed"
	StatusTransitionToPayment = "transition_to_payment"
	StatusPaySuccess          = "pay_success"
)

var knownStatuses = map[string]struct{}{
	StatusStartQuiz:           {},
	StatusBlock1Completed:     {},
	StatusBlock2Completed:     {},
	StatusBlock3Completed:     {},
	StatusBlock4Completed:     {},
	StatusBlock5Completed:     {},
	StatusBlock6Completed:     {},
	StatusBlock7Completed:     {},
	StatusTransitionToPayment: {},
	StatusPaySuccess:          {},
}
