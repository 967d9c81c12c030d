package enums

import "fmt"

// AuthStage tracks the customer authentication sub-flow on the customer
// step.
type AuthStage string

const (
	// AuthStageCheck means no classification of the email yet.
	AuthStageCheck AuthStage = "check"
	// AuthStagePassword prompts for a password (account exists with one).
	AuthStagePassword AuthStage = "password"
	// AuthStageOTP prompts for a one-time code.
	AuthStageOTP AuthStage = "otp"
	// AuthStageResolved means the customer authenticated.
	AuthStageResolved AuthStage = "resolved"
	// AuthStageDismissed means the customer chose to continue as guest.
	AuthStageDismissed AuthStage = "dismissed"
)

var validAuthStages = []AuthStage{
	AuthStageCheck,
	AuthStagePassword,
	AuthStageOTP,
	AuthStageResolved,
	AuthStageDismissed,
}

// String implements fmt.Stringer.
func (a AuthStage) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AuthStage.
func (a AuthStage) IsValid() bool {
	for _, candidate := range validAuthStages {
		if candidate == a {
			return true
		}
	}
	return false
}

// IsSettled reports whether the sub-flow no longer blocks the customer step.
func (a AuthStage) IsSettled() bool {
	return a == AuthStageResolved || a == AuthStageDismissed
}

// ParseAuthStage converts raw input into an AuthStage.
func ParseAuthStage(value string) (AuthStage, error) {
	for _, candidate := range validAuthStages {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid auth stage %q", value)
}
