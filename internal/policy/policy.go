// Package policy maps risk scores to step-up verification requirements.
package policy

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Requirements is the verification policy derived from a risk score.
type Requirements struct {
	// Methods in priority order; the first element is priority 1.
	Methods []domain.Method `json:"methods"`

	TimeoutSecs int              `json:"timeoutSeconds"`
	RiskLevel   domain.RiskLevel `json:"riskLevel"`
}

// Resolve maps a risk score to its tier. Tiers are non-overlapping,
// contiguous, and exhaustive over [0,100]; they are evaluated highest-first.
// Resolve is side-effect free and callable independent of session creation.
func Resolve(riskScore int) Requirements {
	switch {
	case riskScore >= 80:
		return Requirements{
			Methods: []domain.Method{
				domain.MethodBiometric,
				domain.MethodFaceRecognition,
				domain.MethodSecurityQuestions,
				domain.MethodSMSCode,
			},
			TimeoutSecs: 600,
			RiskLevel:   domain.RiskCritical,
		}
	case riskScore >= 60:
		return Requirements{
			Methods: []domain.Method{
				domain.MethodBiometric,
				domain.MethodSMSCode,
				domain.MethodSecurityQuestions,
			},
			TimeoutSecs: 480,
			RiskLevel:   domain.RiskHigh,
		}
	case riskScore >= 40:
		return Requirements{
			Methods: []domain.Method{
				domain.MethodSMSCode,
				domain.MethodSecurityQuestions,
			},
			TimeoutSecs: 360,
			RiskLevel:   domain.RiskMedium,
		}
	default:
		return Requirements{
			Methods:     []domain.Method{domain.MethodSMSCode},
			TimeoutSecs: 180,
			RiskLevel:   domain.RiskLow,
		}
	}
}
