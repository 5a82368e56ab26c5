package policy

import (
	"reflect"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestResolveTiers(t *testing.T) {
	tests := []struct {
		score       int
		wantLevel   domain.RiskLevel
		wantMethods []domain.Method
		wantTimeout int
	}{
		{0, domain.RiskLow, []domain.Method{domain.MethodSMSCode}, 180},
		{39, domain.RiskLow, []domain.Method{domain.MethodSMSCode}, 180},
		{40, domain.RiskMedium, []domain.Method{domain.MethodSMSCode, domain.MethodSecurityQuestions}, 360},
		{59, domain.RiskMedium, []domain.Method{domain.MethodSMSCode, domain.MethodSecurityQuestions}, 360},
		{60, domain.RiskHigh, []domain.Method{domain.MethodBiometric, domain.MethodSMSCode, domain.MethodSecurityQuestions}, 480},
		{79, domain.RiskHigh, []domain.Method{domain.MethodBiometric, domain.MethodSMSCode, domain.MethodSecurityQuestions}, 480},
		{80, domain.RiskCritical, []domain.Method{domain.MethodBiometric, domain.MethodFaceRecognition, domain.MethodSecurityQuestions, domain.MethodSMSCode}, 600},
		{100, domain.RiskCritical, []domain.Method{domain.MethodBiometric, domain.MethodFaceRecognition, domain.MethodSecurityQuestions, domain.MethodSMSCode}, 600},
	}

	for _, tt := range tests {
		got := Resolve(tt.score)

		if got.RiskLevel != tt.wantLevel {
			t.Errorf("score %d: expected level %s, got %s", tt.score, tt.wantLevel, got.RiskLevel)
		}
		if !reflect.DeepEqual(got.Methods, tt.wantMethods) {
			t.Errorf("score %d: expected methods %v, got %v", tt.score, tt.wantMethods, got.Methods)
		}
		if got.TimeoutSecs != tt.wantTimeout {
			t.Errorf("score %d: expected timeout %d, got %d", tt.score, tt.wantTimeout, got.TimeoutSecs)
		}
	}
}

func TestResolveCoversFullRange(t *testing.T) {
	// Every score in [0,100] maps to exactly one tier with at least one method.
	for score := 0; score <= 100; score++ {
		got := Resolve(score)
		if len(got.Methods) == 0 {
			t.Fatalf("score %d: no methods", score)
		}
		if got.TimeoutSecs <= 0 {
			t.Fatalf("score %d: no timeout", score)
		}
		if got.RiskLevel == "" {
			t.Fatalf("score %d: no risk level", score)
		}
	}
}
