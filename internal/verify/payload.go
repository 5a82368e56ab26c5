package verify

import (
	"encoding/json"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Method-specific payload shapes. Each is decoded from the raw step
// submission and validated before the step may complete.

// BiometricPayload backs BIOMETRIC, FINGERPRINT, and FACE_RECOGNITION.
type BiometricPayload struct {
	BiometricData string   `json:"biometricData"`
	Confidence    *float64 `json:"confidence,omitempty"`
}

// CodePayload backs SMS_CODE and EMAIL_CODE.
type CodePayload struct {
	Code string `json:"code"`
}

// AnswersPayload backs SECURITY_QUESTIONS.
type AnswersPayload struct {
	Answers []string `json:"answers"`
}

// PINPayload backs PIN_VERIFICATION.
type PINPayload struct {
	PIN string `json:"pin"`
}

// OTPPayload backs OTP.
type OTPPayload struct {
	OTP   string `json:"otp"`
	OTPID string `json:"otpId"`
}

// VoicePayload backs VOICE_VERIFICATION.
type VoicePayload struct {
	AudioSample  string  `json:"audioSample"`
	DurationSecs float64 `json:"durationSeconds"`
}

// LivenessPayload backs LIVENESS.
type LivenessPayload struct {
	VideoSample   string `json:"videoSample"`
	ChallengeType string `json:"challengeType"`
}

// DocumentPayload backs ID_SCAN and DOCUMENT_SCAN.
type DocumentPayload struct {
	DocumentImage string `json:"documentImage"`
	DocumentType  string `json:"documentType"`
}

// minBiometricConfidence is the lowest accepted confidence when the
// submitter reports one at all.
const minBiometricConfidence = 0.8

// DecodePayload parses and validates raw against the payload contract for
// method. On success it returns the decoded payload and nil reasons; on
// failure it returns nil and at least one human-readable reason. Validation
// never mutates session state.
func DecodePayload(method domain.Method, raw json.RawMessage) (any, []string) {
	switch method {
	case domain.MethodBiometric, domain.MethodFingerprint, domain.MethodFaceRecognition:
		var p BiometricPayload
		if reasons := unmarshal(raw, &p); reasons != nil {
			return nil, reasons
		}
		var reasons []string
		if p.BiometricData == "" {
			reasons = append(reasons, "Biometric data is required")
		}
		if p.Confidence != nil && *p.Confidence < minBiometricConfidence {
			reasons = append(reasons, "Biometric confidence too low")
		}
		if reasons != nil {
			return nil, reasons
		}
		return &p, nil

	case domain.MethodSMSCode, domain.MethodEmailCode:
		var p CodePayload
		if reasons := unmarshal(raw, &p); reasons != nil {
			return nil, reasons
		}
		if len(p.Code) != 6 {
			return nil, []string{"Verification code must be 6 digits"}
		}
		return &p, nil

	case domain.MethodSecurityQuestions:
		var p AnswersPayload
		if reasons := unmarshal(raw, &p); reasons != nil {
			return nil, reasons
		}
		if len(p.Answers) == 0 {
			return nil, []string{"Security answers are required"}
		}
		for _, a := range p.Answers {
			if a == "" {
				return nil, []string{"Security answers must not be empty"}
			}
		}
		return &p, nil

	case domain.MethodPINVerification:
		var p PINPayload
		if reasons := unmarshal(raw, &p); reasons != nil {
			return nil, reasons
		}
		if len(p.PIN) != 4 {
			return nil, []string{"PIN must be 4 digits"}
		}
		return &p, nil

	case domain.MethodOTP:
		var p OTPPayload
		if reasons := unmarshal(raw, &p); reasons != nil {
			return nil, reasons
		}
		var reasons []string
		if p.OTP == "" {
			reasons = append(reasons, "OTP is required")
		}
		if p.OTPID == "" {
			reasons = append(reasons, "OTP identifier is required")
		}
		if reasons != nil {
			return nil, reasons
		}
		return &p, nil

	case domain.MethodVoiceVerification:
		var p VoicePayload
		if reasons := unmarshal(raw, &p); reasons != nil {
			return nil, reasons
		}
		var reasons []string
		if p.AudioSample == "" {
			reasons = append(reasons, "Audio sample is required")
		}
		if p.DurationSecs < 2 {
			reasons = append(reasons, "Audio sample must be at least 2 seconds")
		}
		if reasons != nil {
			return nil, reasons
		}
		return &p, nil

	case domain.MethodLiveness:
		var p LivenessPayload
		if reasons := unmarshal(raw, &p); reasons != nil {
			return nil, reasons
		}
		var reasons []string
		if p.VideoSample == "" {
			reasons = append(reasons, "Video sample is required")
		}
		if p.ChallengeType == "" {
			reasons = append(reasons, "Challenge type is required")
		}
		if reasons != nil {
			return nil, reasons
		}
		return &p, nil

	case domain.MethodIDScan, domain.MethodDocumentScan:
		var p DocumentPayload
		if reasons := unmarshal(raw, &p); reasons != nil {
			return nil, reasons
		}
		var reasons []string
		if p.DocumentImage == "" {
			reasons = append(reasons, "Document image is required")
		}
		if p.DocumentType == "" {
			reasons = append(reasons, "Document type is required")
		}
		if reasons != nil {
			return nil, reasons
		}
		return &p, nil

	default:
		return nil, []string{"Unsupported verification method"}
	}
}

func unmarshal(raw json.RawMessage, dst any) []string {
	if len(raw) == 0 {
		return []string{"Verification payload is required"}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return []string{"Malformed verification payload"}
	}
	return nil
}
