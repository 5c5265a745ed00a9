package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	webhookdomain "github.com/nimbuspay/nimbus/internal/webhook/domain"
)

// verifySignature checks the processor's `t=<ts>,v1=<hex>` signature header
// against HMAC-SHA256 of "<ts>.<payload>".
func verifySignature(payload []byte, header, secret string) error {
	header = strings.TrimSpace(header)
	if header == "" || secret == "" {
		return webhookdomain.ErrInvalidSignature
	}

	timestamp, signatures, ok := parseSignatureHeader(header)
	if !ok {
		return webhookdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return webhookdomain.ErrInvalidSignature
}

func parseSignatureHeader(header string) (string, []string, bool) {
	var timestamp string
	signatures := []string{}
	for _, part := range strings.Split(header, ",") {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, false
	}
	return timestamp, signatures, true
}
