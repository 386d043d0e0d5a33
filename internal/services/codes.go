package services

import (
	"strings"

	"github.com/google/uuid"
)

func newConsultationCode() string {
	return "CON-" + randomHex(8)
}

func newLedgerReference() string {
	return "TXN-" + randomHex(12)
}

func randomHex(n int) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:n])
}
