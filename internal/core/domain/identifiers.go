package domain

import "regexp"

// =============================================================================
// On-Chain Identifiers
// =============================================================================

// Contract IDs are strkey-encoded: "C" followed by 55 base32 characters.
// Transaction hashes are 64 lowercase hex characters.
var (
	contractIDExact = regexp.MustCompile(`^C[A-Z2-7]{55}$`)
	contractIDToken = regexp.MustCompile(`\bC[A-Z2-7]{55}\b`)
	txHashExact     = regexp.MustCompile(`^[0-9a-f]{64}$`)
	txHashToken     = regexp.MustCompile(`\b[0-9a-f]{64}\b`)
)

// IsContractID reports whether s is exactly a contract identifier.
func IsContractID(s string) bool {
	return contractIDExact.MatchString(s)
}

// IsTxHash reports whether s is exactly a transaction hash.
func IsTxHash(s string) bool {
	return txHashExact.MatchString(s)
}

// ExtractContractID finds the first contract identifier embedded in CLI
// output. Returns "" and false when none is present.
func ExtractContractID(output string) (string, bool) {
	id := contractIDToken.FindString(output)
	return id, id != ""
}

// ExtractTxHash finds the first transaction hash embedded in CLI output.
func ExtractTxHash(output string) (string, bool) {
	h := txHashToken.FindString(output)
	return h, h != ""
}
