package cryptox

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Backup code shape. The alphabet excludes 0/O/1/I to keep codes readable
// over the phone and off paper printouts.
const (
	BackupCodeCount    = 10
	backupCodeLength   = 10
	backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// GenerateBackupCodes returns BackupCodeCount fresh one-time recovery codes.
// The plaintext codes are shown to the user exactly once; callers persist
// only the fingerprints from HashBackupCodes.
func GenerateBackupCodes() ([]string, error) {
	codes := make([]string, BackupCodeCount)
	for i := range codes {
		code, err := generateBackupCode()
		if err != nil {
			return nil, err
		}
		codes[i] = code
	}
	return codes, nil
}

func generateBackupCode() (string, error) {
	buf := make([]byte, backupCodeLength)
	max := big.NewInt(int64(len(backupCodeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate backup code: %w", err)
		}
		buf[i] = backupCodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// HashBackupCodes fingerprints each code for storage.
func HashBackupCodes(codes []string) []string {
	hashes := make([]string, len(codes))
	for i, code := range codes {
		hashes[i] = FingerprintToken(code)
	}
	return hashes
}

// ConsumeBackupCode checks code against the stored hashes. On a match it
// returns ok=true and the remaining hashes with the consumed one removed;
// the caller persists the remainder so each code works exactly once.
func ConsumeBackupCode(code string, hashes []string) (ok bool, remaining []string) {
	fp := FingerprintToken(code)
	for i, h := range hashes {
		if h == fp {
			remaining = make([]string, 0, len(hashes)-1)
			remaining = append(remaining, hashes[:i]...)
			remaining = append(remaining, hashes[i+1:]...)
			return true, remaining
		}
	}
	return false, hashes
}
