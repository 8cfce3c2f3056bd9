package otpkit

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"identifier required", ErrIdentifierRequired, KindValidation},
		{"code format", ErrCodeFormat, KindValidation},
		{"rate limited", ErrRateLimited, KindPolicy},
		{"code invalid", ErrCodeInvalid, KindPolicy},
		{"too many attempts", ErrTooManyAttempts, KindPolicy},
		{"store unavailable", ErrStoreUnavailable, KindInfrastructure},
		{"code generation", ErrCodeGeneration, KindInfrastructure},
		{"version conflict", ErrVersionConflict, KindInfrastructure},
		{"wrapped code generation", fmt.Errorf("%w: %v", ErrCodeGeneration, errors.New("entropy read failed")), KindInfrastructure},
		{"wrapped store failure", fmt.Errorf("%w: dial tcp: refused", ErrStoreUnavailable), KindInfrastructure},
		{"context canceled", context.Canceled, KindInfrastructure},
		{"deadline exceeded", context.DeadlineExceeded, KindInfrastructure},
		{"unrelated", errors.New("boom"), KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Kind(tc.err); got != tc.want {
				t.Fatalf("Kind(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
