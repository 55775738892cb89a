package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "govid/pkg/domain-errors"
)

// Parsed IDs must be valid, non-empty, non-nil UUIDs.
func TestParseIdentityID(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseIdentityID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseIdentityID("CIT-1")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseIdentityID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		u := uuid.New()
		id, err := ParseIdentityID(u.String())
		require.NoError(t, err)
		assert.Equal(t, IdentityID(u), id)
		assert.False(t, id.IsNil())
	})
}

func TestParseID_HostileInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE consents;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "550e8400\x00-e29b-41d4-a716-446655440000", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Whitespace only", "   ", true},
		{"Uppercase valid UUID", "550E8400-E29B-41D4-A716-446655440000", false},
		{"Valid UUID lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConsentID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestIDsMarshalAsUUIDStrings(t *testing.T) {
	id := NewAuditEntryID()
	raw, err := json.Marshal(map[string]AuditEntryID{"id": id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+id.String()+`"}`, string(raw))

	var decoded map[string]AuditEntryID
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, id, decoded["id"])
}

func TestParseAccessPurpose(t *testing.T) {
	p, err := ParseAccessPurpose("eligibility_check")
	require.NoError(t, err)
	assert.Equal(t, PurposeEligibilityCheck, p)

	_, err = ParseAccessPurpose("marketing")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = ParseAccessPurpose("")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
