package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		input      string
		expected   Kind
		collection string
		wantErr    bool
	}{
		{input: "realtor", expected: KindRealtor, collection: "realtors"},
		{input: " Contractor ", expected: KindContractor, collection: "contractors"},
		{input: "realtors", wantErr: true},
		{input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			k, err := ParseKind(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownKind)
				assert.False(t, k.Valid())
				_, err := k.Collection()
				assert.ErrorIs(t, err, ErrUnknownKind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, k)
			coll, err := k.Collection()
			require.NoError(t, err)
			assert.Equal(t, tt.collection, coll)
		})
	}
}
