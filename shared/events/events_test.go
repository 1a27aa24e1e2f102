package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeEmptyBodyIsEmptyObject(t *testing.T) {
	var p UserCreated
	require.NoError(t, Decode(nil, &p))
	require.NoError(t, Decode([]byte("  \n"), &p))
	require.ElementsMatch(t, []string{"id", "email"}, Validate(p))
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	var p PostLiked
	err := Decode([]byte("{not json"), &p)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidPayload))
}

func TestValidateReportsJSONNames(t *testing.T) {
	p := PostLiked{PostID: "p1"}
	require.Equal(t, []string{"userId"}, Validate(p))

	p.UserID = "u1"
	require.Empty(t, Validate(p))
}

func TestTrimHelpers(t *testing.T) {
	email := "  a@b.c "
	name := " Ada "
	ptr := &name
	var nilPtr *string
	Trim(&email)
	TrimOptional(&ptr, &nilPtr)
	require.Equal(t, "a@b.c", email)
	require.Equal(t, "Ada", *ptr)
	require.Nil(t, nilPtr)
}
