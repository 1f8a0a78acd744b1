package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFullName(t *testing.T) {
	assert.Equal(t, "Jeremy Stephens", (&Account{FirstName: "Jeremy", LastName: "Stephens"}).FullName())
	assert.Equal(t, "", (&Account{FirstName: "Jeremy"}).FullName())
	assert.Equal(t, "", (&Account{LastName: "Stephens"}).FullName())
}

func TestProfileData(t *testing.T) {
	t.Run("full profile", func(t *testing.T) {
		a := &Account{Username: "viking", FirstName: "Jeremy", LastName: "Stephens", Email: "v@example.com"}
		assert.Equal(t, map[string]string{
			"nickname": "viking",
			"fullname": "Jeremy Stephens",
			"email":    "v@example.com",
		}, a.ProfileData())
	})

	t.Run("sparse profile only carries what exists", func(t *testing.T) {
		a := &Account{Username: "viking"}
		assert.Equal(t, map[string]string{"nickname": "viking"}, a.ProfileData())
	})
}
