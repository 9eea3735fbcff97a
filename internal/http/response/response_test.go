package response

import (
	"testing"

	"github.com/go-playground/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusOKWithData(t *testing.T) {
	data := map[string]string{"key": "value"}
	resp := StatusOKWithData(data)

	assert.Equal(t, StatusOK, resp.Status)
	assert.Empty(t, resp.Error)
	assert.Equal(t, data, resp.Data)
}

func TestError(t *testing.T) {
	resp := Error("something went wrong")

	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "something went wrong", resp.Error)
}

func TestAuthRequiredAndUpgrade(t *testing.T) {
	a := AuthRequired("/auth?next=%2Fcheckout")
	assert.Equal(t, StatusError, a.Status)
	assert.Equal(t, "/auth?next=%2Fcheckout", a.Redirect)

	u := Upgrade("crisp-write", "/agents?upgrade=crisp-write")
	assert.Equal(t, "crisp-write", u.AgentID)
	assert.Equal(t, "/agents?upgrade=crisp-write", u.UpgradeURL)
}

func TestValidationError(t *testing.T) {
	type Item struct {
		Email    string `validate:"required,email"`
		Price    string `validate:"numeric"`
		Password string `validate:"min=8"`
		Quantity int    `validate:"gte=1"`
	}

	err := validator.New().Struct(Item{Email: "nope", Price: "abc", Password: "short"})
	require.Error(t, err)

	resp := ValidationError(err.(validator.ValidationErrors))
	assert.Equal(t, StatusError, resp.Status)
	assert.Contains(t, resp.Error, "field Email must be a valid email")
	assert.Contains(t, resp.Error, "field Price can contain only numbers")
	assert.Contains(t, resp.Error, "field Password must be at least 8")
	assert.Contains(t, resp.Error, "field Quantity must be greater than or equal to 1")
}
