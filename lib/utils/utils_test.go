package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEmail(t *testing.T) {
	assert.True(t, ValidateEmail("user@example.com"))
	assert.True(t, ValidateEmail("first.last+tag@sub.example.co"))
	assert.False(t, ValidateEmail("not-an-email"))
	assert.False(t, ValidateEmail("user@"))
	assert.False(t, ValidateEmail("@example.com"))
	assert.False(t, ValidateEmail(""))
}

func TestValidatePassword(t *testing.T) {
	assert.True(t, ValidatePassword("passw0rd"))
	assert.True(t, ValidatePassword("Abcdefg1"))
	assert.False(t, ValidatePassword("short1"))
	assert.False(t, ValidatePassword("allletters"))
	assert.False(t, ValidatePassword("12345678"))
	assert.False(t, ValidatePassword(""))
}
