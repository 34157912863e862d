package cmd

import "testing"

func TestGeneratePassword_UniqueAndNonEmpty(t *testing.T) {
	a, err := generatePassword()
	if err != nil {
		t.Fatal(err)
	}
	b, err := generatePassword()
	if err != nil {
		t.Fatal(err)
	}

	if a == "" || b == "" {
		t.Fatal("generatePassword returned an empty string")
	}
	if a == b {
		t.Error("two calls to generatePassword produced the same value")
	}
}
