package handlers

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestRegisterRequestValidate(t *testing.T) {
	req := registerRequest{
		Name:     "  Maya Chen ",
		Email:    "maya@example.com",
		Password: "correct horse",
	}
	if fields := req.validate(); fields != nil {
		t.Fatalf("unexpected validation errors: %v", fields)
	}
	if req.Name != "Maya Chen" {
		t.Fatalf("name not trimmed: %q", req.Name)
	}

	cases := []struct {
		name  string
		req   registerRequest
		field string
	}{
		{"missing name", registerRequest{Email: "a@b.com", Password: "longenough"}, "name"},
		{"bad email", registerRequest{Name: "A", Email: "nope", Password: "longenough"}, "email"},
		{"short password", registerRequest{Name: "A", Email: "a@b.com", Password: "short"}, "password"},
	}
	for _, tc := range cases {
		fields := tc.req.validate()
		if fields == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		if _, ok := fields[tc.field]; !ok {
			t.Fatalf("%s: expected error on %s, got %v", tc.name, tc.field, fields)
		}
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("open sesame"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte("open sesame")); err != nil {
		t.Fatalf("matching password rejected: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte("open says me")); err == nil {
		t.Fatal("wrong password accepted")
	}
}

func TestMembershipTypes(t *testing.T) {
	for _, tier := range []string{"none", "wellness", "restoration-plus", "therapeutic-elite"} {
		if !membershipTypes[tier] {
			t.Fatalf("tier %q should be valid", tier)
		}
	}
	if membershipTypes["platinum"] {
		t.Fatal("unknown tier accepted")
	}
}
