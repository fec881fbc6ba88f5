package validation

import "testing"

func TestValidators(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"email", ValidateEmail("rider@campus.edu")},
		{"email no tld", !ValidateEmail("rider@campus")},
		{"phone", ValidatePhone("+919876543210")},
		{"phone letters", !ValidatePhone("call me")},
		{"name", ValidateName("Al")},
		{"name short", !ValidateName("A")},
		{"password", ValidatePassword("secret1")},
		{"password short", !ValidatePassword("abc")},
		{"gender empty", ValidateGender("")},
		{"gender female", ValidateGender("Female")},
		{"gender unknown", !ValidateGender("robot")},
		{"otp", ValidateOTP("012345")},
		{"otp short", !ValidateOTP("1234")},
	}
	for _, c := range cases {
		if !c.ok {
			t.Errorf("%s: unexpected result", c.name)
		}
	}
}

func TestParseDate(t *testing.T) {
	d, ok := ParseDate("2026-02-28")
	if !ok || d.Day() != 28 || d.Month() != 2 {
		t.Fatalf("ParseDate = %v, %v", d, ok)
	}
	if _, ok := ParseDate("2026-02-30"); ok {
		t.Fatal("accepted an impossible date")
	}
	if _, ok := ParseDate("28/02/2026"); ok {
		t.Fatal("accepted wrong layout")
	}
}
