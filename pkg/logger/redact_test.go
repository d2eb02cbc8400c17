package logger

import "testing"

func TestRedact_TopLevelSensitiveKeys(t *testing.T) {
	in := map[string]interface{}{
		"password": "hunter2",
		"username": "alice",
	}
	out := Redact(in)
	if out["password"] != redactedPlaceholder {
		t.Errorf("password = %v, want redacted", out["password"])
	}
	if out["username"] != "alice" {
		t.Errorf("username = %v, want unchanged", out["username"])
	}
}

func TestRedact_NestedObjects(t *testing.T) {
	in := map[string]interface{}{
		"actor": map[string]interface{}{
			"email":       "a@school.test",
			"accessToken": "abc.def.ghi",
		},
	}
	out := Redact(in)
	nested := out["actor"].(map[string]interface{})
	if nested["accessToken"] != redactedPlaceholder {
		t.Errorf("nested accessToken = %v, want redacted", nested["accessToken"])
	}
	if nested["email"] != "a@school.test" {
		t.Errorf("nested email = %v, want unchanged", nested["email"])
	}
}

func TestRedact_Idempotent(t *testing.T) {
	in := map[string]interface{}{"jwt_token": "xyz", "note": "hello"}
	once := Redact(in)
	twice := Redact(once)
	if once["jwt_token"] != twice["jwt_token"] || once["note"] != twice["note"] {
		t.Error("Redact is not idempotent")
	}
}

func TestRedact_DoesNotMutateInput(t *testing.T) {
	in := map[string]interface{}{"password": "hunter2"}
	_ = Redact(in)
	if in["password"] != "hunter2" {
		t.Error("Redact mutated its input")
	}
}

func TestIsSensitiveKey(t *testing.T) {
	cases := map[string]bool{
		"password":        true,
		"Authorization":   true,
		"cookie":          true,
		"api_key":         true,
		"credit_card":     true,
		"ssn":             true,
		"user_name":       false,
		"email":           false,
		"role":            false,
	}
	for k, want := range cases {
		if got := isSensitiveKey(k); got != want {
			t.Errorf("isSensitiveKey(%q) = %v, want %v", k, got, want)
		}
	}
}
