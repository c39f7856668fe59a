package security

import (
	"bytes"
	"testing"

	"github.com/orbitalci/orbital/pkg/types"
)

func TestNewCredentialStore(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{
			name:    "valid 32-byte key",
			key:     make([]byte, 32),
			wantErr: false,
		},
		{
			name:    "invalid short key",
			key:     make([]byte, 16),
			wantErr: true,
		},
		{
			name:    "invalid long key",
			key:     make([]byte, 64),
			wantErr: true,
		},
		{
			name:    "empty key",
			key:     []byte{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, err := NewCredentialStore(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewCredentialStore() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && cs == nil {
				t.Error("NewCredentialStore() returned nil without error")
			}
		})
	}
}

func TestNewCredentialStoreFromPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{
			name:     "valid password",
			password: "my-secure-password",
			wantErr:  false,
		},
		{
			name:     "empty password",
			password: "",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, err := NewCredentialStoreFromPassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewCredentialStoreFromPassword() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && cs == nil {
				t.Error("NewCredentialStoreFromPassword() returned nil without error")
			}
		})
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	key := make([]byte, 32)
	copy(key, []byte("test-encryption-key-32-bytes-!!"))

	cs, err := NewCredentialStore(key)
	if err != nil {
		t.Fatalf("Failed to create CredentialStore: %v", err)
	}

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{
			name:      "simple string",
			plaintext: []byte("hello world"),
		},
		{
			name:      "json data",
			plaintext: []byte(`{"agent_token":"ghp_abc123"}`),
		},
		{
			name:      "binary data",
			plaintext: []byte{0x00, 0x01, 0x02, 0xFF, 0xFE, 0xFD},
		},
		{
			name:      "large data",
			plaintext: bytes.Repeat([]byte("test"), 1000),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := cs.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}

			if bytes.Equal(ciphertext, tt.plaintext) {
				t.Error("ciphertext should not equal plaintext")
			}

			decrypted, err := cs.Decrypt(ciphertext)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}

			if !bytes.Equal(decrypted, tt.plaintext) {
				t.Errorf("decrypted data does not match original.\nGot:  %v\nWant: %v", decrypted, tt.plaintext)
			}
		})
	}
}

func TestEncrypt_Errors(t *testing.T) {
	key := make([]byte, 32)
	cs, _ := NewCredentialStore(key)

	tests := []struct {
		name      string
		plaintext []byte
		wantErr   bool
	}{
		{name: "empty data", plaintext: []byte{}, wantErr: true},
		{name: "nil data", plaintext: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cs.Encrypt(tt.plaintext)
			if (err != nil) != tt.wantErr {
				t.Errorf("Encrypt() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecrypt_Errors(t *testing.T) {
	key := make([]byte, 32)
	cs, _ := NewCredentialStore(key)

	tests := []struct {
		name       string
		ciphertext []byte
		wantErr    bool
	}{
		{name: "empty data", ciphertext: []byte{}, wantErr: true},
		{name: "nil data", ciphertext: nil, wantErr: true},
		{name: "too short data", ciphertext: []byte{0x01, 0x02}, wantErr: true},
		{name: "corrupted data", ciphertext: bytes.Repeat([]byte("x"), 100), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cs.Decrypt(tt.ciphertext)
			if (err != nil) != tt.wantErr {
				t.Errorf("Decrypt() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	key1 := make([]byte, 32)
	copy(key1, []byte("key-one-32-bytes-long-!!!!!!!!!!"))

	key2 := make([]byte, 32)
	copy(key2, []byte("key-two-32-bytes-long-!!!!!!!!!!"))

	cs1, _ := NewCredentialStore(key1)
	cs2, _ := NewCredentialStore(key2)

	plaintext := []byte("secret data")

	ciphertext, err := cs1.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	_, err = cs2.Decrypt(ciphertext)
	if err == nil {
		t.Error("Decrypt() should fail with wrong key")
	}
}

func TestCreateCredential(t *testing.T) {
	key := make([]byte, 32)
	cs, _ := NewCredentialStore(key)

	tests := []struct {
		name     string
		credName string
		value    []byte
		wantErr  bool
	}{
		{
			name:     "valid credential",
			credName: "codehost-token",
			value:    []byte("supersecret123"),
			wantErr:  false,
		},
		{
			name:     "empty name",
			credName: "",
			value:    []byte("data"),
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred, err := cs.CreateCredential("proj-1", tt.credName, tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("CreateCredential() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr {
				if cred == nil {
					t.Fatal("CreateCredential() returned nil credential")
				}
				if cred.Name != tt.credName {
					t.Errorf("credential name = %v, want %v", cred.Name, tt.credName)
				}
				if cred.ID == "" {
					t.Error("credential ID should not be empty")
				}
				if len(cred.Data) == 0 {
					t.Error("credential data should not be empty")
				}
			}
		})
	}
}

func TestPlaintextValue(t *testing.T) {
	key := make([]byte, 32)
	cs, _ := NewCredentialStore(key)

	plaintext := []byte("my-secret-value")
	cred, err := cs.CreateCredential("proj-1", "test-cred", plaintext)
	if err != nil {
		t.Fatalf("CreateCredential() error = %v", err)
	}

	data, err := cs.PlaintextValue(cred)
	if err != nil {
		t.Fatalf("PlaintextValue() error = %v", err)
	}

	if !bytes.Equal(data, plaintext) {
		t.Errorf("PlaintextValue() = %v, want %v", data, plaintext)
	}
}

func TestPlaintextValue_NilCredential(t *testing.T) {
	key := make([]byte, 32)
	cs, _ := NewCredentialStore(key)

	_, err := cs.PlaintextValue(nil)
	if err == nil {
		t.Error("PlaintextValue() should fail with nil credential")
	}
}

func TestDeriveKeyFromProjectID(t *testing.T) {
	tests := []struct {
		name      string
		projectID string
	}{
		{name: "simple ID", projectID: "project-123"},
		{name: "UUID", projectID: "550e8400-e29b-41d4-a716-446655440000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := DeriveKeyFromProjectID(tt.projectID)

			if len(key) != 32 {
				t.Errorf("DeriveKeyFromProjectID() returned key of length %d, want 32", len(key))
			}

			key2 := DeriveKeyFromProjectID(tt.projectID)
			if !bytes.Equal(key, key2) {
				t.Error("DeriveKeyFromProjectID() should be deterministic")
			}

			differentKey := DeriveKeyFromProjectID(tt.projectID + "-different")
			if bytes.Equal(key, differentKey) {
				t.Error("different project IDs should produce different keys")
			}
		})
	}
}

func TestRedactEvent(t *testing.T) {
	event := types.Event{
		Type:   types.EventWorkflowTransitioned,
		Source: "orchestrator",
		Payload: map[string]string{
			"workflow_id":  "wf-1",
			"agent_token":  "super-secret-token",
			"access_token": "another-secret",
		},
	}

	redacted := RedactEvent(event)
	if redacted.Payload["workflow_id"] != "wf-1" {
		t.Error("non-sensitive key should survive redaction unchanged")
	}
	if redacted.Payload["agent_token"] != redactedValue {
		t.Error("agent_token should be redacted")
	}
	if redacted.Payload["access_token"] != redactedValue {
		t.Error("access_token should be redacted")
	}
	if event.Payload["agent_token"] == redactedValue {
		t.Error("RedactEvent must not mutate the original event")
	}
}

func TestRedactEnv(t *testing.T) {
	env := map[string]string{
		"ORBITAL_SANDBOX_ID": "sb-1",
		"AGENT_API_TOKEN":    "secret",
		"CODEHOST_PASSWORD":  "secret2",
	}

	redacted := RedactEnv(env)
	if redacted["ORBITAL_SANDBOX_ID"] != "sb-1" {
		t.Error("non-sensitive key should survive redaction unchanged")
	}
	if redacted["AGENT_API_TOKEN"] != redactedValue {
		t.Error("*_TOKEN keys should be redacted")
	}
	if redacted["CODEHOST_PASSWORD"] != redactedValue {
		t.Error("*_PASSWORD keys should be redacted")
	}
}
