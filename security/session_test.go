package security

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	m := NewManager()
	if err := m.GenerateKeypair(); err != nil {
		t.Fatal(err)
	}
	data := []byte("hello umicp")
	sig, err := m.Sign(data)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := m.Verify(data, sig)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected signature to verify")
	}

	if ok, _ := m.Verify([]byte("tampered"), sig); ok {
		t.Error("expected verification to fail for tampered data")
	}
}

func TestEstablishSessionRequiresPeerKey(t *testing.T) {
	m := NewManager()
	m.GenerateKeypair()
	if err := m.EstablishSession("peer-1"); err == nil {
		t.Fatal("expected error without a peer public key")
	}
}

func TestEstablishSessionAndEncryptRoundTrip(t *testing.T) {
	alice := NewManager()
	bob := NewManager()
	alice.GenerateKeypair()
	bob.GenerateKeypair()

	alicePub := publicDHKey(t, alice)
	bobPub := publicDHKey(t, bob)

	if err := alice.SetPeerPublicKey(bobPub); err != nil {
		t.Fatal(err)
	}
	if err := bob.SetPeerPublicKey(alicePub); err != nil {
		t.Fatal(err)
	}

	if err := alice.EstablishSession("bob"); err != nil {
		t.Fatal(err)
	}
	if err := bob.EstablishSession("alice"); err != nil {
		t.Fatal(err)
	}

	if !alice.IsAuthenticated() || !alice.HasSession() {
		t.Error("expected alice authenticated with a session")
	}

	ciphertext, err := alice.Encrypt([]byte("secret payload"))
	if err != nil {
		t.Fatal(err)
	}
	plain, err := bob.Decrypt(ciphertext)
	if err != nil {
		t.Fatal(err)
	}
	if string(plain) != "secret payload" {
		t.Errorf("expected round-tripped plaintext, got %q", plain)
	}
}

func TestDecryptWithoutSessionFails(t *testing.T) {
	m := NewManager()
	if _, err := m.Decrypt([]byte("anything")); err == nil {
		t.Fatal("expected error decrypting without a session")
	}
}

func TestCloseSessionClearsState(t *testing.T) {
	alice := NewManager()
	bob := NewManager()
	alice.GenerateKeypair()
	bob.GenerateKeypair()
	alice.SetPeerPublicKey(publicDHKey(t, bob))
	alice.EstablishSession("bob")

	alice.CloseSession()

	if alice.HasSession() || alice.IsAuthenticated() {
		t.Error("expected session state cleared")
	}
}

// publicDHKey extracts m's X25519 public key for the purposes of this
// test. There is no exported accessor; tests live in the same package,
// so they reach the concrete type's field directly.
func publicDHKey(t *testing.T, m Manager) []byte {
	t.Helper()
	impl, ok := m.(*manager)
	if !ok {
		t.Fatal("expected *manager")
	}
	impl.mu.RLock()
	defer impl.mu.RUnlock()
	out := make([]byte, 32)
	copy(out, impl.dhPub[:])
	return out
}
