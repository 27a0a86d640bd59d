package crypto

import "testing"

func TestGenerateKeypairAddressFormat(t *testing.T) {
	kp, err := GenerateKeypair("alice")
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if kp.Address[0] != '@' {
		t.Errorf("address %q must start with '@'", kp.Address)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	svc := NewService()
	kp, err := GenerateKeypair("bob")
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	message := []byte("buy milk")
	sig, err := svc.Sign(kp, message)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	ok, err := svc.Verify(kp.Address, message, sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("a signature produced by Sign must verify against its own address")
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	svc := NewService()
	kp, err := GenerateKeypair("carol")
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	sig, err := svc.Sign(kp, []byte("buy milk"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	ok, err := svc.Verify(kp.Address, []byte("buy bread"), sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("Verify must reject a signature against a different message")
	}
}

func TestVerifyRejectsWrongAuthor(t *testing.T) {
	svc := NewService()
	signer, err := GenerateKeypair("dave")
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	other, err := GenerateKeypair("erin")
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	sig, err := svc.Sign(signer, []byte("hello"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	ok, err := svc.Verify(other.Address, []byte("hello"), sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("Verify must reject a signature against a different author's address")
	}
}

func TestHashDeterministicAndSensitive(t *testing.T) {
	svc := NewService()
	h1 := svc.Hash([]byte("buy milk"))
	h2 := svc.Hash([]byte("buy milk"))
	if h1 != h2 {
		t.Error("Hash must be deterministic for identical content")
	}
	if h1 == svc.Hash([]byte("buy bread")) {
		t.Error("Hash must differ for different content")
	}
}

func TestVerifyRejectsMalformedAddress(t *testing.T) {
	svc := NewService()
	_, err := svc.Verify("not-an-address", []byte("hi"), "xsomesig")
	if err == nil {
		t.Error("Verify must reject a malformed author address")
	}
}
