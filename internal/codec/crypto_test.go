package codec

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestConcatSplitBuffers(t *testing.T) {
	a := []byte{1, 2, 3}
	b := []byte("chunk two")
	framed := ConcatBuffers(a, b)
	chunks, err := SplitBuffers(framed)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) != 2 || !bytes.Equal(chunks[0], a) || !bytes.Equal(chunks[1], b) {
		t.Fatalf("split mismatch: %v", chunks)
	}
}

func TestSplitBuffersIgnoresVersionValue(t *testing.T) {
	framed := ConcatBuffers([]byte{7}, []byte{8, 9})
	// an unknown future version must not break splitting
	binary.BigEndian.PutUint32(framed, 9999)
	chunks, err := SplitBuffers(framed)
	if err != nil {
		t.Fatalf("split with future version: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
}

func TestSplitBuffersTruncated(t *testing.T) {
	framed := ConcatBuffers([]byte{1, 2, 3, 4, 5})
	for _, cut := range []int{0, 3, 5, len(framed) - 1} {
		if _, err := SplitBuffers(framed[:cut]); err == nil {
			t.Fatalf("truncation at %d not detected", cut)
		}
	}
}

func TestDecryptDetectsTamperedIV(t *testing.T) {
	key, err := GenerateEncryptionKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	sealed, err := Encrypt(key, []byte("secret board"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	// flip one bit inside the IV chunk (first chunk after headers)
	tampered := append([]byte(nil), sealed...)
	tampered[versionHeaderBytes+chunkHeaderBytes] ^= 0x01
	if _, err := Decrypt(key, tampered); err == nil {
		t.Fatalf("tampered IV must fail authentication")
	}
}

func TestDecryptDetectsTamperedCiphertext(t *testing.T) {
	key, err := GenerateEncryptionKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	sealed, err := Encrypt(key, []byte("secret board"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0x01
	if _, err := Decrypt(key, tampered); err == nil {
		t.Fatalf("tampered ciphertext must fail authentication")
	}
}

func TestDecryptWrongKey(t *testing.T) {
	key1, _ := GenerateEncryptionKey()
	key2, _ := GenerateEncryptionKey()
	sealed, err := Encrypt(key1, []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := Decrypt(key2, sealed); err == nil {
		t.Fatalf("wrong key must fail")
	}
}

func TestRejectsBadKeys(t *testing.T) {
	if _, err := Encrypt("not base64!!", []byte("x")); err == nil {
		t.Fatalf("malformed key accepted")
	}
	if _, err := Encrypt("c2hvcnQ", []byte("x")); err == nil {
		t.Fatalf("short key accepted")
	}
}
